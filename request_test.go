package marketdata

import "testing"

func TestValidSymbol(t *testing.T) {
	valid := []string{"SPY", "BRK.B", "BF-B", "A", "MSFT", "X123456789"}
	for _, s := range valid {
		if !ValidSymbol(s) {
			t.Errorf("ValidSymbol(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "spy", "TOOLONGSYMBOL", "AA PL", "AAPL$", "é"}
	for _, s := range invalid {
		if ValidSymbol(s) {
			t.Errorf("ValidSymbol(%q) = true, want false", s)
		}
	}
}
