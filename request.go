package marketdata

import (
	"regexp"
	"strings"
	"time"
)

// symbolPattern accepts upper-case US equity symbols such as SPY, BRK.B
// and BF-B.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// ValidSymbol reports whether s is an acceptable, already upper-cased
// symbol. Adapters re-check it at their boundary.
func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}

// Request describes one GetPrices call. Start and End are inclusive
// calendar dates; any time-of-day component is ignored.
type Request struct {
	Symbol    string
	Start     time.Time
	End       time.Time
	Frequency Frequency // zero value means FrequencyDaily
	Provider  Provider  // zero value means ProviderAuto
	Refresh   bool
}

// normalize upper-cases the symbol, fills defaulted fields and truncates
// the interval endpoints to UTC midnight.
func (r Request) normalize() Request {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Frequency == "" {
		r.Frequency = FrequencyDaily
	}
	if r.Provider == "" {
		r.Provider = ProviderAuto
	}
	r.Start = day(r.Start)
	r.End = day(r.End)
	return r
}

// validate checks a normalized request. All violations are reported in a
// single pass so a caller sees every problem at once.
func (r Request) validate(today time.Time) error {
	var problems []string

	if !symbolPattern.MatchString(r.Symbol) {
		problems = append(problems, "symbol must be 1-10 characters of A-Z, 0-9, '.' or '-'")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		problems = append(problems, "start and end dates are required")
	} else {
		if r.End.Before(r.Start) {
			problems = append(problems, "end date precedes start date")
		}
		if r.Start.Before(epoch) {
			problems = append(problems, "start date precedes 1970-01-01")
		}
		if r.End.After(today) {
			problems = append(problems, "end date is in the future")
		}
	}
	if r.Frequency != FrequencyDaily {
		problems = append(problems, "frequency must be daily")
	}
	switch r.Provider {
	case ProviderBarchart, ProviderTiingo, ProviderAuto:
	default:
		problems = append(problems, "provider must be barchart, tiingo or auto")
	}

	if len(problems) > 0 {
		return InvalidInput("invalid request for %q: %s", r.Symbol, strings.Join(problems, "; "))
	}
	return nil
}

func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
