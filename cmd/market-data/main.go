// Command market-data fetches historical daily price bars into the local
// cache and prints them as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"marketdata"
	"marketdata/barchart"
	"marketdata/store"
	"marketdata/tiingo"
)

const dateFormat = "2006-01-02"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defaults := marketdata.DefaultConfig()

	cmd := &cli.Command{
		Name:  "market-data",
		Usage: "cache-first historical daily price bars",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path to the sqlite database",
				Value:   defaults.DBPath,
				Sources: cli.EnvVars("MARKET_DATA_DB"),
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "directory holding credentials.json and barchart_cookies.json",
				Value:   defaults.ConfigDir,
				Sources: cli.EnvVars("MARKET_DATA_CONFIG_DIR"),
			},
		},
		Commands: []*cli.Command{
			fetchCommand(),
			clearCommand(),
			statsCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) marketdata.Config {
	cfg := marketdata.DefaultConfig()
	cfg.DBPath = cmd.String("db")
	cfg.ConfigDir = cmd.String("config-dir")
	return cfg
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "fetch daily bars for one or more symbols",
		ArgsUsage: "SYMBOL [SYMBOL...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "first date, inclusive (YYYY-MM-DD)", Required: true},
			&cli.StringFlag{Name: "end", Usage: "last date, inclusive (YYYY-MM-DD)", Required: true},
			&cli.StringFlag{Name: "provider", Usage: "barchart, tiingo or auto", Value: string(marketdata.ProviderAuto)},
			&cli.BoolFlag{Name: "refresh", Usage: "refetch the interval even when cached"},
			&cli.IntFlag{Name: "concurrency", Usage: "symbols fetched in parallel", Value: 1},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			symbols := cmd.Args().Slice()
			if len(symbols) == 0 {
				return fmt.Errorf("at least one symbol is required")
			}
			start, err := time.ParseInLocation(dateFormat, cmd.String("start"), time.UTC)
			if err != nil {
				return fmt.Errorf("parse --start: %w", err)
			}
			end, err := time.ParseInLocation(dateFormat, cmd.String("end"), time.UTC)
			if err != nil {
				return fmt.Errorf("parse --end: %w", err)
			}

			cfg := loadConfig(cmd)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			svc := marketdata.NewService(st, barchart.New(cfg), tiingo.New(cfg))

			// Bars for one symbol are fetched sequentially; distinct symbols
			// may run in parallel. The adapters' pacers still bound the
			// effective request rate.
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(int(cmd.Int("concurrency")))

			results := make([]*marketdata.Result, len(symbols))
			for i, symbol := range symbols {
				g.Go(func() error {
					res, err := svc.GetPrices(gctx, marketdata.Request{
						Symbol:   symbol,
						Start:    start,
						End:      end,
						Provider: marketdata.Provider(cmd.String("provider")),
						Refresh:  cmd.Bool("refresh"),
					})
					if err != nil {
						return fmt.Errorf("%s: %w", symbol, err)
					}
					results[i] = res
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, res := range results {
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "delete cached bars",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbol", Usage: "limit to one symbol (all symbols when omitted)"},
			&cli.StringFlag{Name: "provider", Usage: "limit to one provider (all providers when omitted)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := loadConfig(cmd)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := st.Clear(ctx, cmd.String("symbol"), marketdata.Provider(cmd.String("provider")))
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d bars\n", n)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "summarize the local cache",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := loadConfig(cmd)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("bars:    %d\n", stats.TotalBars)
			fmt.Printf("symbols: %d\n", stats.UniqueSymbols)
			if !stats.OldestDate.IsZero() {
				fmt.Printf("range:   %s .. %s\n", stats.OldestDate.Format(dateFormat), stats.NewestDate.Format(dateFormat))
			}
			fmt.Printf("size:    %d bytes\n", stats.FileSizeBytes)
			return nil
		},
	}
}
