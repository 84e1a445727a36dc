package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

func newReportCmd(f *rootFlags) *cobra.Command {
	var from, to string
	var trades bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print per-day and total P&L from the trade ledger (sqlite backend)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(f)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.reporter == nil {
				return fmt.Errorf("report needs storage.backend=sqlite (have %q): %w",
					a.cfg.Storage.Backend, domain.ErrConfig)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			stats, err := a.reporter.GetTradeStats(ctx)
			if err != nil {
				return err
			}
			a.console.PrintTradeReport(stats)

			if !trades {
				return nil
			}
			start, end, err := reportRange(from, to, a.loc, time.Now())
			if err != nil {
				return err
			}
			list, err := a.reporter.GetTrades(ctx, start, end)
			if err != nil {
				return err
			}
			a.console.PrintTrades(list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&trades, "trades", false, "also list individual trades")
	cmd.Flags().StringVar(&from, "from", "", "first day to list, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last day to list, YYYY-MM-DD (default from)")
	return cmd
}

// reportRange turns inclusive YYYY-MM-DD bounds in loc into [start, end).
func reportRange(from, to string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	const layout = "2006-01-02"
	start := now.In(loc)
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	if from != "" {
		t, err := time.ParseInLocation(layout, from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from %q: %w", from, domain.ErrConfig)
		}
		start = t
	}
	last := start
	if to != "" {
		t, err := time.ParseInLocation(layout, to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to %q: %w", to, domain.ErrConfig)
		}
		last = t
	}
	if last.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to before --from: %w", domain.ErrConfig)
	}
	return start, last.AddDate(0, 0, 1), nil
}
