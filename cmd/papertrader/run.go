package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/papertrader/internal/adapters/dashboard"
)

const stopFile = "STOP"

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the paper trading loop until Ctrl+C, SIGTERM or a STOP file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(f)
			if err != nil {
				return err
			}
			defer a.Close()
			return runPaper(cmd.Context(), a)
		},
	}
}

func runPaper(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The engine context outlives the signal so the cycle in flight can
	// finish its calls after Stop.
	engineCtx, engineCancel := context.WithCancel(context.WithoutCancel(parent))
	defer engineCancel()

	if addr := a.cfg.Dashboard.Addr; addr != "" {
		d := dashboard.New(a.engine, a.cfg.PushInterval())
		if err := d.Start(addr); err != nil {
			return err
		}
		defer func() {
			ctx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			if err := d.Shutdown(ctx); err != nil {
				slog.Warn("papertrader: dashboard shutdown", "err", err)
			}
		}()
	}

	if err := a.engine.Start(engineCtx); err != nil {
		return err
	}

	slog.Info("papertrader: running, press Ctrl+C or create a STOP file to exit")
	fmt.Printf("[PAPER] polling every %s, entries %s-%s %s\n",
		a.cfg.PollInterval(), a.cfg.Trading.EntryAfter, a.cfg.Trading.ExitBy, a.loc)

	done := make(chan error, 1)
	go func() { done <- a.engine.Wait() }()

	status := time.NewTicker(a.cfg.StatusInterval())
	defer status.Stop()
	stopCheck := time.NewTicker(time.Second)
	defer stopCheck.Stop()

	var runErr error
loop:
	for {
		select {
		case runErr = <-done:
			break loop
		case <-sigCtx.Done():
			slog.Info("papertrader: stopping", "cause", "signal")
			a.engine.Stop()
			runErr = <-done
			break loop
		case <-stopCheck.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info("papertrader: stopping", "cause", "STOP file")
				_ = os.Remove(stopFile)
				a.engine.Stop()
				runErr = <-done
				break loop
			}
		case <-status.C:
			a.console.PrintSnapshot(a.engine.Snapshot())
		}
	}

	a.console.PrintSnapshot(a.engine.Snapshot())
	a.console.PrintTokenStatuses(a.engine.Statuses())
	if runErr != nil {
		return fmt.Errorf("paper engine stopped: %w", runErr)
	}
	slog.Info("papertrader: stopped cleanly")
	return nil
}
