package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

func newValidateTokensCmd(f *rootFlags) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate-tokens",
		Short: "Probe every configured token with one LTP call and print the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(f)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			checks := a.engine.ValidateTokens(ctx)
			a.console.PrintTokenChecks(checks)

			if bad := countFailed(checks); bad > 0 && (strict || bad == len(checks)) {
				return fmt.Errorf("%d of %d tokens failed validation", bad, len(checks))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero if any token fails")
	return cmd
}

func countFailed(checks []domain.TokenCheck) int {
	n := 0
	for _, c := range checks {
		if !c.OK {
			n++
		}
	}
	return n
}
