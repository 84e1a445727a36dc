package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

// Console prints engine state, credential tables and trade reports.
type Console struct {
	out io.Writer
	loc *time.Location
	now func() time.Time
}

// NewConsole creates a console that writes to stdout, showing times in loc.
func NewConsole(loc *time.Location) *Console {
	return NewConsoleWriter(os.Stdout, loc)
}

// NewConsoleWriter creates a console for tests.
func NewConsoleWriter(w io.Writer, loc *time.Location) *Console {
	if loc == nil {
		loc = time.Local
	}
	return &Console{out: w, loc: loc, now: time.Now}
}

// PrintTokenStatuses prints one row per credential. Tokens are masked.
func (c *Console) PrintTokenStatuses(statuses []domain.Credential) {
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "  No credentials configured.")
		return
	}

	active := 0
	for _, s := range statuses {
		if s.Active {
			active++
		}
	}
	fmt.Fprintf(c.out, "\n  Credentials: %d/%d active\n", active, len(statuses))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Token", "Status", "Calls", "Last used", "Last error")
	for i, s := range statuses {
		status := "active"
		if !s.Active {
			status = "FAILED"
		}
		lastUsed := "-"
		if !s.LastUsedAt.IsZero() {
			lastUsed = s.LastUsedAt.In(c.loc).Format("15:04:05")
		}
		lastErr := s.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			s.Masked(),
			status,
			fmt.Sprintf("%d", s.CallsMade),
			lastUsed,
			truncate(lastErr, 60),
		)
	}
	table.Render()
}

// PrintTokenChecks prints the outcome of a validation run.
func (c *Console) PrintTokenChecks(checks []domain.TokenCheck) {
	ok := 0
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Token", "Result", "Message")
	for i, chk := range checks {
		result := "FAIL"
		if chk.OK {
			result = "OK"
			ok++
		}
		table.Append(fmt.Sprintf("%d", i+1), chk.Token, result, truncate(chk.Message, 70))
	}
	table.Render()
	fmt.Fprintf(c.out, "  %d/%d credentials usable\n", ok, len(checks))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func signed(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.2f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
