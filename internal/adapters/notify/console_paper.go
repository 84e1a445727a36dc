package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

// PrintSnapshot prints a compact status line for the paper engine, followed
// by the open position and the last error, if any.
func (c *Console) PrintSnapshot(snap domain.Snapshot) {
	now := c.now().In(c.loc).Format("15:04:05")

	state := "stopped"
	if snap.Running {
		state = "running"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s][PAPER] %s | pos %d | realized %s | unrealized %s | day %s | streak %d | token %s",
		now, state, len(snap.Positions),
		signed(snap.RealizedPnL), signed(snap.UnrealizedPnL), signed(snap.DailyPnL),
		snap.LossStreak, snap.ActiveToken)

	for _, p := range snap.Positions {
		ltp := "-"
		if price, ok := snap.Prices[p.Symbol]; ok {
			ltp = fmt.Sprintf("%.2f", price)
		}
		fmt.Fprintf(&sb, "\n  >> %s x%d @ %.2f | ltp %s | sl %.2f | tgt %.2f",
			p.Symbol, p.Quantity, p.EntryPrice, ltp, p.StopLoss, p.Target)
	}

	if len(snap.Prices) > 0 {
		syms := make([]string, 0, len(snap.Prices))
		for s := range snap.Prices {
			syms = append(syms, s)
		}
		sort.Strings(syms)
		sb.WriteString("\n  px")
		for _, s := range syms {
			fmt.Fprintf(&sb, " %s=%.2f", s, snap.Prices[s])
		}
	}

	if snap.LastError != "" {
		fmt.Fprintf(&sb, "\n  !! %s", snap.LastError)
	}

	fmt.Fprintln(c.out, sb.String())
}

// PrintTradeReport prints per-day aggregates and totals of the ledger.
func (c *Console) PrintTradeReport(stats domain.TradeStats) {
	if stats.TotalTrades == 0 {
		fmt.Fprintln(c.out, "\n  No paper trades yet. Run the engine during market hours first.")
		return
	}

	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  PAPER TRADING REPORT\n")
	if n := len(stats.Dailies); n > 0 {
		fmt.Fprintf(c.out, "  %s to %s (%d days)\n",
			stats.Dailies[0].Date.Format("2006-01-02"),
			stats.Dailies[n-1].Date.Format("2006-01-02"),
			n)
	}
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(stats.Dailies) > 0 {
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Date", "Trades", "Wins", "Losses", "P&L", "Best", "Worst")
		for _, d := range stats.Dailies {
			tbl.Append(
				d.Date.Format("2006-01-02"),
				fmt.Sprintf("%d", d.Trades),
				fmt.Sprintf("%d", d.Wins),
				fmt.Sprintf("%d", d.Losses),
				signed(d.PnL),
				signed(d.Best),
				signed(d.Worst),
			)
		}
		tbl.Render()
	}

	fmt.Fprintf(c.out, "\n  --- AGGREGATE ---\n")
	fmt.Fprintf(c.out, "  Total trades:          %d\n", stats.TotalTrades)
	fmt.Fprintf(c.out, "  Wins / losses:         %d / %d\n", stats.Wins, stats.Losses)
	fmt.Fprintf(c.out, "  Win rate:              %.1f%%\n", stats.WinRate()*100)
	fmt.Fprintf(c.out, "  Total P&L:             %s\n", signed(stats.TotalPnL))
	if n := len(stats.Dailies); n > 0 {
		fmt.Fprintf(c.out, "  Daily avg P&L:         %s\n", signed(stats.TotalPnL/float64(n)))
	}
	fmt.Fprintln(c.out)
}

// PrintTrades prints ledger rows in the order given.
func (c *Console) PrintTrades(trades []domain.TradeRecord) {
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "  No trades in range.")
		return
	}

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("#", "Closed", "Symbol", "Qty", "Entry", "SL", "Target", "Sold", "P&L", "Reason")
	for _, t := range trades {
		tbl.Append(
			fmt.Sprintf("%d", t.Seq),
			t.ClosedAt.In(c.loc).Format("2006-01-02 15:04"),
			t.Symbol,
			fmt.Sprintf("%d", t.Quantity),
			fmt.Sprintf("%.2f", t.EntryPrice),
			fmt.Sprintf("%.2f", t.StopLoss),
			fmt.Sprintf("%.2f", t.Target),
			fmt.Sprintf("%.2f", t.SoldPrice),
			signed(t.PnL),
			string(t.Reason),
		)
	}
	tbl.Render()
}
