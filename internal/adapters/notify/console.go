package notify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/goaltrader/internal/adapters/storage"
	"github.com/alejandrodnm/goaltrader/internal/application/trader"
	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// Console imprime informes legibles del trader.
type Console struct {
	out io.Writer
}

// NewConsole crea un Console que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un Console para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// ReportInput agrupa los datos del informe histórico.
type ReportInput struct {
	Since       time.Time
	Stats       storage.TradeStats
	Trades      []domain.ManagedPosition // más recientes primero
	Redemptions []domain.RedeemOutcome
}

// PrintReport imprime el informe completo de trades cerrados y redenciones.
func (c *Console) PrintReport(in ReportInput) {
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                     GOAL TRADING REPORT                      ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")

	s := in.Stats
	if !in.Since.IsZero() {
		fmt.Fprintf(c.out, "  Since:     %s\n", in.Since.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(c.out, "  Trades:    %d (W:%d L:%d, %.0f%% win rate)\n", s.Trades, s.Wins, s.Losses, s.WinRate())
	fmt.Fprintf(c.out, "  Net P&L:   $%.2f\n", s.TotalPnL)
	if s.Trades > 0 {
		fmt.Fprintf(c.out, "  Best:      $%.2f | Worst: $%.2f\n", s.BestPnL, s.WorstPnL)
	}

	fmt.Fprintf(c.out, "\n── CLOSED TRADES (%d) ──\n", len(in.Trades))
	if len(in.Trades) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	} else {
		c.printTrades(in.Trades)
	}

	fmt.Fprintf(c.out, "\n── REDEMPTIONS (%d) ──\n", len(in.Redemptions))
	if len(in.Redemptions) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	} else {
		c.PrintRedemptions(in.Redemptions)
	}
}

// printTrades imprime la tabla de trades cerrados.
func (c *Console) printTrades(trades []domain.ManagedPosition) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Closed", "Event", "Goal", "Side", "Entry", "Exit", "Shares", "Reason", "PnL")

	for _, p := range trades {
		table.Append(
			p.ExitTime.Local().Format("01-02 15:04"),
			domain.TruncateStr(p.Label, 32),
			string(p.Goal),
			string(p.Side),
			fmt.Sprintf("%.3f", p.EntryTokenPrice),
			fmt.Sprintf("%.3f", p.ExitPrice),
			fmt.Sprintf("%.2f", p.Shares),
			string(p.ExitReason),
			fmt.Sprintf("$%.2f", p.PnL),
		)
	}
	table.Render()
}

// PrintRedemptions imprime el resultado de una pasada de settlement.
func (c *Console) PrintRedemptions(outcomes []domain.RedeemOutcome) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Title", "Path", "OK", "Tx / Error")

	for _, o := range outcomes {
		detail := o.TxHash
		if !o.Success {
			detail = o.Error
		}
		ok := "no"
		if o.Success {
			ok = "yes"
		}
		title := o.Title
		if title == "" {
			title = o.AssetID
		}
		table.Append(domain.TruncateStr(title, 36), string(o.Path), ok, domain.TruncateStr(detail, 48))
	}
	table.Render()
}

// PrintStatus imprime el estado del trader en una línea.
func (c *Console) PrintStatus(s trader.Snapshot, armed bool) {
	mode := "SIM"
	if armed {
		mode = "LIVE"
	}
	state := "off"
	if s.Enabled {
		state = "on"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s trader:%s open:%d pending:%d W:%d L:%d pnl $%.2f (unrl $%.2f)",
		time.Now().Format("15:04:05"), mode, state, len(s.Open), len(s.Pending),
		s.Wins, s.Losses, s.RealizedPnL, s.UnrealizedPnL)
	if s.FastestSource != "" {
		fmt.Fprintf(&sb, " fastest:%s", s.FastestSource)
	}
	for i, p := range s.Open {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&sb, " | %s %s %.2f→%.2f", domain.TruncateStr(p.Label, 24), p.Side, p.EntryPrice, p.LastPrice)
	}
	fmt.Fprintln(c.out, sb.String())
}
