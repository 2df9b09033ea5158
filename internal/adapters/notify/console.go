package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console imprime el estado del paper trader y sirve como AlertSender.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewConsole crea un Console que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now}
}

// NewConsoleWriter crea un Console para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// Name implementa ports.AlertSender.
func (c *Console) Name() string { return "console" }

// Send imprime la alerta en una línea. Nunca falla.
func (c *Console) Send(_ context.Context, e domain.AlertEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	at := e.At
	if at.IsZero() {
		at = c.now()
	}
	fmt.Fprintf(c.out, "[%s][ALERT][%s] %s: %s%s\n",
		at.Format("15:04:05"), e.Severity, e.Title, e.Message, formatFields(e.Fields))
	return nil
}

// TickLine es lo que PrintTick necesita de un tick.
type TickLine struct {
	At        time.Time
	Markets   int
	Qualified int
	Opened    []domain.Position
	Skips     int
	Skipped   bool
	Open      int
	MaxOpen   int
	Account   domain.LedgerAccount
	TotalPnL  float64
}

// PrintTick imprime el resumen compacto de un tick.
func (c *Console) PrintTick(in TickLine) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := in.At.Format("15:04:05")
	if in.Skipped {
		fmt.Fprintf(c.out, "[%s][PAPER] feed unavailable, tick skipped\n", now)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s][PAPER] %d mkts | %d qualified | +%d opened | %d skip | %d/%d open | avail $%.2f | deployed $%.2f | pnl $%+.2f",
		now, in.Markets, in.Qualified, len(in.Opened), in.Skips, in.Open, in.MaxOpen,
		in.Account.Available, in.Account.Deployed, in.TotalPnL)
	for _, p := range in.Opened {
		fmt.Fprintf(&sb, "\n  → BUY YES %s @ %.4f  $%.2f (%.2f shares, edge %.2f%%)",
			truncate(p.Slug, 40), p.EntryPrice, p.Capital, p.Shares, p.Edge*100)
	}
	fmt.Fprintln(c.out, sb.String())
}

// Report agrupa el read model para el reporte completo.
type Report struct {
	Status    domain.BotStatus
	PnL       domain.PnLSnapshot
	Open      []domain.Position
	Trades    []domain.Position
	Journaled int // entradas del journal, 0 = no se muestra
}

// PrintReport imprime saldos, estadísticas y tablas de posiciones.
func (c *Console) PrintReport(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                 SETTLEMENT ARBITRAGE — PAPER                 ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")

	acc := r.Status.Ledger
	p := r.PnL
	if !r.Status.StartedAt.IsZero() {
		fmt.Fprintf(c.out, "  Running:      since %s (%d ticks, %d skipped)\n",
			r.Status.StartedAt.Format("2006-01-02 15:04:05"), r.Status.Ticks, r.Status.SkippedTicks)
	}
	fmt.Fprintf(c.out, "  Balance:      $%.2f (initial $%.2f, %+.2f%%)\n",
		acc.Total, p.InitialBalance, pct(acc.Total-p.InitialBalance, p.InitialBalance))
	fmt.Fprintf(c.out, "  Available:    $%.2f | Deployed: $%.2f | Open: %d/%d\n",
		acc.Available, acc.Deployed, len(r.Open), r.Status.MaxPositions)
	fmt.Fprintf(c.out, "  Trades:       %d (W:%d L:%d V:%d) win rate %.1f%%\n",
		p.TotalTrades, p.Wins, p.Losses, p.Voids, p.WinRate*100)
	fmt.Fprintf(c.out, "  Net P&L:      $%+.2f (gross +$%.2f / -$%.2f)\n", p.TotalPnL, p.GrossProfit, p.GrossLoss)
	fmt.Fprintf(c.out, "  Avg win/loss: $%.2f / $%.2f | profit factor %s\n",
		p.AverageWin, p.AverageLoss, profitFactorLabel(p.ProfitFactor))
	fmt.Fprintf(c.out, "  Drawdown:     %.2f%% now, %.2f%% max (peak $%.2f)\n",
		p.CurrentDrawdown*100, p.MaxDrawdown*100, p.PeakEquity)
	if r.Journaled > 0 {
		fmt.Fprintf(c.out, "  Journal:      %d entries\n", r.Journaled)
	}

	fmt.Fprintf(c.out, "\n── OPEN POSITIONS (%d) ──\n", len(r.Open))
	if len(r.Open) > 0 {
		c.printOpen(r.Open)
	} else {
		fmt.Fprintln(c.out, "  (none)")
	}

	fmt.Fprintf(c.out, "\n── RECENT TRADES (%d) ──\n", len(r.Trades))
	if len(r.Trades) > 0 {
		c.printTrades(r.Trades)
	} else {
		fmt.Fprintln(c.out, "  (none)")
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printOpen(ps []domain.Position) {
	sorted := append([]domain.Position(nil), ps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MarketEndDate.Before(sorted[j].MarketEndDate)
	})

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Entry", "Shares", "Capital", "Edge", "Closes", "Age")
	now := c.now()
	for _, p := range sorted {
		table.Append(
			truncate(p.Slug, 40),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.2f", p.Shares),
			fmt.Sprintf("$%.2f", p.Capital),
			fmt.Sprintf("%.2f%%", p.Edge*100),
			p.MarketEndDate.Format("01-02 15:04:05"),
			now.Sub(p.OpenedAt).Truncate(time.Second).String(),
		)
	}
	table.Render()
}

func (c *Console) printTrades(ps []domain.Position) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Result", "Entry", "Final", "Capital", "PnL", "Settled")
	for _, p := range ps {
		settled := "-"
		if p.SettledAt != nil {
			settled = p.SettledAt.Format("01-02 15:04:05")
		}
		table.Append(
			truncate(p.Slug, 40),
			resultLabel(p.Status),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.FinalPrice),
			fmt.Sprintf("$%.2f", p.Capital),
			fmt.Sprintf("$%+.2f", p.PnL()),
			settled,
		)
	}
	table.Render()
}

// --- helpers ---

func resultLabel(s domain.PositionStatus) string {
	switch s {
	case domain.StatusSettledWin:
		return "WIN"
	case domain.StatusSettledLoss:
		return "LOSS"
	case domain.StatusSettledVoid:
		return "VOID"
	}
	return string(s)
}

func profitFactorLabel(pf float64) string {
	if math.IsInf(pf, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f", pf)
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(" |")
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, fields[k])
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func pct(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}
