// Package positions es el dueño del ciclo de vida de cada posición:
// OPEN → SETTLED_WIN | SETTLED_LOSS | SETTLED_VOID.
package positions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
)

// Releaser devuelve capital al ledger al liquidar.
type Releaser interface {
	Release(amount, pnl float64) error
}

// Recorder recibe cada posición liquidada (PnLTracker).
type Recorder interface {
	Record(p domain.Position)
}

// Tracker guarda todas las posiciones, abiertas y liquidadas. Nunca borra.
//
// mu protege el mapa para lecturas concurrentes del dashboard.
// settleMu serializa las liquidaciones para que el chequeo de estado
// terminal y el release sean atómicos frente a entregas duplicadas.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
	order     []string // ids en orden de apertura

	settleMu sync.Mutex
	ledger   Releaser
	journal  ports.TradeJournal
	pnl      Recorder
	alerts   ports.AlertSink
}

// New crea un Tracker vacío.
func New(ledger Releaser, journal ports.TradeJournal, pnl Recorder, alerts ports.AlertSink) *Tracker {
	return &Tracker{
		positions: make(map[string]domain.Position),
		ledger:    ledger,
		journal:   journal,
		pnl:       pnl,
		alerts:    alerts,
	}
}

// Register añade una posición recién abierta por el OrderExecutor.
func (t *Tracker) Register(p domain.Position) error {
	if p.Status != domain.StatusOpen {
		return fmt.Errorf("positions.Register: %s has status %s, want OPEN", p.ID, p.Status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.positions[p.ID]; ok {
		return fmt.Errorf("positions.Register: duplicate id %s", p.ID)
	}
	t.positions[p.ID] = p
	t.order = append(t.order, p.ID)
	return nil
}

// Restore reemplaza el contenido con las posiciones leídas del journal.
func (t *Tracker) Restore(ps []domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]domain.Position, len(ps))
	t.order = t.order[:0]
	for _, p := range ps {
		if _, ok := t.positions[p.ID]; !ok {
			t.order = append(t.order, p.ID)
		}
		t.positions[p.ID] = p
	}
}

// Get devuelve una copia de la posición.
func (t *Tracker) Get(id string) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[id]
	return p, ok
}

// List devuelve las posiciones con el estado dado ("" = todas), en orden de apertura.
func (t *Tracker) List(status domain.PositionStatus) []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Position, 0, len(t.order))
	for _, id := range t.order {
		p := t.positions[id]
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

// Open devuelve las posiciones OPEN.
func (t *Tracker) Open() []domain.Position {
	return t.List(domain.StatusOpen)
}

// OpenCount cuenta las posiciones OPEN.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.positions {
		if p.Status == domain.StatusOpen {
			n++
		}
	}
	return n
}

// HeldMarkets devuelve el set de market IDs que respaldan una posición OPEN.
func (t *Tracker) HeldMarkets() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	held := make(map[string]bool)
	for _, p := range t.positions {
		if p.Status == domain.StatusOpen {
			held[p.MarketID] = true
		}
	}
	return held
}

// DeployedCapital suma el capital comprometido en posiciones OPEN.
func (t *Tracker) DeployedCapital() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sum float64
	for _, p := range t.positions {
		if p.Status == domain.StatusOpen {
			sum += p.Capital
		}
	}
	return sum
}

// Trades devuelve las posiciones liquidadas, la más reciente primero.
// limit <= 0 devuelve todas.
func (t *Tracker) Trades(limit int) []domain.Position {
	t.mu.RLock()
	out := make([]domain.Position, 0)
	for _, p := range t.positions {
		if p.Status.Terminal() {
			out = append(out, p)
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return settledAt(out[i]).After(settledAt(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Quiesce ejecuta fn sin ninguna liquidación en curso.
func (t *Tracker) Quiesce(fn func()) {
	t.settleMu.Lock()
	defer t.settleMu.Unlock()
	fn()
}

// Settle aplica la resolución a la posición. Devuelve la posición resultante
// y si hubo transición. Resoluciones pendientes y posiciones ya terminales
// son no-ops: la entrega at-least-once del poller no duplica nada.
func (t *Tracker) Settle(ctx context.Context, id string, res domain.Resolution, now time.Time) (domain.Position, bool, error) {
	t.settleMu.Lock()
	defer t.settleMu.Unlock()

	p, ok := t.Get(id)
	if !ok {
		return domain.Position{}, false, fmt.Errorf("positions.Settle: %s: %w", id, domain.ErrPositionNotFound)
	}
	if !res.Resolved || p.Status.Terminal() {
		return p, false, nil
	}

	status, pnl := Outcome(p, res.Outcome)
	settled := p
	settled.Status = status
	settled.FinalPrice = res.FinalPrice
	settled.RealizedPnL = &pnl
	settledTime := now.UTC()
	settled.SettledAt = &settledTime

	// Durable antes de darse por completada
	if err := t.journal.RecordSettle(ctx, settled); err != nil {
		slog.Error("settle journal failed", "position", id, "market", p.Slug, "err", err)
		t.alerts.Emit(domain.AlertEvent{
			Type:     domain.AlertLedgerError,
			Severity: domain.SeverityError,
			Title:    "Settlement journal failed",
			Message:  fmt.Sprintf("could not journal settlement of %s, position stays open: %v", p.Slug, err),
			Fields: map[string]string{
				"position": id,
				"outcome":  string(res.Outcome),
			},
			At: now,
		})
		return p, false, fmt.Errorf("positions.Settle: journal %s: %w", id, err)
	}

	releaseErr := t.ledger.Release(settled.Capital, pnl)

	t.mu.Lock()
	t.positions[id] = settled
	t.mu.Unlock()

	// El PnL sigue al estado terminal aunque falle el ledger
	t.pnl.Record(settled)

	if releaseErr != nil {
		slog.Error("ledger release failed", "position", id, "capital", settled.Capital, "pnl", pnl, "err", releaseErr)
		t.alerts.Emit(domain.AlertEvent{
			Type:     domain.AlertLedgerError,
			Severity: domain.SeverityCritical,
			Title:    "Ledger release failed",
			Message:  fmt.Sprintf("release of %.2f for %s failed: %v", settled.Capital, settled.Slug, releaseErr),
			At:       now,
		})
		return settled, true, fmt.Errorf("positions.Settle: release %s: %w", id, releaseErr)
	}

	slog.Info("position settled",
		"position", id,
		"market", settled.Slug,
		"status", settled.Status,
		"pnl", fmt.Sprintf("%.2f", pnl),
	)
	t.alerts.Emit(settledAlert(settled, now))
	return settled, true, nil
}

// Outcome calcula el estado terminal y el PnL de una posición YES.
//   - yes:  shares × (1 − entry)
//   - no:   −shares × entry
//   - void: 0, capital devuelto
func Outcome(p domain.Position, outcome domain.Outcome) (domain.PositionStatus, float64) {
	switch outcome {
	case domain.OutcomeYes:
		return domain.StatusSettledWin, p.Shares * (1 - p.EntryPrice)
	case domain.OutcomeNo:
		return domain.StatusSettledLoss, -p.Shares * p.EntryPrice
	default:
		return domain.StatusSettledVoid, 0
	}
}

func settledAlert(p domain.Position, now time.Time) domain.AlertEvent {
	sev := domain.SeverityInfo
	title := "Position settled"
	switch p.Status {
	case domain.StatusSettledLoss:
		sev = domain.SeverityWarning
		title = "Position lost"
	case domain.StatusSettledWin:
		title = "Position won"
	case domain.StatusSettledVoid:
		title = "Position voided"
	}
	return domain.AlertEvent{
		Type:     domain.AlertPositionSettled,
		Severity: sev,
		Title:    title,
		Message:  fmt.Sprintf("%s %s pnl %.2f", p.Slug, p.Status, p.PnL()),
		Fields: map[string]string{
			"position": p.ID,
			"market":   p.Slug,
			"entry":    fmt.Sprintf("%.4f", p.EntryPrice),
			"shares":   fmt.Sprintf("%.2f", p.Shares),
			"pnl":      fmt.Sprintf("%.2f", p.PnL()),
		},
		At: now,
	}
}

func settledAt(p domain.Position) time.Time {
	if p.SettledAt == nil {
		return time.Time{}
	}
	return *p.SettledAt
}
