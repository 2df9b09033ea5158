// Package execution simula el fill de órdenes en paper trading.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
	"github.com/google/uuid"
)

// Funds es la parte del ledger que usa el executor.
type Funds interface {
	Reserve(amount float64) error
	Release(amount, pnl float64) error
}

// Registrar recibe las posiciones abiertas (PositionTracker).
type Registrar interface {
	Register(p domain.Position) error
}

// Executor abre posiciones al precio observado, sin slippage.
type Executor struct {
	funds   Funds
	journal ports.TradeJournal
	tracker Registrar
	alerts  ports.AlertSink
	now     func() time.Time
	newID   func() string
}

// New crea un Executor.
func New(funds Funds, journal ports.TradeJournal, tracker Registrar, alerts ports.AlertSink) *Executor {
	return &Executor{
		funds:   funds,
		journal: journal,
		tracker: tracker,
		alerts:  alerts,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithClock reemplaza el reloj (tests y replay).
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute reserva el capital, abre la posición y la registra.
//
// Falta de fondos (el RiskManager dimensionó contra una vista vieja del
// ledger) no es un error: el intent se descarta, se emite capacity_skip
// y se devuelve (nil, nil).
func (e *Executor) Execute(ctx context.Context, intent domain.OrderIntent) (*domain.Position, error) {
	if intent.Capital <= 0 || intent.EntryPrice <= 0 || intent.Shares <= 0 {
		return nil, fmt.Errorf("execution.Execute: invalid intent for %s: capital=%.2f price=%.4f shares=%.4f",
			intent.Market.Slug, intent.Capital, intent.EntryPrice, intent.Shares)
	}

	now := e.now()
	if err := e.funds.Reserve(intent.Capital); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			slog.Info("capacity skip at execution", "market", intent.Market.Slug, "capital", intent.Capital)
			e.alerts.Emit(domain.AlertEvent{
				Type:     domain.AlertCapacitySkip,
				Severity: domain.SeverityWarning,
				Title:    "Capacity skip",
				Message:  fmt.Sprintf("not enough available balance for %s (need %.2f)", intent.Market.Slug, intent.Capital),
				At:       now,
			})
			return nil, nil
		}
		return nil, fmt.Errorf("execution.Execute: reserve: %w", err)
	}

	p := domain.Position{
		ID:            e.newID(),
		MarketID:      intent.Market.ID,
		Slug:          intent.Market.Slug,
		Question:      intent.Market.Question,
		Side:          domain.SideYes,
		EntryPrice:    intent.EntryPrice,
		Shares:        intent.Shares,
		Capital:       intent.Capital,
		Edge:          intent.Edge,
		MarketEndDate: intent.Market.EndDate,
		OpenedAt:      now.UTC(),
		Status:        domain.StatusOpen,
	}

	if err := e.journal.RecordOpen(ctx, p); err != nil {
		e.rollback(p, now, err)
		return nil, fmt.Errorf("execution.Execute: journal open: %w", err)
	}
	if err := e.tracker.Register(p); err != nil {
		e.rollback(p, now, err)
		return nil, fmt.Errorf("execution.Execute: register: %w", err)
	}

	slog.Info("position opened",
		"position", p.ID,
		"market", p.Slug,
		"price", p.EntryPrice,
		"shares", fmt.Sprintf("%.2f", p.Shares),
		"capital", fmt.Sprintf("%.2f", p.Capital),
	)
	e.alerts.Emit(domain.AlertEvent{
		Type:     domain.AlertPositionOpened,
		Severity: domain.SeverityInfo,
		Title:    "Position opened",
		Message:  fmt.Sprintf("bought %.2f YES of %s @ %.4f", p.Shares, p.Slug, p.EntryPrice),
		Fields: map[string]string{
			"position": p.ID,
			"market":   p.Slug,
			"capital":  fmt.Sprintf("%.2f", p.Capital),
			"edge":     fmt.Sprintf("%.4f", p.Edge),
		},
		At: now,
	})
	return &p, nil
}

// rollback deshace la reserva cuando la apertura no pudo completarse.
func (e *Executor) rollback(p domain.Position, now time.Time, cause error) {
	if err := e.funds.Release(p.Capital, 0); err != nil {
		slog.Error("rollback release failed", "position", p.ID, "err", err)
	}
	e.alerts.Emit(domain.AlertEvent{
		Type:     domain.AlertLedgerError,
		Severity: domain.SeverityError,
		Title:    "Open aborted",
		Message:  fmt.Sprintf("could not open %s: %v", p.Slug, cause),
		At:       now,
	})
}
