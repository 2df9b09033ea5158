// Package engine orquesta el tick de trading y expone el read model.
//
// Por tick: MarketProvider → strategy → risk → execution → positions.
// La liquidación corre aparte en el settlement.Poller; ambos solo se
// coordinan a través del ledger.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/settlebot/internal/application/execution"
	"github.com/alejandrodnm/settlebot/internal/application/ledger"
	"github.com/alejandrodnm/settlebot/internal/application/pnl"
	"github.com/alejandrodnm/settlebot/internal/application/positions"
	"github.com/alejandrodnm/settlebot/internal/application/risk"
	"github.com/alejandrodnm/settlebot/internal/application/settlement"
	"github.com/alejandrodnm/settlebot/internal/application/strategy"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
)

// Config agrupa la configuración inmutable de todos los componentes del core.
type Config struct {
	Strategy       strategy.Config
	Risk           risk.Config
	Settlement     settlement.Config
	Category       string
	ScanInterval   time.Duration
	InitialBalance float64
}

// DefaultConfig devuelve los valores por defecto del paper trader.
func DefaultConfig() Config {
	return Config{
		Strategy:       strategy.DefaultConfig(),
		Risk:           risk.DefaultConfig(),
		Settlement:     settlement.DefaultConfig(),
		Category:       "crypto",
		ScanInterval:   500 * time.Millisecond,
		InitialBalance: 10000,
	}
}

// Validate falla con domain.ErrInvalidConfig ante parámetros imposibles.
func (c Config) Validate() error {
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("engine: scan interval %s must be positive: %w", c.ScanInterval, domain.ErrInvalidConfig)
	}
	if c.InitialBalance <= 0 || math.IsNaN(c.InitialBalance) || math.IsInf(c.InitialBalance, 0) {
		return fmt.Errorf("engine: initial balance %.2f must be positive: %w", c.InitialBalance, domain.ErrInvalidConfig)
	}
	return nil
}

// Deps son los colaboradores externos.
type Deps struct {
	Provider ports.MarketProvider
	Journal  ports.TradeJournal
	Alerts   ports.AlertSink
}

// TickResult resume un tick del loop de escaneo.
type TickResult struct {
	At            time.Time
	Markets       int
	Stats         strategy.Stats
	Opportunities []domain.Opportunity
	Opened        []domain.Position
	Skips         []domain.CapacitySkip
	Errors        []error
	Skipped       bool // el feed no respondió; el tick no hizo nada
	Account       domain.LedgerAccount
}

// Engine es el paper trader completo.
type Engine struct {
	cfg      Config
	provider ports.MarketProvider
	journal  ports.TradeJournal
	alerts   ports.AlertSink

	strategy *strategy.Engine
	risk     *risk.Manager
	ledger   *ledger.Ledger
	tracker  *positions.Tracker
	pnl      *pnl.Tracker
	executor *execution.Executor
	poller   *settlement.Poller

	now       func() time.Time
	startedAt time.Time
	tickMu    sync.Mutex // los ticks nunca se solapan
	onTick    func(*TickResult)

	ticks    atomic.Int64
	skipped  atomic.Int64
	lastTick atomic.Int64 // unix nanos
}

// New valida la configuración y construye el core.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	if deps.Provider == nil || deps.Journal == nil || deps.Alerts == nil {
		return nil, fmt.Errorf("engine.New: provider, journal and alerts are required")
	}

	l, err := ledger.New(cfg.InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		provider:  deps.Provider,
		journal:   deps.Journal,
		alerts:    deps.Alerts,
		strategy:  strategy.New(cfg.Strategy),
		risk:      risk.New(cfg.Risk),
		ledger:    l,
		pnl:       pnl.New(cfg.InitialBalance),
		now:       time.Now,
		startedAt: time.Now(),
	}
	e.tracker = positions.New(e.ledger, e.journal, e.pnl, e.alerts)
	e.executor = execution.New(e.ledger, e.journal, e.tracker, e.alerts)
	e.poller = settlement.New(e.provider, e.tracker, e.alerts, cfg.Settlement)
	return e, nil
}

// WithClock reemplaza el reloj de engine, executor y poller.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.startedAt = now()
	e.executor.WithClock(now)
	e.poller.WithClock(now)
	return e
}

// OnTick registra un callback que Run invoca tras cada tick completado.
func (e *Engine) OnTick(fn func(*TickResult)) *Engine {
	e.onTick = fn
	return e
}

// Poller expone el poller de liquidación para correrlo en su propia goroutine.
func (e *Engine) Poller() *settlement.Poller {
	return e.poller
}

// Restore reproduce el journal: saldo inicial, ledger, posiciones y PnL.
// Las posiciones OPEN vuelven a la cola de liquidación.
func (e *Engine) Restore(ctx context.Context) error {
	initial, err := e.journal.InitialBalance(ctx, e.cfg.InitialBalance)
	if err != nil {
		return fmt.Errorf("engine.Restore: initial balance: %w", err)
	}
	history, err := e.journal.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.Restore: load positions: %w", err)
	}

	replayed, err := ledger.Replay(initial, history)
	if err != nil {
		return fmt.Errorf("engine.Restore: %w", err)
	}
	if err := e.ledger.Restore(replayed.Snapshot()); err != nil {
		return fmt.Errorf("engine.Restore: %w", err)
	}
	e.tracker.Restore(history)
	e.pnl.Restore(initial, history)

	open := e.tracker.Open()
	for _, p := range open {
		e.poller.Watch(p.ID)
	}

	acc := e.ledger.Snapshot()
	slog.Info("state restored from journal",
		"positions", len(history),
		"open", len(open),
		"total", fmt.Sprintf("%.2f", acc.Total),
		"available", fmt.Sprintf("%.2f", acc.Available),
	)
	return nil
}

// RunOnce ejecuta un tick. Un fallo del feed salta el tick, alerta y
// devuelve nil: el loop nunca se detiene por un fallo transitorio.
func (e *Engine) RunOnce(ctx context.Context) (*TickResult, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.now()
	result := &TickResult{At: now}
	defer func() {
		e.ticks.Add(1)
		e.lastTick.Store(now.UnixNano())
		result.Account = e.ledger.Snapshot()
	}()

	markets, err := e.provider.ListActiveMarkets(ctx, e.cfg.Category)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.skipped.Add(1)
		result.Skipped = true
		result.Errors = append(result.Errors, err)
		slog.Warn("market feed unavailable, skipping tick", "err", err)
		e.alerts.Emit(domain.AlertEvent{
			Type:     domain.AlertCollaboratorUnavailable,
			Severity: domain.SeverityWarning,
			Title:    "Market feed unavailable",
			Message:  fmt.Sprintf("listing %q markets failed: %v", e.cfg.Category, err),
			At:       now,
		})
		return result, nil
	}
	result.Markets = len(markets)

	opps, stats := e.strategy.Evaluate(markets, now, e.tracker.HeldMarkets())
	result.Stats = stats
	result.Opportunities = opps
	if stats.Malformed > 0 {
		e.alerts.Emit(domain.AlertEvent{
			Type:     domain.AlertMalformedMarket,
			Severity: domain.SeverityWarning,
			Title:    "Malformed market data",
			Message:  fmt.Sprintf("%d malformed markets skipped", stats.Malformed),
			At:       now,
		})
	}
	if len(opps) == 0 {
		return result, nil
	}

	plan := e.risk.Size(opps, e.tracker.OpenCount(), e.ledger.Snapshot())
	result.Skips = plan.Skips
	for _, s := range plan.Skips {
		slog.Info("capacity skip", "market", s.Market.Slug, "required", s.Required, "available", s.Available)
		e.alerts.Emit(domain.AlertEvent{
			Type:     domain.AlertCapacitySkip,
			Severity: domain.SeverityWarning,
			Title:    "Capacity skip",
			Message:  fmt.Sprintf("skipped %s: need %.2f, available %.2f", s.Market.Slug, s.Required, s.Available),
			At:       now,
		})
	}

	for _, intent := range plan.Intents {
		p, err := e.executor.Execute(ctx, intent)
		if err != nil {
			result.Errors = append(result.Errors, err)
			slog.Error("execution failed", "market", intent.Market.Slug, "err", err)
			continue
		}
		if p == nil {
			result.Skips = append(result.Skips, domain.CapacitySkip{Market: intent.Market, Required: intent.Capital})
			continue
		}
		result.Opened = append(result.Opened, *p)
		e.poller.Watch(p.ID)
	}

	if err := e.CheckInvariants(); err != nil {
		slog.Error("ledger invariant violated", "err", err)
		e.alerts.Emit(domain.AlertEvent{
			Type:     domain.AlertLedgerError,
			Severity: domain.SeverityCritical,
			Title:    "Ledger invariant violated",
			Message:  err.Error(),
			At:       now,
		})
	}
	return result, nil
}

// Run ejecuta ticks cada ScanInterval hasta que se cancela el contexto.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	slog.Info("scan loop started", "interval", e.cfg.ScanInterval, "category", e.cfg.Category)
	for {
		e.tick(ctx)
		select {
		case <-ctx.Done():
			slog.Info("scan loop stopped", "ticks", e.ticks.Load(), "skipped", e.skipped.Load())
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	res, err := e.RunOnce(ctx)
	if err != nil {
		return
	}
	if e.onTick != nil {
		e.onTick(res)
	}
	if len(res.Opened) > 0 || len(res.Errors) > 0 {
		slog.Info("tick",
			"markets", res.Markets,
			"qualified", res.Stats.Qualified,
			"opened", len(res.Opened),
			"skips", len(res.Skips),
			"errors", len(res.Errors),
		)
	}
}

// CheckInvariants comprueba Total == Available + Deployed y que lo
// desplegado coincida con el capital de las posiciones OPEN.
// Se evalúa sin liquidaciones en curso.
func (e *Engine) CheckInvariants() error {
	var acc domain.LedgerAccount
	var open float64
	e.tracker.Quiesce(func() {
		acc = e.ledger.Snapshot()
		open = e.tracker.DeployedCapital()
	})
	if !acc.Balanced() {
		return fmt.Errorf("total %.6f != available %.6f + deployed %.6f", acc.Total, acc.Available, acc.Deployed)
	}
	if math.Abs(open-acc.Deployed) > 1e-6 {
		return fmt.Errorf("deployed %.6f != open capital %.6f", acc.Deployed, open)
	}
	return nil
}

// --- read model (ports.StatusReader) ---

// Status devuelve el estado agregado del bot.
func (e *Engine) Status() domain.BotStatus {
	s := domain.BotStatus{
		StartedAt:    e.startedAt,
		Ticks:        e.ticks.Load(),
		SkippedTicks: e.skipped.Load(),
		MaxPositions: e.cfg.Risk.MaxPositions,
		Awaiting:     e.poller.Awaiting(),
	}
	// Posiciones y saldos del mismo instante
	e.tracker.Quiesce(func() {
		s.OpenPositions = e.tracker.OpenCount()
		s.Ledger = e.ledger.Snapshot()
	})
	if n := e.lastTick.Load(); n > 0 {
		s.LastTickAt = time.Unix(0, n).UTC()
	}
	return s
}

// PnL devuelve el snapshot de estadísticas.
func (e *Engine) PnL() domain.PnLSnapshot {
	return e.pnl.Snapshot()
}

// Positions lista posiciones por estado ("" = todas).
func (e *Engine) Positions(status domain.PositionStatus) []domain.Position {
	return e.tracker.List(status)
}

// Trades devuelve las últimas posiciones liquidadas.
func (e *Engine) Trades(limit int) []domain.Position {
	return e.tracker.Trades(limit)
}

// EquityCurve devuelve la curva de equity.
func (e *Engine) EquityCurve() []domain.EquityPoint {
	return e.pnl.EquityCurve()
}

// Ledger devuelve los saldos actuales.
func (e *Engine) Ledger() domain.LedgerAccount {
	return e.ledger.Snapshot()
}
