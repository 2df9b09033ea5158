// Package settlement vigila las posiciones OPEN cuyo mercado ya cerró y las
// liquida cuando el feed reporta la resolución.
package settlement

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

// Settler es la parte del PositionTracker que usa el poller.
type Settler interface {
	Get(id string) (domain.Position, bool)
	Settle(ctx context.Context, id string, res domain.Resolution, now time.Time) (domain.Position, bool, error)
}

// Config controla la cadencia del poller.
type Config struct {
	Interval   time.Duration // cada cuánto se consulta el feed de resolución
	StaleAfter time.Duration // aviso único si sigue sin resolver tras este tiempo
}

// DefaultConfig devuelve 5s de intervalo y aviso a las 24h.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, StaleAfter: 24 * time.Hour}
}

// PollResult resume una pasada del poller.
type PollResult struct {
	Checked int
	Settled []domain.Position
	Pending int // cerrado pero sin resolución aún
	Waiting int // el mercado aún no llegó a su cierre
	Errors  int
}

// Poller mantiene la cola de posiciones a la espera de resolución.
// No hay timeout: una posición sigue OPEN hasta que el mercado resuelve.
type Poller struct {
	provider ports.MarketProvider
	tracker  Settler
	alerts   ports.AlertSink
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	awaiting map[string]struct{}
	warned   map[string]bool
}

// New crea un Poller con la cola vacía.
func New(provider ports.MarketProvider, tracker Settler, alerts ports.AlertSink, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Poller{
		provider: provider,
		tracker:  tracker,
		alerts:   alerts,
		cfg:      cfg,
		now:      time.Now,
		awaiting: make(map[string]struct{}),
		warned:   make(map[string]bool),
	}
}

// WithClock reemplaza el reloj (tests).
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Watch añade posiciones a la cola.
func (p *Poller) Watch(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.awaiting[id] = struct{}{}
	}
}

// Awaiting devuelve cuántas posiciones esperan resolución.
func (p *Poller) Awaiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.awaiting)
}

// Run consulta el feed en cada intervalo hasta que se cancela el contexto.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	slog.Info("settlement poller started", "interval", p.cfg.Interval, "awaiting", p.Awaiting())
	for {
		select {
		case <-ctx.Done():
			slog.Info("settlement poller stopped", "awaiting", p.Awaiting())
			return nil
		case <-ticker.C:
			res := p.CheckOnce(ctx)
			if res.Checked > 0 {
				slog.Debug("settlement poll",
					"checked", res.Checked,
					"settled", len(res.Settled),
					"pending", res.Pending,
					"errors", res.Errors,
				)
			}
		}
	}
}

// CheckOnce hace una pasada sobre la cola. Un fallo del feed en una
// posición se alerta y la pasada continúa con las demás.
func (p *Poller) CheckOnce(ctx context.Context) PollResult {
	var result PollResult
	now := p.now()
	cache := make(map[string]domain.Resolution)

	for _, id := range p.snapshot() {
		if ctx.Err() != nil {
			break
		}
		pos, ok := p.tracker.Get(id)
		if !ok || pos.Status.Terminal() {
			p.drop(id)
			continue
		}
		if now.Before(pos.MarketEndDate) {
			result.Waiting++
			continue
		}
		result.Checked++

		res, ok := cache[pos.MarketID]
		if !ok {
			var err error
			res, err = p.provider.GetResolution(ctx, pos.MarketID)
			if err != nil {
				result.Errors++
				slog.Warn("resolution feed unavailable", "market", pos.Slug, "err", err)
				p.alerts.Emit(domain.AlertEvent{
					Type:     domain.AlertCollaboratorUnavailable,
					Severity: domain.SeverityWarning,
					Title:    "Resolution feed unavailable",
					Message:  fmt.Sprintf("could not fetch resolution for %s: %v", pos.Slug, err),
					At:       now,
				})
				continue
			}
			cache[pos.MarketID] = res
		}

		if !res.Resolved {
			result.Pending++
			p.warnStale(pos, now)
			continue
		}

		settled, changed, err := p.tracker.Settle(ctx, id, res, now)
		if err != nil {
			result.Errors++
			slog.Error("settle failed", "position", id, "err", err)
			if changed {
				p.drop(id)
			}
			continue
		}
		p.drop(id)
		if changed {
			result.Settled = append(result.Settled, settled)
		}
	}
	return result
}

// warnStale avisa una sola vez de una posición que no resuelve.
func (p *Poller) warnStale(pos domain.Position, now time.Time) {
	if p.cfg.StaleAfter <= 0 || now.Sub(pos.MarketEndDate) < p.cfg.StaleAfter {
		return
	}
	p.mu.Lock()
	already := p.warned[pos.ID]
	p.warned[pos.ID] = true
	p.mu.Unlock()
	if already {
		return
	}
	p.alerts.Emit(domain.AlertEvent{
		Type:     domain.AlertStalePosition,
		Severity: domain.SeverityWarning,
		Title:    "Position still unresolved",
		Message:  fmt.Sprintf("%s closed %s ago and is still unresolved", pos.Slug, now.Sub(pos.MarketEndDate).Round(time.Minute)),
		At:       now,
	})
}

func (p *Poller) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.awaiting))
	for id := range p.awaiting {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Poller) drop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.awaiting, id)
	delete(p.warned, id)
}
