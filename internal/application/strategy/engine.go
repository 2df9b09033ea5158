// Package strategy filtra el snapshot de mercados y ordena las oportunidades
// de settlement por edge.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// priceEpsilon evita que 0.985 leído como 0.98499999 quede fuera del gate.
const priceEpsilon = 1e-9

// Config contiene los gates de la estrategia. Inmutable tras el arranque.
type Config struct {
	MinPrice  float64       // límite inferior inclusivo del precio YES
	MaxPrice  float64       // límite superior inclusivo
	WindowMin time.Duration // el cierre debe estar al menos a WindowMin
	WindowMax time.Duration // y como mucho a WindowMax
}

// DefaultConfig devuelve los parámetros por defecto de la estrategia.
func DefaultConfig() Config {
	return Config{
		MinPrice:  0.985,
		MaxPrice:  1.00,
		WindowMin: 1 * time.Second,
		WindowMax: 2 * time.Second,
	}
}

// Validate rechaza umbrales imposibles.
func (c Config) Validate() error {
	switch {
	case c.MinPrice <= 0 || c.MinPrice > 1:
		return fmt.Errorf("strategy: min price %.4f out of (0,1]: %w", c.MinPrice, domain.ErrInvalidConfig)
	case c.MaxPrice < c.MinPrice || c.MaxPrice > 1:
		return fmt.Errorf("strategy: max price %.4f must be in [min,1]: %w", c.MaxPrice, domain.ErrInvalidConfig)
	case c.WindowMin < 0 || c.WindowMax < c.WindowMin:
		return fmt.Errorf("strategy: window [%s,%s] invalid: %w", c.WindowMin, c.WindowMax, domain.ErrInvalidConfig)
	}
	return nil
}

// Stats resume por qué se descartó cada mercado en un tick.
type Stats struct {
	Scanned   int
	Malformed int
	Settled   int // cerrados o ya resueltos según el feed
	OutOfBand int
	Deferred  int // en banda pero fuera de la ventana de timing
	Held      int // ya respaldan una posición OPEN
	Qualified int
}

// Engine aplica los gates y el ranking. No toma decisiones de capital.
type Engine struct {
	cfg Config
}

// New crea un Engine con la configuración dada.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config devuelve la configuración activa.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate devuelve las oportunidades que pasan todos los gates, con mayor
// edge primero. held contiene los market IDs con posición OPEN.
// Un snapshot vacío o inválido produce una lista vacía, nunca un error.
func (e *Engine) Evaluate(markets []domain.Market, now time.Time, held map[string]bool) ([]domain.Opportunity, Stats) {
	stats := Stats{Scanned: len(markets)}
	opps := make([]domain.Opportunity, 0)
	seen := make(map[string]bool, len(markets))

	for _, m := range markets {
		if err := m.Validate(); err != nil {
			stats.Malformed++
			slog.Debug("strategy: skipping malformed market", "err", err)
			continue
		}
		if m.Settled() {
			stats.Settled++
			continue
		}
		if !e.inBand(m.YesPrice) {
			stats.OutOfBand++
			continue
		}
		if !e.inWindow(m.EndDate, now) {
			stats.Deferred++
			continue
		}
		if held[m.ID] || seen[m.ID] {
			stats.Held++
			continue
		}
		seen[m.ID] = true

		opps = append(opps, domain.Opportunity{
			Market:         m,
			Edge:           m.YesPrice - e.cfg.MinPrice,
			SecondsToClose: m.SecondsToClose(now),
			DetectedAt:     now,
		})
	}

	Rank(opps)
	stats.Qualified = len(opps)
	return opps, stats
}

// inBand es el price gate, inclusivo en ambos extremos.
func (e *Engine) inBand(price float64) bool {
	return price >= e.cfg.MinPrice-priceEpsilon && price <= e.cfg.MaxPrice+priceEpsilon
}

// inWindow es el timing gate: EndDate ∈ [now+WindowMin, now+WindowMax].
func (e *Engine) inWindow(end, now time.Time) bool {
	earliest := now.Add(e.cfg.WindowMin)
	latest := now.Add(e.cfg.WindowMax)
	return !end.Before(earliest) && !end.After(latest)
}

// Rank ordena in-place: edge desc, luego cierre más próximo, luego slug.
func Rank(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Edge != b.Edge {
			return a.Edge > b.Edge
		}
		if !a.Market.EndDate.Equal(b.Market.EndDate) {
			return a.Market.EndDate.Before(b.Market.EndDate)
		}
		return a.Market.Slug < b.Market.Slug
	})
}
