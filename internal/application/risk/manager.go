// Package risk convierte oportunidades ordenadas en órdenes dimensionadas.
package risk

import (
	"fmt"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Config contiene los límites de riesgo.
type Config struct {
	MaxPositions int     // posiciones abiertas simultáneas
	CapitalSplit float64 // fracción del saldo TOTAL por posición (0.2 = 20%)
}

// DefaultConfig devuelve 5 posiciones al 20% cada una.
func DefaultConfig() Config {
	return Config{MaxPositions: 5, CapitalSplit: 0.2}
}

// Validate rechaza límites imposibles.
func (c Config) Validate() error {
	if c.MaxPositions <= 0 {
		return fmt.Errorf("risk: max positions %d must be positive: %w", c.MaxPositions, domain.ErrInvalidConfig)
	}
	if c.CapitalSplit <= 0 || c.CapitalSplit > 1 {
		return fmt.Errorf("risk: capital split %.4f out of (0,1]: %w", c.CapitalSplit, domain.ErrInvalidConfig)
	}
	return nil
}

// Plan es la salida del dimensionado de un tick.
type Plan struct {
	Intents []domain.OrderIntent
	Skips   []domain.CapacitySkip
	Slots   int // huecos libres al empezar el tick
}

// Manager aplica el tope de posiciones y el sizing.
type Manager struct {
	cfg Config
}

// New crea un Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Allocation devuelve el capital por posición para el saldo total dado.
// Se calcula sobre el total, no sobre el disponible, para que el tamaño no
// dependa de cuántos huecos estén ocupados.
func (m *Manager) Allocation(total float64) float64 {
	return total * m.cfg.CapitalSplit
}

// Size recorre las oportunidades en orden hasta agotar los huecos.
// Si lo disponible no cubre la asignación, la oportunidad se salta entera
// (sin fill parcial) y queda registrada como capacity skip.
func (m *Manager) Size(opps []domain.Opportunity, openCount int, account domain.LedgerAccount) Plan {
	slots := m.cfg.MaxPositions - openCount
	plan := Plan{Slots: max(slots, 0)}
	if slots <= 0 || len(opps) == 0 {
		return plan
	}

	allocation := m.Allocation(account.Total)
	available := account.Available

	for _, opp := range opps {
		if len(plan.Intents) >= slots {
			break
		}
		price := opp.Market.YesPrice
		if price <= 0 || allocation <= 0 {
			continue
		}
		if available < allocation {
			plan.Skips = append(plan.Skips, domain.CapacitySkip{
				Market:    opp.Market,
				Required:  allocation,
				Available: available,
			})
			continue
		}
		available -= allocation

		plan.Intents = append(plan.Intents, domain.OrderIntent{
			Market:     opp.Market,
			EntryPrice: price,
			Shares:     allocation / price,
			Capital:    allocation,
			Edge:       opp.Edge,
		})
	}
	return plan
}
