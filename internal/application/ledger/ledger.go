// Package ledger lleva el capital simulado: saldo total, disponible y desplegado.
package ledger

import (
	"fmt"
	"math"
	"sync"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// epsilon absorbe el ruido de coma flotante al comparar saldos.
const epsilon = 1e-9

// Ledger es la única fuente de verdad del capital. Todas las operaciones
// se serializan con un mutex; nada de I/O dentro de la sección crítica.
type Ledger struct {
	mu        sync.Mutex
	total     float64
	available float64
	deployed  float64
}

// New crea un ledger con todo el saldo inicial disponible.
func New(initial float64) (*Ledger, error) {
	if initial <= 0 || math.IsNaN(initial) || math.IsInf(initial, 0) {
		return nil, fmt.Errorf("ledger.New: initial balance %.2f: %w", initial, domain.ErrInvalidConfig)
	}
	return &Ledger{total: initial, available: initial}, nil
}

// Reserve mueve amount de disponible a desplegado.
func (l *Ledger) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger.Reserve: amount %.4f must be positive", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.available+epsilon {
		return fmt.Errorf("ledger.Reserve: need %.2f, have %.2f: %w",
			amount, l.available, domain.ErrInsufficientFunds)
	}
	l.available -= amount
	if l.available < 0 {
		l.available = 0
	}
	l.deployed += amount
	return nil
}

// Release devuelve amount+pnl de desplegado a disponible y ajusta el total.
// Lo devuelto nunca es negativo: como mucho se pierde el capital comprometido.
func (l *Ledger) Release(amount, pnl float64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger.Release: amount %.4f must be positive", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.deployed+epsilon {
		return fmt.Errorf("ledger.Release: release %.2f with %.2f deployed: %w",
			amount, l.deployed, domain.ErrLedgerMismatch)
	}

	returned := math.Max(0, amount+pnl)
	l.deployed -= amount
	if l.deployed < epsilon {
		l.deployed = 0
	}
	l.available += returned
	l.total += returned - amount
	return nil
}

// Snapshot devuelve una copia de los saldos.
func (l *Ledger) Snapshot() domain.LedgerAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.LedgerAccount{
		Total:     l.total,
		Available: l.available,
		Deployed:  l.deployed,
	}
}

// Restore sustituye los saldos por los de acc (tras reproducir el journal).
func (l *Ledger) Restore(acc domain.LedgerAccount) error {
	if !acc.Balanced() || acc.Available < 0 || acc.Deployed < 0 {
		return fmt.Errorf("ledger.Restore: unbalanced account %+v: %w", acc, domain.ErrLedgerMismatch)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = acc.Total
	l.available = acc.Available
	l.deployed = acc.Deployed
	return nil
}

// Replay reconstruye los saldos a partir del saldo inicial y del historial
// de posiciones del journal. Cada posición implica un reserve y, si está
// liquidada, su release.
func Replay(initial float64, positions []domain.Position) (*Ledger, error) {
	l, err := New(initial)
	if err != nil {
		return nil, fmt.Errorf("ledger.Replay: %w", err)
	}
	for _, p := range positions {
		if err := l.Reserve(p.Capital); err != nil {
			return nil, fmt.Errorf("ledger.Replay: open %s: %w", p.ID, err)
		}
		if p.Status.Terminal() {
			if err := l.Release(p.Capital, p.PnL()); err != nil {
				return nil, fmt.Errorf("ledger.Replay: settle %s: %w", p.ID, err)
			}
		}
	}
	return l, nil
}
