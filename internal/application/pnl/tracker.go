// Package pnl mantiene las estadísticas agregadas de las posiciones liquidadas.
//
// Todo el estado se deriva del historial de posiciones: Record (incremental)
// y Recompute (desde cero) pasan por el mismo acumulador y producen el mismo
// snapshot, lo que permite reconstruirlo tras un reinicio.
package pnl

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Tracker es seguro para uso concurrente.
type Tracker struct {
	mu  sync.RWMutex
	acc accumulator
}

// New crea un Tracker con la equity inicial dada.
func New(initial float64) *Tracker {
	return &Tracker{acc: newAccumulator(initial)}
}

// Record incorpora una posición liquidada. Posiciones OPEN se ignoran.
func (t *Tracker) Record(p domain.Position) {
	if !p.Status.Terminal() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.add(p)
}

// Restore recalcula todo desde el historial completo.
func (t *Tracker) Restore(initial float64, positions []domain.Position) {
	acc := fold(initial, positions)
	t.mu.Lock()
	t.acc = acc
	t.mu.Unlock()
}

// Snapshot devuelve los agregados actuales.
func (t *Tracker) Snapshot() domain.PnLSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.acc.snapshot()
}

// EquityCurve devuelve una copia de la curva de equity.
func (t *Tracker) EquityCurve() []domain.EquityPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.EquityPoint, len(t.acc.curve))
	copy(out, t.acc.curve)
	return out
}

// Recompute calcula el snapshot solo a partir de las posiciones, ordenadas
// por momento de liquidación.
func Recompute(initial float64, positions []domain.Position) domain.PnLSnapshot {
	acc := fold(initial, positions)
	return acc.snapshot()
}

func fold(initial float64, positions []domain.Position) accumulator {
	settled := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.Status.Terminal() {
			settled = append(settled, p)
		}
	}
	sort.SliceStable(settled, func(i, j int) bool {
		return settledAt(settled[i]).Before(settledAt(settled[j]))
	})

	acc := newAccumulator(initial)
	for _, p := range settled {
		acc.add(p)
	}
	return acc
}

type accumulator struct {
	initial     float64
	trades      int
	wins        int
	losses      int
	voids       int
	total       float64
	grossProfit float64
	grossLoss   float64
	peak        float64
	maxDD       float64
	curve       []domain.EquityPoint
}

func newAccumulator(initial float64) accumulator {
	return accumulator{initial: initial, peak: initial}
}

func (a *accumulator) add(p domain.Position) {
	pnl := p.PnL()
	a.trades++
	switch p.Status {
	case domain.StatusSettledWin:
		a.wins++
	case domain.StatusSettledLoss:
		a.losses++
	case domain.StatusSettledVoid:
		a.voids++
	}
	if pnl > 0 {
		a.grossProfit += pnl
	} else if pnl < 0 {
		a.grossLoss += -pnl
	}
	a.total += pnl

	equity := a.initial + a.total
	if equity > a.peak {
		a.peak = equity
	}
	if dd := drawdown(a.peak, equity); dd > a.maxDD {
		a.maxDD = dd
	}
	a.curve = append(a.curve, domain.EquityPoint{
		At:       settledAt(p),
		Equity:   equity,
		PnL:      pnl,
		Position: p.ID,
	})
}

func (a *accumulator) snapshot() domain.PnLSnapshot {
	equity := a.initial + a.total
	s := domain.PnLSnapshot{
		TotalTrades:     a.trades,
		Wins:            a.wins,
		Losses:          a.losses,
		Voids:           a.voids,
		TotalPnL:        a.total,
		GrossProfit:     a.grossProfit,
		GrossLoss:       a.grossLoss,
		InitialBalance:  a.initial,
		Equity:          equity,
		PeakEquity:      a.peak,
		CurrentDrawdown: drawdown(a.peak, equity),
		MaxDrawdown:     a.maxDD,
	}
	if decided := a.wins + a.losses; decided > 0 {
		s.WinRate = float64(a.wins) / float64(decided)
	}
	switch {
	case a.grossLoss > 0:
		s.ProfitFactor = a.grossProfit / a.grossLoss
	case a.grossProfit > 0:
		s.ProfitFactor = math.Inf(1)
	}
	if a.wins > 0 {
		s.AverageWin = a.grossProfit / float64(a.wins)
	}
	if a.losses > 0 {
		s.AverageLoss = a.grossLoss / float64(a.losses)
	}
	return s
}

// drawdown es (peak − equity) / peak, 0 si peak <= 0.
func drawdown(peak, equity float64) float64 {
	if peak <= 0 {
		return 0
	}
	dd := (peak - equity) / peak
	if dd < 0 {
		return 0
	}
	return dd
}

func settledAt(p domain.Position) time.Time {
	if p.SettledAt == nil {
		return p.OpenedAt
	}
	return *p.SettledAt
}
