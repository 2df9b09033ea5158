package domain

import "time"

// PositionStatus es el estado del ciclo de vida de una posición.
type PositionStatus string

const (
	StatusOpen        PositionStatus = "OPEN"
	StatusSettledWin  PositionStatus = "SETTLED_WIN"
	StatusSettledLoss PositionStatus = "SETTLED_LOSS"
	StatusSettledVoid PositionStatus = "SETTLED_VOID"
)

// Terminal devuelve true para los estados sin transición de salida.
func (s PositionStatus) Terminal() bool {
	switch s {
	case StatusSettledWin, StatusSettledLoss, StatusSettledVoid:
		return true
	}
	return false
}

// ParseStatus convierte el texto persistido o de query string en un estado.
func ParseStatus(s string) (PositionStatus, bool) {
	switch PositionStatus(s) {
	case StatusOpen, StatusSettledWin, StatusSettledLoss, StatusSettledVoid:
		return PositionStatus(s), true
	}
	return "", false
}

// SideYes es el único lado que opera esta estrategia.
const SideYes = "yes"

// Position es el registro permanente de un trade.
// La crea solo el OrderExecutor y la transiciona solo el PositionTracker.
type Position struct {
	ID            string
	MarketID      string
	Slug          string
	Question      string
	Side          string
	EntryPrice    float64
	Shares        float64
	Capital       float64
	Edge          float64
	MarketEndDate time.Time
	OpenedAt      time.Time
	Status        PositionStatus

	// Rellenos al liquidar
	SettledAt   *time.Time
	FinalPrice  float64
	RealizedPnL *float64 // nil mientras está OPEN
}

// PnL devuelve el PnL realizado o 0 si sigue abierta.
func (p Position) PnL() float64 {
	if p.RealizedPnL == nil {
		return 0
	}
	return *p.RealizedPnL
}

// Outcome es el resultado binario (o anulado) de un mercado.
type Outcome string

const (
	OutcomeYes  Outcome = "yes"
	OutcomeNo   Outcome = "no"
	OutcomeVoid Outcome = "void"
)

// Resolution es lo que reporta el feed de resolución para un mercado.
type Resolution struct {
	Resolved   bool
	Outcome    Outcome
	FinalPrice float64
}
