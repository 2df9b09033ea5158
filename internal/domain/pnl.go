package domain

import "time"

// PnLSnapshot es el read model derivado de las posiciones liquidadas.
// Nunca es autoritativo: se reconstruye desde el historial completo.
type PnLSnapshot struct {
	TotalTrades int
	Wins        int
	Losses      int
	Voids       int
	WinRate     float64

	TotalPnL     float64
	GrossProfit  float64
	GrossLoss    float64 // magnitud, siempre >= 0
	ProfitFactor float64 // +Inf sin pérdidas
	AverageWin   float64
	AverageLoss  float64

	InitialBalance  float64
	Equity          float64
	PeakEquity      float64
	CurrentDrawdown float64 // fracción, 0.0015 = 0.15%
	MaxDrawdown     float64
}

// EquityPoint es un punto de la curva de equity tras cada liquidación.
type EquityPoint struct {
	At       time.Time
	Equity   float64
	PnL      float64
	Position string
}

// BotStatus es la vista agregada que sirve el dashboard.
type BotStatus struct {
	StartedAt     time.Time
	LastTickAt    time.Time
	Ticks         int64
	SkippedTicks  int64
	OpenPositions int
	MaxPositions  int
	Ledger        LedgerAccount
	Awaiting      int // posiciones esperando resolución
}
