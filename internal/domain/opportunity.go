package domain

import "time"

// Opportunity es un mercado que pasó todos los gates en un tick.
// Solo vive dentro del tick; nunca se persiste.
type Opportunity struct {
	Market         Market
	Edge           float64 // precio - MinPrice
	SecondsToClose float64
	DetectedAt     time.Time
}

// OrderIntent es una orden ya dimensionada por el RiskManager.
type OrderIntent struct {
	Market     Market
	EntryPrice float64
	Shares     float64
	Capital    float64 // USDC a reservar en el ledger
	Edge       float64
}

// CapacitySkip registra una oportunidad que no se dimensionó por falta de saldo.
type CapacitySkip struct {
	Market    Market
	Required  float64
	Available float64
}
