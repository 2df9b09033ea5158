package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// TradeJournal es el log durable de transiciones. Cada apertura (reserve)
// y cada liquidación (release) se escribe antes de darse por completada;
// reproducir el journal reconstruye ledger y posiciones.
type TradeJournal interface {
	// InitialBalance devuelve el saldo inicial registrado. En el primer
	// arranque persiste fallback y lo devuelve.
	InitialBalance(ctx context.Context, fallback float64) (float64, error)

	RecordOpen(ctx context.Context, p domain.Position) error
	RecordSettle(ctx context.Context, p domain.Position) error

	// LoadPositions devuelve todas las posiciones en orden de apertura.
	LoadPositions(ctx context.Context) ([]domain.Position, error)
}

// StatusReader es la API de solo lectura que consume el dashboard.
type StatusReader interface {
	Status() domain.BotStatus
	PnL() domain.PnLSnapshot
	Positions(status domain.PositionStatus) []domain.Position
	Trades(limit int) []domain.Position
	EquityCurve() []domain.EquityPoint
}
