package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// MarketProvider obtiene los mercados activos y su resolución.
type MarketProvider interface {
	// ListActiveMarkets devuelve los mercados abiertos de la categoría dada
	// ("" = todas). Se llama una vez por tick.
	ListActiveMarkets(ctx context.Context, category string) ([]domain.Market, error)

	// GetResolution consulta si el mercado ya se resolvió y con qué resultado.
	// Se usa para posiciones OPEN cuyo cierre programado ya pasó.
	GetResolution(ctx context.Context, marketID string) (domain.Resolution, error)
}
