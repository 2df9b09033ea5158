package domain

import (
	"fmt"
	"math"
	"time"
)

// Market representa un mercado binario de Polymarket tal como llega del feed.
// Es un snapshot inmutable por tick: ningún componente lo modifica.
type Market struct {
	ID          string
	ConditionID string
	Slug        string
	Question    string
	Category    string
	YesPrice    float64   // precio del lado YES, fracción 0–1
	Volume24h   float64   // volumen últimas 24h en USDC
	EndDate     time.Time // cierre programado
	Closed      bool
	Resolved    bool // el feed ya reporta un resultado final
}

// Validate comprueba el mercado en el borde de ingestión.
// Devuelve ErrMalformedMarket envuelto con el motivo.
func (m Market) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: empty id", ErrMalformedMarket)
	case m.Slug == "":
		return fmt.Errorf("%w: market %s has no slug", ErrMalformedMarket, m.ID)
	case math.IsNaN(m.YesPrice) || math.IsInf(m.YesPrice, 0):
		return fmt.Errorf("%w: market %s has non-finite price", ErrMalformedMarket, m.Slug)
	case m.YesPrice < 0 || m.YesPrice > 1:
		return fmt.Errorf("%w: market %s price %.4f out of range", ErrMalformedMarket, m.Slug, m.YesPrice)
	case m.EndDate.IsZero():
		return fmt.Errorf("%w: market %s has no close time", ErrMalformedMarket, m.Slug)
	}
	return nil
}

// Settled indica si el mercado ya no admite entradas con edge real.
func (m Market) Settled() bool {
	return m.Closed || m.Resolved
}

// SecondsToClose devuelve los segundos hasta el cierre programado (negativo si ya cerró).
func (m Market) SecondsToClose(now time.Time) float64 {
	return m.EndDate.Sub(now).Seconds()
}
