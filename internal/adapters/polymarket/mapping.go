package polymarket

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

const (
	// Umbrales del precio YES final para declarar un ganador.
	resolvedYesMin = 0.99
	resolvedNoMax  = 0.01
)

// mapGammaMarket convierte el DTO a domain.Market. Los campos que no se
// pueden parsear quedan vacíos o NaN: la validación ocurre en la estrategia.
func mapGammaMarket(gm gammaMarket, fallbackCategory string) domain.Market {
	m := domain.Market{
		ID:          gm.ID,
		ConditionID: gm.ConditionID,
		Slug:        gm.Slug,
		Question:    gm.Question,
		Category:    marketCategory(gm, fallbackCategory),
		YesPrice:    math.NaN(),
		Closed:      gm.Closed,
		Resolved:    strings.EqualFold(gm.UMAResolutionStatus, "resolved"),
		EndDate:     parseEndDate(gm),
	}

	if p, ok := yesPrice(gm); ok {
		m.YesPrice = p
	}
	if v, err := gm.Volume24h.Float64(); err == nil {
		m.Volume24h = v
	}
	return m
}

// mapResolution aplica la regla de resolución: mercado cerrado y precio
// YES final >= 0.99 → yes, <= 0.01 → no, cualquier otro → void.
// Un mercado abierto o con precios ilegibles sigue pendiente.
func mapResolution(gm gammaMarket) domain.Resolution {
	if !gm.Closed {
		return domain.Resolution{}
	}
	price, ok := yesPrice(gm)
	if !ok {
		return domain.Resolution{}
	}

	res := domain.Resolution{Resolved: true, FinalPrice: price}
	switch {
	case price >= resolvedYesMin:
		res.Outcome = domain.OutcomeYes
	case price <= resolvedNoMax:
		res.Outcome = domain.OutcomeNo
	default:
		res.Outcome = domain.OutcomeVoid
	}
	return res
}

// yesPrice extrae el precio del outcome "Yes" de outcomePrices.
// Sin lista de outcomes se asume el orden [Yes, No].
func yesPrice(gm gammaMarket) (float64, bool) {
	var prices []string
	if err := json.Unmarshal([]byte(gm.OutcomePrices), &prices); err != nil || len(prices) == 0 {
		return 0, false
	}

	idx := 0
	var outcomes []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err == nil {
		idx = -1
		for i, o := range outcomes {
			if strings.EqualFold(strings.TrimSpace(o), "yes") {
				idx = i
				break
			}
		}
	}
	if idx < 0 || idx >= len(prices) {
		return 0, false
	}

	p, err := strconv.ParseFloat(strings.TrimSpace(prices[idx]), 64)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, false
	}
	return p, true
}

// parseEndDate prueba endDate y luego endDateIso con los formatos habituales.
func parseEndDate(gm gammaMarket) time.Time {
	for _, raw := range []string{gm.EndDate, gm.EndDateISO} {
		if raw == "" {
			continue
		}
		// Polymarket usa varios formatos; intentamos los más comunes
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// marketCategory usa el campo category de Gamma, luego los tags y por
// último la categoría pedida.
func marketCategory(gm gammaMarket, fallback string) string {
	if c := strings.ToLower(strings.TrimSpace(gm.Category)); c != "" {
		return c
	}
	for _, tag := range gm.Tags {
		label := strings.ToLower(tag.Label + " " + tag.Slug)
		switch {
		case strings.Contains(label, "crypto"):
			return "crypto"
		case strings.Contains(label, "fed"):
			return "fed"
		case strings.Contains(label, "regulatory"), strings.Contains(label, "sec"):
			return "regulatory"
		case strings.Contains(label, "economic"):
			return "economic"
		}
	}
	if fallback != "" {
		return fallback
	}
	return "other"
}
