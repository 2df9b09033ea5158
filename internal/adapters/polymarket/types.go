package polymarket

import "encoding/json"

// DTOs raw de Gamma. Solo se usan dentro de este paquete;
// la conversión a domain se hace en mapping.go.

// gammaMarketsResponse es la respuesta de GET /markets.
type gammaMarketsResponse []gammaMarket

// gammaMarket es un mercado binario de Gamma.
// Gamma devuelve números como strings y los arrays de outcomes/precios como
// strings JSON ("[\"Yes\",\"No\"]"), de ahí json.Number y los string.
type gammaMarket struct {
	ID                  string      `json:"id"`
	ConditionID         string      `json:"conditionId"`
	Question            string      `json:"question"`
	Slug                string      `json:"slug"`
	Category            string      `json:"category"`
	EndDate             string      `json:"endDate"`
	EndDateISO          string      `json:"endDateIso"`
	Outcomes            string      `json:"outcomes"`
	OutcomePrices       string      `json:"outcomePrices"`
	Volume24h           json.Number `json:"volume24hr"`
	Active              bool        `json:"active"`
	Closed              bool        `json:"closed"`
	UMAResolutionStatus string      `json:"umaResolutionStatus"`
	Tags                []gammaTag  `json:"tags"`
}

// gammaTag es una etiqueta de categoría.
type gammaTag struct {
	Label string `json:"label"`
	Slug  string `json:"slug"`
}
