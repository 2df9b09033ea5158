package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

const gammaMarketsPath = "/markets"

// ListActiveMarkets devuelve los mercados activos de la categoría que cierran
// dentro del lookahead. Pagina con offset hasta una página incompleta o maxPages.
func (c *Client) ListActiveMarkets(ctx context.Context, category string) ([]domain.Market, error) {
	now := c.now().UTC()
	base := url.Values{}
	base.Set("active", "true")
	base.Set("closed", "false")
	base.Set("limit", strconv.Itoa(c.pageSize))
	base.Set("end_date_min", now.Add(-time.Minute).Format(time.RFC3339))
	base.Set("end_date_max", now.Add(c.lookahead).Format(time.RFC3339))
	if tag, ok := c.tagIDs[category]; ok {
		base.Set("tag_id", tag)
	}

	var markets []domain.Market
	for page := 0; page < c.maxPages; page++ {
		q := cloneValues(base)
		q.Set("offset", strconv.Itoa(page*c.pageSize))
		endpoint := c.gammaBase + gammaMarketsPath + "?" + q.Encode()

		var resp gammaMarketsResponse
		if err := c.get(ctx, endpoint, &resp); err != nil {
			return nil, fmt.Errorf("gamma.ListActiveMarkets: page %d: %w", page, err)
		}
		for _, gm := range resp {
			markets = append(markets, mapGammaMarket(gm, category))
		}
		if len(resp) < c.pageSize {
			break
		}
	}

	slog.Debug("gamma markets fetched", "category", category, "markets", len(markets))
	return markets, nil
}

// GetResolution consulta /markets/{id} y aplica la regla de resolución.
func (c *Client) GetResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	endpoint := c.gammaBase + gammaMarketsPath + "/" + url.PathEscape(marketID)

	var gm gammaMarket
	if err := c.get(ctx, endpoint, &gm); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return domain.Resolution{}, fmt.Errorf("gamma.GetResolution: market %s not found", marketID)
		}
		return domain.Resolution{}, fmt.Errorf("gamma.GetResolution: %s: %w", marketID, err)
	}
	return mapResolution(gm), nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
