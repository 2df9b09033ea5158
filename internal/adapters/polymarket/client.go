package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// Gamma /markets: 300/10s → al 60% → 18/s
	gammaRatePerSec = 18
	gammaBurst      = 10

	defaultTimeout   = 10 * time.Second
	defaultPageSize  = 100
	defaultMaxPages  = 10
	defaultLookahead = 10 * time.Minute

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config parametriza el cliente de Gamma. Los ceros toman el valor por defecto.
type Config struct {
	GammaBase  string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	PageSize   int
	MaxPages   int
	// Lookahead acota end_date_max: solo interesan mercados que cierran pronto.
	Lookahead time.Duration
	// TagIDs traduce la categoría configurada al tag_id de Gamma.
	TagIDs map[string]string
}

// DefaultTagIDs son los tags conocidos de Gamma por categoría.
func DefaultTagIDs() map[string]string {
	return map[string]string{
		"crypto": "21",
		"fed":    "7",
	}
}

// Client es el HTTP client de Gamma con rate limiting y retries.
type Client struct {
	http         *http.Client
	gammaBase    string
	gammaLimiter *rate.Limiter
	pageSize     int
	maxPages     int
	lookahead    time.Duration
	tagIDs       map[string]string
	now          func() time.Time
}

// NewClient crea un Client. Si GammaBase está vacío usa producción.
func NewClient(cfg Config) *Client {
	if cfg.GammaBase == "" {
		cfg.GammaBase = defaultGammaBase
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = gammaRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = gammaBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = defaultLookahead
	}
	if cfg.TagIDs == nil {
		cfg.TagIDs = DefaultTagIDs()
	}
	return &Client{
		http:         &http.Client{Timeout: cfg.Timeout},
		gammaBase:    cfg.GammaBase,
		gammaLimiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		pageSize:     cfg.PageSize,
		maxPages:     cfg.MaxPages,
		lookahead:    cfg.Lookahead,
		tagIDs:       cfg.TagIDs,
		now:          time.Now,
	}
}

// WithClock fija el reloj usado para la ventana end_date_min/max.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, c.gammaLimiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// statusError es una respuesta 4xx: no se reintenta.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.code, e.body)
}

// doWithRetry ejecuta la función con backoff exponencial.
// 429 y 5xx se reintentan; el resto de 4xx no.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by gamma", "attempt", attempt+1)
			if attempt == maxRetries {
				return fmt.Errorf("rate limited after %d retries", maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return &statusError{code: resp.StatusCode, body: string(body)}
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
