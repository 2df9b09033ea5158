package dashboard

import (
	"math"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// DTOs JSON del dashboard. domain no lleva tags; la conversión vive aquí.

type ledgerDTO struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Deployed  float64 `json:"deployed"`
}

type statusDTO struct {
	StartedAt     time.Time  `json:"started_at"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	LastTickAt    *time.Time `json:"last_tick_at"`
	Ticks         int64      `json:"ticks"`
	SkippedTicks  int64      `json:"skipped_ticks"`
	OpenPositions int        `json:"open_positions"`
	MaxPositions  int        `json:"max_positions"`
	Awaiting      int        `json:"awaiting_resolution"`
	Ledger        ledgerDTO  `json:"ledger"`
}

type pnlDTO struct {
	TotalTrades     int      `json:"total_trades"`
	Wins            int      `json:"wins"`
	Losses          int      `json:"losses"`
	Voids           int      `json:"voids"`
	WinRate         float64  `json:"win_rate"`
	TotalPnL        float64  `json:"total_pnl"`
	GrossProfit     float64  `json:"gross_profit"`
	GrossLoss       float64  `json:"gross_loss"`
	ProfitFactor    *float64 `json:"profit_factor"` // null = sin pérdidas
	AverageWin      float64  `json:"average_win"`
	AverageLoss     float64  `json:"average_loss"`
	InitialBalance  float64  `json:"initial_balance"`
	Equity          float64  `json:"equity"`
	PeakEquity      float64  `json:"peak_equity"`
	CurrentDrawdown float64  `json:"current_drawdown"`
	MaxDrawdown     float64  `json:"max_drawdown"`
}

type positionDTO struct {
	ID            string     `json:"id"`
	MarketID      string     `json:"market_id"`
	Slug          string     `json:"slug"`
	Question      string     `json:"question,omitempty"`
	Side          string     `json:"side"`
	EntryPrice    float64    `json:"entry_price"`
	Shares        float64    `json:"shares"`
	Capital       float64    `json:"capital"`
	Edge          float64    `json:"edge"`
	MarketEndDate time.Time  `json:"market_end_date"`
	OpenedAt      time.Time  `json:"opened_at"`
	Status        string     `json:"status"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
	FinalPrice    *float64   `json:"final_price,omitempty"`
	RealizedPnL   *float64   `json:"realized_pnl"`
}

type configDTO struct {
	Category                string  `json:"category"`
	ExecuteBeforeCloseMinMs int64   `json:"execute_before_close_min_ms"`
	ExecuteBeforeCloseMaxMs int64   `json:"execute_before_close_max_ms"`
	MaxPositions            int     `json:"max_positions"`
	CapitalSplitPercent     float64 `json:"capital_split_percent"`
	MinPriceThreshold       float64 `json:"min_price_threshold"`
	MaxPriceThreshold       float64 `json:"max_price_threshold"`
	ScanIntervalMs          int64   `json:"scan_interval_ms"`
	FakeCurrencyBalance     float64 `json:"fake_currency_balance"`
}

type equityPointDTO struct {
	At       time.Time `json:"at"`
	Equity   float64   `json:"equity"`
	PnL      float64   `json:"pnl"`
	Position string    `json:"position_id"`
}

type alertDTO struct {
	Type     string            `json:"type"`
	Severity string            `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	At       time.Time         `json:"at"`
}

// envelope es el mensaje del websocket.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func toStatusDTO(s domain.BotStatus, now time.Time) statusDTO {
	d := statusDTO{
		StartedAt:     s.StartedAt,
		Ticks:         s.Ticks,
		SkippedTicks:  s.SkippedTicks,
		OpenPositions: s.OpenPositions,
		MaxPositions:  s.MaxPositions,
		Awaiting:      s.Awaiting,
		Ledger:        toLedgerDTO(s.Ledger),
	}
	if !s.StartedAt.IsZero() {
		if up := int64(now.Sub(s.StartedAt).Seconds()); up > 0 {
			d.UptimeSeconds = up
		}
	}
	if !s.LastTickAt.IsZero() {
		t := s.LastTickAt
		d.LastTickAt = &t
	}
	return d
}

func toLedgerDTO(a domain.LedgerAccount) ledgerDTO {
	return ledgerDTO{Total: a.Total, Available: a.Available, Deployed: a.Deployed}
}

// toPnLDTO deja profit_factor a null cuando es infinito: JSON no admite Inf.
func toPnLDTO(p domain.PnLSnapshot) pnlDTO {
	d := pnlDTO{
		TotalTrades:     p.TotalTrades,
		Wins:            p.Wins,
		Losses:          p.Losses,
		Voids:           p.Voids,
		WinRate:         p.WinRate,
		TotalPnL:        p.TotalPnL,
		GrossProfit:     p.GrossProfit,
		GrossLoss:       p.GrossLoss,
		AverageWin:      p.AverageWin,
		AverageLoss:     p.AverageLoss,
		InitialBalance:  p.InitialBalance,
		Equity:          p.Equity,
		PeakEquity:      p.PeakEquity,
		CurrentDrawdown: p.CurrentDrawdown,
		MaxDrawdown:     p.MaxDrawdown,
	}
	if !math.IsInf(p.ProfitFactor, 0) && !math.IsNaN(p.ProfitFactor) {
		pf := p.ProfitFactor
		d.ProfitFactor = &pf
	}
	return d
}

func toPositionDTOs(ps []domain.Position) []positionDTO {
	out := make([]positionDTO, 0, len(ps))
	for _, p := range ps {
		d := positionDTO{
			ID:            p.ID,
			MarketID:      p.MarketID,
			Slug:          p.Slug,
			Question:      p.Question,
			Side:          p.Side,
			EntryPrice:    p.EntryPrice,
			Shares:        p.Shares,
			Capital:       p.Capital,
			Edge:          p.Edge,
			MarketEndDate: p.MarketEndDate,
			OpenedAt:      p.OpenedAt,
			Status:        string(p.Status),
			SettledAt:     p.SettledAt,
			RealizedPnL:   p.RealizedPnL,
		}
		if p.Status.Terminal() {
			fp := p.FinalPrice
			d.FinalPrice = &fp
		}
		out = append(out, d)
	}
	return out
}

func toEquityDTOs(points []domain.EquityPoint) []equityPointDTO {
	out := make([]equityPointDTO, 0, len(points))
	for _, p := range points {
		out = append(out, equityPointDTO{At: p.At, Equity: p.Equity, PnL: p.PnL, Position: p.Position})
	}
	return out
}

func toConfigDTO(p Params) configDTO {
	return configDTO{
		Category:                p.Category,
		ExecuteBeforeCloseMinMs: p.WindowMin.Milliseconds(),
		ExecuteBeforeCloseMaxMs: p.WindowMax.Milliseconds(),
		MaxPositions:            p.MaxPositions,
		CapitalSplitPercent:     p.CapitalSplit * 100,
		MinPriceThreshold:       p.MinPrice,
		MaxPriceThreshold:       p.MaxPrice,
		ScanIntervalMs:          p.ScanInterval.Milliseconds(),
		FakeCurrencyBalance:     p.InitialBalance,
	}
}

func toAlertDTO(e domain.AlertEvent) alertDTO {
	return alertDTO{
		Type:     string(e.Type),
		Severity: e.Severity.String(),
		Title:    e.Title,
		Message:  e.Message,
		Fields:   e.Fields,
		At:       e.At.UTC(),
	}
}
