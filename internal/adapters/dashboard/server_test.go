package dashboard_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/settlebot/internal/adapters/dashboard"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockReader struct {
	status    domain.BotStatus
	pnl       domain.PnLSnapshot
	positions []domain.Position
	trades    []domain.Position
	equity    []domain.EquityPoint

	gotStatus domain.PositionStatus
	gotLimit  int
}

func (m *mockReader) Status() domain.BotStatus          { return m.status }
func (m *mockReader) PnL() domain.PnLSnapshot           { return m.pnl }
func (m *mockReader) EquityCurve() []domain.EquityPoint { return m.equity }

func (m *mockReader) Positions(status domain.PositionStatus) []domain.Position {
	m.gotStatus = status
	var out []domain.Position
	for _, p := range m.positions {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockReader) Trades(limit int) []domain.Position {
	m.gotLimit = limit
	return m.trades
}

func pnlPtr(v float64) *float64 { return &v }

func fixture() *mockReader {
	settled := t0.Add(time.Minute)
	return &mockReader{
		status: domain.BotStatus{
			StartedAt:     t0,
			LastTickAt:    t0.Add(30 * time.Second),
			Ticks:         60,
			OpenPositions: 1,
			MaxPositions:  5,
			Awaiting:      1,
			Ledger:        domain.LedgerAccount{Total: 10020.20, Available: 8020.20, Deployed: 2000},
		},
		pnl: domain.PnLSnapshot{
			TotalTrades: 1, Wins: 1, WinRate: 1, TotalPnL: 20.20, GrossProfit: 20.20,
			ProfitFactor: math.Inf(1), InitialBalance: 10000, Equity: 10020.20, PeakEquity: 10020.20,
		},
		positions: []domain.Position{
			{ID: "p1", MarketID: "m1", Slug: "btc", Side: domain.SideYes, EntryPrice: 0.99, Capital: 2000,
				Status: domain.StatusSettledWin, SettledAt: &settled, FinalPrice: 1, RealizedPnL: pnlPtr(20.20)},
			{ID: "p2", MarketID: "m2", Slug: "eth", Side: domain.SideYes, EntryPrice: 0.995, Capital: 2000,
				Status: domain.StatusOpen},
		},
		equity: []domain.EquityPoint{{At: settled, Equity: 10020.20, PnL: 20.20, Position: "p1"}},
	}
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServer_Health(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{}, fixture(), nil)
	rec, body := get(t, srv.Handler(), "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestServer_Status(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{}, fixture(), nil)
	rec, body := get(t, srv.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.EqualValues(t, 60, body["ticks"])
	assert.EqualValues(t, 5, body["max_positions"])
	assert.EqualValues(t, 1, body["awaiting_resolution"])
	ledger := body["ledger"].(map[string]any)
	assert.InDelta(t, 8020.20, ledger["available"], 1e-9)
	assert.InDelta(t, 2000, ledger["deployed"], 1e-9)
}

func TestServer_PnL_InfiniteProfitFactorIsNull(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{}, fixture(), nil)
	rec, body := get(t, srv.Handler(), "/api/pnl")
	require.Equal(t, http.StatusOK, rec.Code)

	v, present := body["profit_factor"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.InDelta(t, 20.20, body["total_pnl"], 1e-9)
	assert.EqualValues(t, 1, body["wins"])
}

func TestServer_Positions_FilterByStatus(t *testing.T) {
	reader := fixture()
	srv := dashboard.NewServer(dashboard.Config{}, reader, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=open", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0]["id"])
	assert.Nil(t, got[0]["realized_pnl"])
	assert.Equal(t, domain.StatusOpen, reader.gotStatus)
}

func TestServer_Positions_UnknownStatus(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{}, fixture(), nil)
	rec, body := get(t, srv.Handler(), "/api/positions?status=PENDING")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "PENDING")
}

func TestServer_Positions_SettledGroupsTerminalStatuses(t *testing.T) {
	reader := fixture()
	reader.positions = append(reader.positions,
		domain.Position{ID: "p3", MarketID: "m3", Slug: "sol", Capital: 2000, Status: domain.StatusSettledLoss, RealizedPnL: pnlPtr(-1990)},
		domain.Position{ID: "p4", MarketID: "m4", Slug: "xrp", Capital: 2000, Status: domain.StatusSettledVoid, RealizedPnL: pnlPtr(0)},
	)
	srv := dashboard.NewServer(dashboard.Config{}, reader, nil)

	for _, q := range []string{"settled", "SETTLED"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status="+q, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		ids := make([]any, 0, len(got))
		for _, p := range got {
			ids = append(ids, p["id"])
		}
		assert.ElementsMatch(t, []any{"p1", "p3", "p4"}, ids)
	}
}

func TestServer_Config(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{
		Params: dashboard.Params{
			Category:       "crypto",
			MinPrice:       0.985,
			MaxPrice:       1,
			WindowMin:      time.Second,
			WindowMax:      2 * time.Second,
			MaxPositions:   5,
			CapitalSplit:   0.20,
			ScanInterval:   500 * time.Millisecond,
			InitialBalance: 10000,
		},
	}, fixture(), nil)

	rec, body := get(t, srv.Handler(), "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "crypto", body["category"])
	assert.EqualValues(t, 1000, body["execute_before_close_min_ms"])
	assert.EqualValues(t, 2000, body["execute_before_close_max_ms"])
	assert.EqualValues(t, 5, body["max_positions"])
	assert.InDelta(t, 20, body["capital_split_percent"], 1e-9)
	assert.InDelta(t, 0.985, body["min_price_threshold"], 1e-9)
	assert.InDelta(t, 1, body["max_price_threshold"], 1e-9)
	assert.EqualValues(t, 500, body["scan_interval_ms"])
	assert.InDelta(t, 10000, body["fake_currency_balance"], 1e-9)
}

func TestServer_Trades_Limit(t *testing.T) {
	reader := fixture()
	srv := dashboard.NewServer(dashboard.Config{}, reader, nil)

	rec, _ := get(t, srv.Handler(), "/api/trades")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, reader.gotLimit)

	get(t, srv.Handler(), "/api/trades?limit=10000")
	assert.Equal(t, 500, reader.gotLimit)

	rec, _ = get(t, srv.Handler(), "/api/trades?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Equity(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{}, fixture(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/equity", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0]["position_id"])
}

func TestServer_ReadOnly(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{}, fixture(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/positions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{CORSOrigins: []string{"http://localhost:3000"}}, fixture(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHub_StreamsStatusThenAlerts(t *testing.T) {
	reader := fixture()
	hub := dashboard.NewHub(reader)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(dashboard.NewServer(dashboard.Config{}, reader, hub).Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	assert.EqualValues(t, 60, first.Payload["ticks"])

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Send(context.Background(), domain.AlertEvent{
		Type:     domain.AlertPositionOpened,
		Severity: domain.SeverityInfo,
		Title:    "Position opened",
		Message:  "BUY YES btc",
		At:       t0,
	}))

	var alert struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&alert))
	assert.Equal(t, "alert", alert.Type)
	assert.Equal(t, "position_opened", alert.Payload["type"])
	assert.Equal(t, "INFO", alert.Payload["severity"])
	assert.Equal(t, "BUY YES btc", alert.Payload["message"])
}

func TestHub_SendAfterStopIsNoop(t *testing.T) {
	hub := dashboard.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	assert.NoError(t, hub.Send(context.Background(), domain.AlertEvent{Title: "late"}))
	assert.Equal(t, "websocket", hub.Name())
}
