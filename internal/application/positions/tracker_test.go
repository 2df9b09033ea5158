package positions_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/settlebot/internal/application/ledger"
	"github.com/alejandrodnm/settlebot/internal/application/pnl"
	"github.com/alejandrodnm/settlebot/internal/application/positions"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockJournal struct {
	mu        sync.Mutex
	opens     []domain.Position
	settles   []domain.Position
	settleErr error
}

func (m *mockJournal) InitialBalance(_ context.Context, fallback float64) (float64, error) {
	return fallback, nil
}

func (m *mockJournal) RecordOpen(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens = append(m.opens, p)
	return nil
}

func (m *mockJournal) RecordSettle(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settleErr != nil {
		return m.settleErr
	}
	m.settles = append(m.settles, p)
	return nil
}

func (m *mockJournal) LoadPositions(_ context.Context) ([]domain.Position, error) {
	return nil, nil
}

type mockSink struct {
	mu     sync.Mutex
	events []domain.AlertEvent
}

func (m *mockSink) Emit(e domain.AlertEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *mockSink) types() []domain.AlertType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AlertType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type failingReleaser struct{}

func (failingReleaser) Release(float64, float64) error {
	return errors.New("ledger corrupted")
}

// --- helpers ---

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ledger  *ledger.Ledger
	pnl     *pnl.Tracker
	journal *mockJournal
	sink    *mockSink
	tracker *positions.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := ledger.New(10000)
	require.NoError(t, err)
	f := &fixture{
		ledger:  l,
		pnl:     pnl.New(10000),
		journal: &mockJournal{},
		sink:    &mockSink{},
	}
	f.tracker = positions.New(f.ledger, f.journal, f.pnl, f.sink)
	return f
}

// open reserva capital y registra la posición como haría el executor.
func (f *fixture) open(t *testing.T, id, market string) domain.Position {
	t.Helper()
	p := domain.Position{
		ID:            id,
		MarketID:      market,
		Slug:          "mkt-" + market,
		Side:          domain.SideYes,
		EntryPrice:    0.99,
		Shares:        2020.20,
		Capital:       2000,
		MarketEndDate: now,
		OpenedAt:      now.Add(-2 * time.Second),
		Status:        domain.StatusOpen,
	}
	require.NoError(t, f.ledger.Reserve(p.Capital))
	require.NoError(t, f.tracker.Register(p))
	return p
}

func resolved(o domain.Outcome) domain.Resolution {
	return domain.Resolution{Resolved: true, Outcome: o, FinalPrice: 1}
}

// --- tests ---

func TestOutcome_SettlementScenario(t *testing.T) {
	p := domain.Position{EntryPrice: 0.99, Shares: 2020.20}

	status, v := positions.Outcome(p, domain.OutcomeYes)
	assert.Equal(t, domain.StatusSettledWin, status)
	assert.InDelta(t, 20.20, v, 0.001)

	status, v = positions.Outcome(p, domain.OutcomeNo)
	assert.Equal(t, domain.StatusSettledLoss, status)
	assert.InDelta(t, -2000.00, v, 0.01)

	status, v = positions.Outcome(p, domain.OutcomeVoid)
	assert.Equal(t, domain.StatusSettledVoid, status)
	assert.Equal(t, 0.0, v)
}

func TestSettle_Win(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")

	p, changed, err := f.tracker.Settle(context.Background(), "p1", resolved(domain.OutcomeYes), now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusSettledWin, p.Status)
	require.NotNil(t, p.RealizedPnL)
	assert.InDelta(t, 2020.20*0.01, *p.RealizedPnL, 1e-9)
	require.NotNil(t, p.SettledAt)

	acc := f.ledger.Snapshot()
	assert.InDelta(t, 10000+2020.20*0.01, acc.Total, 1e-9)
	assert.InDelta(t, 0, acc.Deployed, 1e-9)
	assert.True(t, acc.Balanced())

	assert.Equal(t, 1, f.pnl.Snapshot().Wins)
	assert.Len(t, f.journal.settles, 1)
	assert.Equal(t, []domain.AlertType{domain.AlertPositionSettled}, f.sink.types())
}

func TestSettle_LossAndVoid(t *testing.T) {
	f := newFixture(t)
	f.open(t, "loss", "m1")
	f.open(t, "void", "m2")

	_, _, err := f.tracker.Settle(context.Background(), "loss", resolved(domain.OutcomeNo), now)
	require.NoError(t, err)
	_, _, err = f.tracker.Settle(context.Background(), "void", resolved(domain.OutcomeVoid), now)
	require.NoError(t, err)

	acc := f.ledger.Snapshot()
	// pérdida de 2020.20*0.99 = 1999.998, void devuelve el capital
	assert.InDelta(t, 10000-2020.20*0.99, acc.Total, 1e-9)
	assert.True(t, acc.Balanced())

	s := f.pnl.Snapshot()
	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 1, s.Voids)
}

func TestSettle_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")

	_, changed, err := f.tracker.Settle(context.Background(), "p1", resolved(domain.OutcomeYes), now)
	require.NoError(t, err)
	require.True(t, changed)

	accBefore := f.ledger.Snapshot()
	pnlBefore := f.pnl.Snapshot()

	// Segunda entrega, incluso con otro resultado: no-op
	p, changed, err := f.tracker.Settle(context.Background(), "p1", resolved(domain.OutcomeNo), now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.StatusSettledWin, p.Status)

	assert.Equal(t, accBefore, f.ledger.Snapshot())
	assert.Equal(t, pnlBefore, f.pnl.Snapshot())
	assert.Len(t, f.journal.settles, 1)
}

func TestSettle_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = f.tracker.Settle(context.Background(), "p1", resolved(domain.OutcomeYes), now)
		}()
	}
	wg.Wait()

	assert.Len(t, f.journal.settles, 1)
	assert.Equal(t, 1, f.pnl.Snapshot().TotalTrades)
	assert.True(t, f.ledger.Snapshot().Balanced())
}

func TestSettle_UnresolvedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")

	p, changed, err := f.tracker.Settle(context.Background(), "p1", domain.Resolution{Resolved: false}, now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.StatusOpen, p.Status)
	assert.Nil(t, p.RealizedPnL)
}

func TestSettle_UnknownPosition(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.tracker.Settle(context.Background(), "nope", resolved(domain.OutcomeYes), now)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestSettle_JournalFailureKeepsOpen(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")
	f.journal.settleErr = errors.New("disk full")

	_, changed, err := f.tracker.Settle(context.Background(), "p1", resolved(domain.OutcomeYes), now)
	assert.Error(t, err)
	assert.False(t, changed)

	p, _ := f.tracker.Get("p1")
	assert.Equal(t, domain.StatusOpen, p.Status)
	assert.InDelta(t, 2000, f.ledger.Snapshot().Deployed, 1e-9)

	// El siguiente poll reintenta y liquida
	f.journal.settleErr = nil
	_, changed, err = f.tracker.Settle(context.Background(), "p1", resolved(domain.OutcomeYes), now)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSettle_JournalFailureAlerts(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")
	f.journal.settleErr = errors.New("disk full")

	_, _, err := f.tracker.Settle(context.Background(), "p1", resolved(domain.OutcomeYes), now)
	require.Error(t, err)

	require.Equal(t, []domain.AlertType{domain.AlertLedgerError}, f.sink.types())
	e := f.sink.events[0]
	assert.Equal(t, domain.SeverityError, e.Severity)
	assert.Contains(t, e.Message, "disk full")
	assert.Equal(t, "p1", e.Fields["position"])
	assert.True(t, e.At.Equal(now))
}

func TestSettle_ReleaseFailureStillRecordsPnL(t *testing.T) {
	journal := &mockJournal{}
	sink := &mockSink{}
	stats := pnl.New(10000)
	tr := positions.New(failingReleaser{}, journal, stats, sink)

	p := domain.Position{
		ID:         "p1",
		MarketID:   "m1",
		Slug:       "mkt-m1",
		Side:       domain.SideYes,
		EntryPrice: 0.99,
		Shares:     2020.20,
		Capital:    2000,
		OpenedAt:   now.Add(-2 * time.Second),
		Status:     domain.StatusOpen,
	}
	require.NoError(t, tr.Register(p))

	settled, changed, err := tr.Settle(context.Background(), "p1", resolved(domain.OutcomeYes), now)
	require.Error(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusSettledWin, settled.Status)

	live := stats.Snapshot()
	recomputed := pnl.Recompute(10000, tr.Trades(0))
	assert.Equal(t, 1, live.TotalTrades)
	assert.Equal(t, recomputed.TotalTrades, live.TotalTrades)
	assert.InDelta(t, recomputed.TotalPnL, live.TotalPnL, 1e-9)
	assert.Contains(t, sink.types(), domain.AlertLedgerError)
}

func TestTracker_DeployedMatchesLedger(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")
	f.open(t, "p2", "m2")
	f.open(t, "p3", "m3")

	assert.InDelta(t, f.ledger.Snapshot().Deployed, f.tracker.DeployedCapital(), 1e-9)

	_, _, err := f.tracker.Settle(context.Background(), "p2", resolved(domain.OutcomeYes), now)
	require.NoError(t, err)
	assert.InDelta(t, f.ledger.Snapshot().Deployed, f.tracker.DeployedCapital(), 1e-9)
	assert.Equal(t, 2, f.tracker.OpenCount())
}

func TestTracker_Queries(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")
	f.open(t, "p2", "m2")
	_, _, err := f.tracker.Settle(context.Background(), "p1", resolved(domain.OutcomeYes), now)
	require.NoError(t, err)

	assert.Len(t, f.tracker.List(""), 2)
	open := f.tracker.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "p2", open[0].ID)
	assert.Equal(t, map[string]bool{"m2": true}, f.tracker.HeldMarkets())

	trades := f.tracker.Trades(10)
	require.Len(t, trades, 1)
	assert.Equal(t, "p1", trades[0].ID)
}

func TestTracker_RegisterRejectsDuplicatesAndNonOpen(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", "m1")

	err := f.tracker.Register(domain.Position{ID: "p1", Status: domain.StatusOpen})
	assert.Error(t, err)

	err = f.tracker.Register(domain.Position{ID: "p9", Status: domain.StatusSettledWin})
	assert.Error(t, err)
}

func TestTracker_Restore(t *testing.T) {
	f := newFixture(t)
	v := 20.0
	at := now
	f.tracker.Restore([]domain.Position{
		{ID: "a", MarketID: "m1", Status: domain.StatusOpen, Capital: 2000},
		{ID: "b", MarketID: "m2", Status: domain.StatusSettledWin, Capital: 2000, RealizedPnL: &v, SettledAt: &at},
	})

	assert.Equal(t, 1, f.tracker.OpenCount())
	assert.Len(t, f.tracker.Trades(0), 1)
	assert.True(t, f.tracker.HeldMarkets()["m1"])
}
