package execution_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/settlebot/internal/application/execution"
	"github.com/alejandrodnm/settlebot/internal/application/ledger"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockJournal struct {
	opens   []domain.Position
	openErr error
}

func (m *mockJournal) InitialBalance(_ context.Context, fallback float64) (float64, error) {
	return fallback, nil
}
func (m *mockJournal) RecordOpen(_ context.Context, p domain.Position) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opens = append(m.opens, p)
	return nil
}
func (m *mockJournal) RecordSettle(_ context.Context, _ domain.Position) error { return nil }
func (m *mockJournal) LoadPositions(_ context.Context) ([]domain.Position, error) {
	return nil, nil
}

type mockRegistrar struct {
	registered []domain.Position
}

func (m *mockRegistrar) Register(p domain.Position) error {
	m.registered = append(m.registered, p)
	return nil
}

type mockSink struct {
	events []domain.AlertEvent
}

func (m *mockSink) Emit(e domain.AlertEvent) { m.events = append(m.events, e) }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intent(capital float64) domain.OrderIntent {
	return domain.OrderIntent{
		Market: domain.Market{
			ID:       "m1",
			Slug:     "btc-above-100k",
			Question: "BTC above 100k?",
			YesPrice: 0.99,
			EndDate:  now.Add(1500 * time.Millisecond),
		},
		EntryPrice: 0.99,
		Shares:     capital / 0.99,
		Capital:    capital,
		Edge:       0.005,
	}
}

func setup(t *testing.T, balance float64) (*execution.Executor, *ledger.Ledger, *mockJournal, *mockRegistrar, *mockSink) {
	t.Helper()
	l, err := ledger.New(balance)
	require.NoError(t, err)
	j := &mockJournal{}
	r := &mockRegistrar{}
	s := &mockSink{}
	ex := execution.New(l, j, r, s).WithClock(func() time.Time { return now })
	return ex, l, j, r, s
}

func TestExecute_OpensPosition(t *testing.T) {
	ex, l, j, r, s := setup(t, 10000)

	p, err := ex.Execute(context.Background(), intent(2000))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.StatusOpen, p.Status)
	assert.Equal(t, domain.SideYes, p.Side)
	assert.Equal(t, "m1", p.MarketID)
	assert.InDelta(t, 0.99, p.EntryPrice, 1e-12)
	assert.InDelta(t, 2000, p.Capital, 1e-9)
	assert.Nil(t, p.RealizedPnL)
	assert.Equal(t, now, p.OpenedAt)

	acc := l.Snapshot()
	assert.InDelta(t, 8000, acc.Available, 1e-9)
	assert.InDelta(t, 2000, acc.Deployed, 1e-9)

	require.Len(t, j.opens, 1)
	require.Len(t, r.registered, 1)
	assert.Equal(t, p.ID, r.registered[0].ID)

	require.Len(t, s.events, 1)
	assert.Equal(t, domain.AlertPositionOpened, s.events[0].Type)
}

func TestExecute_InsufficientFundsIsDroppedNotError(t *testing.T) {
	ex, l, j, r, s := setup(t, 1000)

	p, err := ex.Execute(context.Background(), intent(2000))
	assert.NoError(t, err)
	assert.Nil(t, p)

	assert.InDelta(t, 1000, l.Snapshot().Available, 1e-9)
	assert.Empty(t, j.opens)
	assert.Empty(t, r.registered)
	require.Len(t, s.events, 1)
	assert.Equal(t, domain.AlertCapacitySkip, s.events[0].Type)
}

func TestExecute_JournalFailureRollsBack(t *testing.T) {
	ex, l, j, r, s := setup(t, 10000)
	j.openErr = errors.New("database is locked")

	p, err := ex.Execute(context.Background(), intent(2000))
	assert.Error(t, err)
	assert.Nil(t, p)

	acc := l.Snapshot()
	assert.InDelta(t, 10000, acc.Available, 1e-9)
	assert.InDelta(t, 0, acc.Deployed, 1e-9)
	assert.Empty(t, r.registered)
	require.Len(t, s.events, 1)
	assert.Equal(t, domain.AlertLedgerError, s.events[0].Type)
}

func TestExecute_RejectsInvalidIntent(t *testing.T) {
	ex, l, _, _, _ := setup(t, 10000)
	bad := intent(2000)
	bad.EntryPrice = 0

	_, err := ex.Execute(context.Background(), bad)
	assert.Error(t, err)
	assert.InDelta(t, 10000, l.Snapshot().Available, 1e-9)
}
