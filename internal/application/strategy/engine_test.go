package strategy_test

import (
	"math"
	"testing"
	"time"

	"github.com/alejandrodnm/settlebot/internal/application/strategy"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func market(id string, price float64, closesIn time.Duration) domain.Market {
	return domain.Market{
		ID:       id,
		Slug:     "mkt-" + id,
		Question: "Will " + id + " happen?",
		YesPrice: price,
		EndDate:  now.Add(closesIn),
	}
}

func slugs(opps []domain.Opportunity) []string {
	out := make([]string, len(opps))
	for i, o := range opps {
		out[i] = o.Market.Slug
	}
	return out
}

func TestEvaluate_RanksByEdgeDescending(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())

	markets := []domain.Market{
		market("a", 0.990, 1500*time.Millisecond),
		market("b", 0.997, 1500*time.Millisecond),
		market("c", 0.988, 1500*time.Millisecond),
	}

	opps, stats := e.Evaluate(markets, now, nil)
	require.Len(t, opps, 3)
	assert.Equal(t, 3, stats.Qualified)

	assert.InDelta(t, 0.012, opps[0].Edge, 1e-9)
	assert.InDelta(t, 0.005, opps[1].Edge, 1e-9)
	assert.InDelta(t, 0.003, opps[2].Edge, 1e-9)
	assert.Equal(t, []string{"mkt-b", "mkt-a", "mkt-c"}, slugs(opps))
}

func TestEvaluate_TieBrokenBySoonerClose(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())

	markets := []domain.Market{
		market("late", 0.99, 1900*time.Millisecond),
		market("soon", 0.99, 1100*time.Millisecond),
	}

	opps, _ := e.Evaluate(markets, now, nil)
	require.Len(t, opps, 2)
	assert.Equal(t, "mkt-soon", opps[0].Market.Slug)
}

func TestEvaluate_PriceGateBoundaries(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())
	in := 1500 * time.Millisecond

	cases := []struct {
		price float64
		want  bool
	}{
		{0.9849, false},
		{0.9850, true},
		{0.9990, true},
		{1.0000, true},
		{0.5000, false},
	}
	for _, tc := range cases {
		opps, _ := e.Evaluate([]domain.Market{market("x", tc.price, in)}, now, nil)
		assert.Equal(t, tc.want, len(opps) == 1, "price %.4f", tc.price)
	}
}

func TestEvaluate_TimingWindow(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())

	cases := []struct {
		name     string
		closesIn time.Duration
		want     bool
	}{
		{"too early", 10 * time.Second, false},
		{"at window max", 2 * time.Second, true},
		{"inside", 1500 * time.Millisecond, true},
		{"at window min", 1 * time.Second, true},
		{"too late", 500 * time.Millisecond, false},
		{"already closed", -time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opps, stats := e.Evaluate([]domain.Market{market("x", 0.99, tc.closesIn)}, now, nil)
			assert.Equal(t, tc.want, len(opps) == 1)
			if !tc.want {
				assert.Equal(t, 1, stats.Deferred)
			}
		})
	}
}

func TestEvaluate_DeferredMarketQualifiesLater(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())
	m := market("x", 0.99, 5*time.Second)

	opps, _ := e.Evaluate([]domain.Market{m}, now, nil)
	assert.Empty(t, opps)

	// Tres segundos y medio después el mismo mercado entra en ventana
	opps, _ = e.Evaluate([]domain.Market{m}, now.Add(3500*time.Millisecond), nil)
	assert.Len(t, opps, 1)
}

func TestEvaluate_ExcludesHeldMarkets(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())
	markets := []domain.Market{
		market("a", 0.99, 1500*time.Millisecond),
		market("b", 0.99, 1500*time.Millisecond),
	}

	opps, stats := e.Evaluate(markets, now, map[string]bool{"a": true})
	require.Len(t, opps, 1)
	assert.Equal(t, "b", opps[0].Market.ID)
	assert.Equal(t, 1, stats.Held)
}

func TestEvaluate_DuplicateMarketInSnapshot(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())
	m := market("a", 0.99, 1500*time.Millisecond)

	opps, _ := e.Evaluate([]domain.Market{m, m}, now, nil)
	assert.Len(t, opps, 1)
}

func TestEvaluate_ExcludesResolvedAtPriceOne(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())

	resolved := market("r", 1.0, 1500*time.Millisecond)
	resolved.Resolved = true
	closed := market("c", 0.99, 1500*time.Millisecond)
	closed.Closed = true

	opps, stats := e.Evaluate([]domain.Market{resolved, closed}, now, nil)
	assert.Empty(t, opps)
	assert.Equal(t, 2, stats.Settled)
}

func TestEvaluate_MalformedSkippedOthersContinue(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())

	bad := market("bad", math.NaN(), 1500*time.Millisecond)
	noSlug := market("noslug", 0.99, 1500*time.Millisecond)
	noSlug.Slug = ""
	good := market("good", 0.99, 1500*time.Millisecond)

	opps, stats := e.Evaluate([]domain.Market{bad, noSlug, good}, now, nil)
	require.Len(t, opps, 1)
	assert.Equal(t, "good", opps[0].Market.ID)
	assert.Equal(t, 2, stats.Malformed)
}

func TestEvaluate_EmptySnapshot(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())
	opps, stats := e.Evaluate(nil, now, nil)
	assert.NotNil(t, opps)
	assert.Empty(t, opps)
	assert.Equal(t, 0, stats.Scanned)
}

func TestEvaluate_OpportunityFields(t *testing.T) {
	e := strategy.New(strategy.DefaultConfig())
	opps, _ := e.Evaluate([]domain.Market{market("a", 0.99, 1500*time.Millisecond)}, now, nil)
	require.Len(t, opps, 1)

	assert.InDelta(t, 1.5, opps[0].SecondsToClose, 1e-9)
	assert.Equal(t, now, opps[0].DetectedAt)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, strategy.DefaultConfig().Validate())

	bad := strategy.DefaultConfig()
	bad.MaxPrice = 0.9
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidConfig)

	bad = strategy.DefaultConfig()
	bad.MinPrice = 0
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidConfig)

	bad = strategy.DefaultConfig()
	bad.WindowMax = 0
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidConfig)
}
