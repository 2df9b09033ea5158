package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validMarket() Market {
	return Market{
		ID:       "123",
		Slug:     "btc-up-or-down",
		YesPrice: 0.99,
		EndDate:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMarket_Validate_OK(t *testing.T) {
	assert.NoError(t, validMarket().Validate())
}

func TestMarket_Validate_Malformed(t *testing.T) {
	cases := map[string]func(m *Market){
		"empty id":    func(m *Market) { m.ID = "" },
		"empty slug":  func(m *Market) { m.Slug = "" },
		"nan price":   func(m *Market) { m.YesPrice = math.NaN() },
		"price > 1":   func(m *Market) { m.YesPrice = 1.2 },
		"price < 0":   func(m *Market) { m.YesPrice = -0.1 },
		"no end date": func(m *Market) { m.EndDate = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := validMarket()
			mutate(&m)
			err := m.Validate()
			assert.True(t, errors.Is(err, ErrMalformedMarket), "got %v", err)
		})
	}
}

func TestPositionStatus_Terminal(t *testing.T) {
	assert.False(t, StatusOpen.Terminal())
	assert.True(t, StatusSettledWin.Terminal())
	assert.True(t, StatusSettledLoss.Terminal())
	assert.True(t, StatusSettledVoid.Terminal())
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("SETTLED_WIN")
	assert.True(t, ok)
	assert.Equal(t, StatusSettledWin, s)

	_, ok = ParseStatus("closed")
	assert.False(t, ok)
}

func TestLedgerAccount_Balanced(t *testing.T) {
	assert.True(t, LedgerAccount{Total: 10000, Available: 8000, Deployed: 2000}.Balanced())
	assert.False(t, LedgerAccount{Total: 10000, Available: 8000, Deployed: 1000}.Balanced())
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityError, ParseSeverity("error"))
	assert.Equal(t, SeverityWarning, ParseSeverity("warn"))
	assert.Equal(t, SeverityInfo, ParseSeverity("whatever"))
	assert.Equal(t, "CRITICAL", SeverityCritical.String())
}
