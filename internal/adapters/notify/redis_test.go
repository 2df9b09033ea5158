package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAlert(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, err := encodeAlert(domain.AlertEvent{
		Type:     domain.AlertCapacitySkip,
		Severity: domain.SeverityWarning,
		Title:    "Capacity skip",
		Message:  "skipped btc-100k",
		Fields:   map[string]string{"required": "2000.00"},
		At:       at,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "capacity_skip", got["type"])
	assert.Equal(t, "WARNING", got["severity"])
	assert.Equal(t, "skipped btc-100k", got["message"])
	assert.Equal(t, "2026-03-01T12:00:00Z", got["at"])
	assert.Equal(t, map[string]any{"required": "2000.00"}, got["fields"])
}

func TestNewRedisSender_UnreachableFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Puerto 1: nada escucha ahí
	_, err := NewRedisSender(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}
