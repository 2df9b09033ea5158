package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen acota el stream de alertas (XADD MAXLEN ~).
const streamMaxLen int64 = 10000

// RedisConfig son los parámetros de conexión y destino.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string // Pub/Sub, efímero
	Stream   string // opcional: copia durable en un stream
}

// RedisSender publica cada alerta como JSON en un canal Pub/Sub y,
// si hay stream configurado, la añade al stream.
type RedisSender struct {
	rdb     *redis.Client
	channel string
	stream  string
}

// alertMessage es el JSON publicado.
type alertMessage struct {
	Type     string            `json:"type"`
	Severity string            `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	At       time.Time         `json:"at"`
}

// NewRedisSender conecta y hace ping. Devuelve error si Redis no responde.
func NewRedisSender(ctx context.Context, cfg RedisConfig) (*RedisSender, error) {
	if cfg.Channel == "" {
		cfg.Channel = "settlebot:alerts"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &RedisSender{rdb: rdb, channel: cfg.Channel, stream: cfg.Stream}, nil
}

// Name devuelve el identificador del sender.
func (r *RedisSender) Name() string {
	return "redis"
}

// Send publica la alerta.
func (r *RedisSender) Send(ctx context.Context, e domain.AlertEvent) error {
	payload, err := encodeAlert(e)
	if err != nil {
		return fmt.Errorf("redis: marshal alert: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", r.channel, err)
	}
	if r.stream == "" {
		return nil
	}
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"type": string(e.Type), "data": payload},
	}).Err(); err != nil {
		return fmt.Errorf("redis: xadd %s: %w", r.stream, err)
	}
	return nil
}

// Close cierra la conexión.
func (r *RedisSender) Close() error {
	return r.rdb.Close()
}

func encodeAlert(e domain.AlertEvent) ([]byte, error) {
	return json.Marshal(alertMessage{
		Type:     string(e.Type),
		Severity: e.Severity.String(),
		Title:    e.Title,
		Message:  e.Message,
		Fields:   e.Fields,
		At:       e.At.UTC(),
	})
}
