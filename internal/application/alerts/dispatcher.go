// Package alerts desacopla la entrega de alertas del camino de trading.
//
// El core escribe en una cola con Emit (nunca bloquea); Run consume la cola,
// suprime duplicados dentro del cooldown y entrega a cada sender con rate
// limit y reintentos.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const drainTimeout = 5 * time.Second

// Config controla la cola y la política de entrega.
type Config struct {
	QueueSize       int
	Cooldown        time.Duration // misma alerta (tipo+mensaje) se suprime dentro de esta ventana
	RatePerSecond   float64       // por sender; 0 = sin límite
	Burst           int
	RetryMaxTries   uint
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
}

// DefaultConfig: cola de 256 y cooldown de 5 minutos.
func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		Cooldown:        5 * time.Minute,
		RatePerSecond:   1,
		Burst:           5,
		RetryMaxTries:   3,
		RetryInitial:    500 * time.Millisecond,
		RetryMaxElapsed: 30 * time.Second,
	}
}

type route struct {
	sender  ports.AlertSender
	min     domain.Severity
	limiter *rate.Limiter
}

// Dispatcher implementa ports.AlertSink.
type Dispatcher struct {
	cfg    Config
	queue  chan domain.AlertEvent
	now    func() time.Time
	routes []route

	mu       sync.Mutex
	lastSent map[string]time.Time

	dropped    atomic.Int64
	delivered  atomic.Int64
	suppressed atomic.Int64
}

// New crea un Dispatcher sin senders.
func New(cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RetryMaxTries == 0 {
		cfg.RetryMaxTries = def.RetryMaxTries
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = def.RetryInitial
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = def.RetryMaxElapsed
	}
	return &Dispatcher{
		cfg:      cfg,
		queue:    make(chan domain.AlertEvent, cfg.QueueSize),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// WithClock reemplaza el reloj usado para el cooldown (tests).
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// AddSender registra un canal que recibe alertas de severidad >= min.
// Debe llamarse antes de Run.
func (d *Dispatcher) AddSender(s ports.AlertSender, minSeverity domain.Severity) {
	limit := rate.Inf
	if d.cfg.RatePerSecond > 0 {
		limit = rate.Limit(d.cfg.RatePerSecond)
	}
	burst := d.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	d.routes = append(d.routes, route{
		sender:  s,
		min:     minSeverity,
		limiter: rate.NewLimiter(limit, burst),
	})
}

// Emit encola la alerta sin bloquear. Con la cola llena la alerta se descarta.
func (d *Dispatcher) Emit(e domain.AlertEvent) {
	if e.At.IsZero() {
		e.At = d.now()
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		slog.Warn("alert queue full, dropping alert", "type", e.Type, "title", e.Title)
	}
}

// Stats devuelve los contadores de entrega.
func (d *Dispatcher) Stats() (delivered, suppressed, dropped int64) {
	return d.delivered.Load(), d.suppressed.Load(), d.dropped.Load()
}

// Run consume la cola hasta que se cancela el contexto. Al salir intenta
// entregar lo que quede en cola durante unos segundos.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case e := <-d.queue:
			if ctx.Err() != nil {
				d.drain(e)
				return nil
			}
			d.deliver(ctx, e)
		}
	}
}

// drain entrega pending y lo que quede en cola con un contexto propio.
func (d *Dispatcher) drain(pending ...domain.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, e := range pending {
		d.deliver(ctx, e)
	}
	for {
		select {
		case e := <-d.queue:
			d.deliver(ctx, e)
		default:
			return
		}
	}
}

// deliver aplica el cooldown y envía a cada sender que acepte la severidad.
func (d *Dispatcher) deliver(ctx context.Context, e domain.AlertEvent) {
	if d.duplicate(e) {
		d.suppressed.Add(1)
		slog.Debug("alert suppressed by cooldown", "type", e.Type, "message", e.Message)
		return
	}

	for _, r := range d.routes {
		if e.Severity < r.min {
			continue
		}
		if err := d.send(ctx, r, e); err != nil {
			slog.Warn("alert delivery failed", "sender", r.sender.Name(), "type", e.Type, "err", err)
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) send(ctx context.Context, r route, e domain.AlertEvent) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.RetryInitial
	policy.MaxInterval = d.cfg.RetryInitial * 10

	notify := func(err error, wait time.Duration) {
		slog.Debug("retrying alert delivery", "sender", r.sender.Name(), "wait", wait, "err", err)
	}
	op := func() (struct{}, error) {
		return struct{}{}, r.sender.Send(ctx, e)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(d.cfg.RetryMaxTries),
		backoff.WithMaxElapsedTime(d.cfg.RetryMaxElapsed),
		backoff.WithNotify(notify),
	)
	return err
}

// duplicate devuelve true si la misma alerta se entregó dentro del cooldown.
func (d *Dispatcher) duplicate(e domain.AlertEvent) bool {
	if d.cfg.Cooldown <= 0 {
		return false
	}
	key := e.DedupKey()
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cfg.Cooldown {
		return true
	}
	for k, t := range d.lastSent {
		if now.Sub(t) >= d.cfg.Cooldown {
			delete(d.lastSent, k)
		}
	}
	d.lastSent[key] = now
	return false
}
