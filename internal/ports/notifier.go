package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// AlertSender entrega una alerta a un canal concreto (consola, Discord, email...).
// El dispatcher es quien lo llama, nunca el camino de trading.
type AlertSender interface {
	Send(ctx context.Context, event domain.AlertEvent) error
	Name() string
}

// AlertSink es la cola saliente en la que escribe el core. Emit no bloquea.
type AlertSink interface {
	Emit(event domain.AlertEvent)
}
