package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Downpour/internal/progress"
)

// EventPublisher — мост из трекера прогресса в брокер.
//
// Подписывается на трекер как обычный listener: медленный брокер или
// обрыв соединения воркеров не тормозит. События, пришедшие во время
// reconnect, теряются — для потока прогресса это приемлемо.
type EventPublisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEventPublisher создаёт публикатор событий.
func NewEventPublisher(conn *Connection, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{conn: conn, logger: logger}
}

// Attach подписывает публикатор на трекер.
func (p *EventPublisher) Attach(tracker *progress.Tracker) {
	tracker.AddListener(p.Listener())
}

// Listener возвращает функцию-подписчика для трекера.
func (p *EventPublisher) Listener() progress.Listener {
	return func(ev progress.Event) {
		key := RoutingKeyTasks
		if ev.Type == progress.EventStatsUpdate {
			key = RoutingKeyStats
		}

		if err := p.publish(context.Background(), key, ev); err != nil {
			p.logger.Warn("event not published",
				"event", ev.Type,
				"task_id", ev.TaskID,
				"error", err,
			)
		}
	}
}

// publish сериализует событие и отправляет его в обменник.
func (p *EventPublisher) publish(ctx context.Context, key RoutingKey, ev progress.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeEvents),
			string(key),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.New().String(),
				Timestamp:    time.Now(),
				Type:         string(ev.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish %s: %w", key, err)
		}

		p.logger.Debug("event published", "event", ev.Type, "routing_key", key)
		return nil
	})
}
