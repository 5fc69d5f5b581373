package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Топология событий загрузчика.
const (
	// ExchangeEvents — все события жизненного цикла задач.
	ExchangeEvents Exchange = "downpour.events"

	// QueueTaskEvents — события отдельных задач.
	QueueTaskEvents Queue = "events.tasks"

	// QueueStatsEvents — периодические снимки статистики.
	QueueStatsEvents Queue = "events.stats"

	// RoutingKeyTasks и RoutingKeyStats разводят события по очередям.
	RoutingKeyTasks RoutingKey = "tasks"
	RoutingKeyStats RoutingKey = "stats"
)

// SetupTopology объявляет обменник, очереди и привязки.
// Идемпотентна: повторный вызов на живом брокере безопасен.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeEvents),
			"direct",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}

		bindings := []struct {
			queue Queue
			key   RoutingKey
		}{
			{QueueTaskEvents, RoutingKeyTasks},
			{QueueStatsEvents, RoutingKeyStats},
		}

		for _, b := range bindings {
			if _, err := ch.QueueDeclare(
				string(b.queue),
				true,  // durable
				false, // delete when unused
				false, // exclusive
				false, // no-wait
				nil,
			); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}

			if err := ch.QueueBind(
				string(b.queue),
				string(b.key),
				string(ExchangeEvents),
				false,
				nil,
			); err != nil {
				return fmt.Errorf("bind queue %s: %w", b.queue, err)
			}
		}

		return nil
	})
}
