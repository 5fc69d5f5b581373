// Package mq — необязательный мост событий в RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect и graceful shutdown
//   - topology.go   — обменник downpour.events, очереди, привязки
//   - publisher.go  — подписчик трекера, публикующий события
//
// Маршрутизация:
//   - события задач   → events.tasks  [routing: tasks]
//   - снимки статистики → events.stats [routing: stats]
//
// Демон работает и без брокера: мост подключается только когда
// задан его адрес.
package mq
