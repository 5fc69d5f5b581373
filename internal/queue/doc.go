// Package queue реализует долговечную очередь задач загрузки.
//
// Каждая задача сначала фиксируется в хранилище и только потом попадает
// в ограниченный канал доставки, из которого её забирают воркеры.
// Падение процесса не теряет работу: при старте все PROCESSING записи
// принудительно возвращаются в PENDING и незавершённые задачи загружаются
// обратно в канал в порядке приоритета.
//
// Обслуживание (checkpoint агрегатов и чистка старых терминальных записей)
// выполняется по cron-расписанию.
package queue
