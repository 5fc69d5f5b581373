// Package orchestrator — координатор пула воркеров.
//
// Обязанности:
//   - приём задач (поштучно и пачками) с приоритетной полосой
//   - раздача задач воркерам: приоритетный список впереди FIFO-канала
//   - прогон задачи через цепочку стратегий с fall-through
//   - учёт исходов: повтор через очередь либо терминальный провал
//   - агрегатная статистика и события прогресса
//
// Каждая задача выполняется ровно одним воркером; владение
// фиксируется в карте активных задач.
package orchestrator
