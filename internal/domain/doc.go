// Package domain содержит модель данных Downpour.
//
// Основные сущности:
//   - Task — единица работы: одна загрузка с приоритетом и статусом
//   - DownloadResult — результат выполнения задачи стратегией
//   - QueueStats — агрегатный срез состояния очереди
//
// Пакет не содержит поведения, кроме переходов статусов самой задачи.
package domain
