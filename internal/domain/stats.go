package domain

import "time"

// QueueStats — агрегатный срез состояния очереди.
//
// Периодически сохраняется в time-series таблицу (checkpoint) и доступен
// для запроса в любой момент. Носит информационный характер — для
// корректности восстановления не используется.
type QueueStats struct {
	Timestamp       time.Time `json:"timestamp"`
	TotalTasks      int       `json:"total_tasks"`
	PendingTasks    int       `json:"pending_tasks"`
	ProcessingTasks int       `json:"processing_tasks"`
	CompletedTasks  int       `json:"completed_tasks"`
	FailedTasks     int       `json:"failed_tasks"`
	RetryingTasks   int       `json:"retrying_tasks"`

	// SuccessRate — доля завершённых от общего числа, в процентах.
	SuccessRate float64 `json:"success_rate"`

	// AverageDuration — средняя длительность завершённых задач.
	AverageDuration time.Duration `json:"average_duration"`
}
