package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Downpour/internal/domain"
)

// EventType — тип события жизненного цикла задачи.
type EventType string

// Типы событий.
const (
	EventTaskAdded     EventType = "task_added"
	EventTaskStarted   EventType = "task_started"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskRetrying  EventType = "task_retrying"
	EventStatsUpdate   EventType = "stats_update"
)

// TaskProgress — снимок хода загрузки одной задачи.
type TaskProgress struct {
	// BytesDone — скачано байт.
	BytesDone int64 `json:"bytes_done"`

	// BytesTotal — полный размер; -1, если заранее неизвестен.
	BytesTotal int64 `json:"bytes_total"`

	// Speed — скорость в байтах в секунду.
	Speed float64 `json:"speed"`

	// ETA — оценка оставшегося времени; 0, если размер неизвестен.
	ETA time.Duration `json:"eta"`
}

// Event — событие, рассылаемое подписчикам.
type Event struct {
	Type      EventType          `json:"type"`
	TaskID    uuid.UUID          `json:"task_id,omitempty"`
	Task      *domain.Task       `json:"task,omitempty"`
	Progress  *TaskProgress      `json:"progress,omitempty"`
	Stats     *domain.QueueStats `json:"stats,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
