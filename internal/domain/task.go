package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Задаётся при создании задачи, если вызывающий не указал свой лимит.
const DefaultMaxRetries = 3

// Task — единица планируемой работы: одна загрузка.
//
// Task создаётся при submit и живёт до терминального статуса.
// ID неизменен на протяжении всей жизни задачи.
type Task struct {
	// ID — уникальный идентификатор задачи.
	ID uuid.UUID `json:"id"`

	// URL — локатор цели загрузки. Для ядра это непрозрачная строка,
	// интерпретирует её только стратегия.
	URL string `json:"url"`

	// Type — категория контента.
	Type TaskType `json:"type"`

	// Priority — приоритет: чем больше, тем раньше задача будет взята.
	// Priority 0 — FIFO-полоса.
	Priority int `json:"priority"`

	// RetryCount — число уже сделанных повторов. Только растёт.
	RetryCount int `json:"retry_count"`

	// MaxRetries — потолок повторов. При его достижении задача
	// терминально проваливается.
	MaxRetries int `json:"max_retries"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// Metadata — произвольные атрибуты задачи.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt — время создания. Используется как tie-break при равном
	// приоритете.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения записи.
	UpdatedAt time.Time `json:"updated_at"`

	// CompletedAt — время успешного завершения (для аналитики длительности).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorMessage — последняя ошибка выполнения.
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewTask создаёт задачу со сгенерированным ID и статусом PENDING.
func NewTask(url string, taskType TaskType, priority int) *Task {
	now := time.Now()
	return &Task{
		ID:         uuid.New(),
		URL:        url,
		Type:       taskType,
		Priority:   priority,
		MaxRetries: DefaultMaxRetries,
		Status:     TaskStatusPending,
		Metadata:   make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IncrementRetry увеличивает счётчик повторов и возвращает true,
// если лимит ещё не исчерпан и задачу можно вернуть в очередь.
func (t *Task) IncrementRetry() bool {
	t.RetryCount++
	t.UpdatedAt = time.Now()
	return t.RetryCount < t.MaxRetries
}

// CanRetry проверяет, остались ли попытки.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// MarkProcessing переводит задачу в PROCESSING.
func (t *Task) MarkProcessing() {
	t.Status = TaskStatusProcessing
	t.UpdatedAt = time.Now()
}

// MarkCompleted переводит задачу в COMPLETED и ставит отметку завершения.
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now
}

// MarkFailed переводит задачу в терминальный FAILED с текстом ошибки.
func (t *Task) MarkFailed(errMsg string) {
	t.Status = TaskStatusFailed
	t.ErrorMessage = errMsg
	t.UpdatedAt = time.Now()
}

// MarkRetrying переводит задачу в RETRYING перед повторной доставкой.
func (t *Task) MarkRetrying() {
	t.Status = TaskStatusRetrying
	t.UpdatedAt = time.Now()
}

// Duration возвращает время от создания до завершения.
// 0, если задача ещё не завершена.
func (t *Task) Duration() time.Duration {
	if t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(t.CreatedAt)
}

// DetectTaskType определяет категорию по локатору.
// Неопознанные локаторы считаются видео.
func DetectTaskType(url string) TaskType {
	lower := strings.ToLower(url)

	switch {
	case strings.Contains(lower, "/user/"):
		return TaskTypeUser
	case strings.Contains(lower, "/video/"), strings.Contains(lower, "/note/"):
		return TaskTypeVideo
	case strings.Contains(lower, "/music/"):
		return TaskTypeAudio
	case strings.Contains(lower, "/mix/"), strings.Contains(lower, "/collection/"):
		return TaskTypeMix
	case strings.Contains(lower, "live."):
		return TaskTypeLive
	default:
		return TaskTypeVideo
	}
}
