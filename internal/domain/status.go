package domain

// TaskStatus — статус жизненного цикла задачи загрузки.
//
// Жизненный цикл:
//
//	PENDING → PROCESSING → COMPLETED
//	                     ↘ FAILED
//	          PROCESSING → RETRYING → PENDING (цикл, пока retry_count < max_retries)
//
// При аварийном рестарте все PROCESSING принудительно возвращаются в PENDING
// (правило восстановления очереди).
type TaskStatus string

const (
	// TaskStatusPending — задача ожидает выполнения.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusProcessing — задача выполняется воркером.
	TaskStatusProcessing TaskStatus = "processing"

	// TaskStatusCompleted — задача успешно завершена.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed — задача окончательно провалена (лимит retry исчерпан
	// либо ошибка классифицирована как неповторяемая).
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusRetrying — задача ожидает повторной доставки после неудачи.
	TaskStatusRetrying TaskStatus = "retrying"
)

// IsTerminal возвращает true, если статус финальный.
// Из терминального статуса задача не выходит — только удаление по retention.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// TaskType — категория контента, который скачивает задача.
type TaskType string

const (
	TaskTypeVideo TaskType = "video"
	TaskTypeImage TaskType = "image"
	TaskTypeAudio TaskType = "audio"
	TaskTypeUser  TaskType = "user"
	TaskTypeMix   TaskType = "mix"
	TaskTypeLive  TaskType = "live"
)
