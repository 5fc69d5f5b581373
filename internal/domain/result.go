package domain

import (
	"time"

	"github.com/google/uuid"
)

// DownloadResult — результат выполнения задачи стратегией.
type DownloadResult struct {
	// Success — завершилась ли загрузка успешно.
	Success bool `json:"success"`

	// TaskID — идентификатор задачи, к которой относится результат.
	TaskID uuid.UUID `json:"task_id"`

	// FilePaths — пути к скачанным файлам.
	FilePaths []string `json:"file_paths,omitempty"`

	// ErrorMessage — текст ошибки при неудаче. По нему retry-декоратор
	// классифицирует отказ как повторяемый или нет.
	ErrorMessage string `json:"error_message,omitempty"`

	// Metadata — дополнительные сведения о результате.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Duration — длительность попытки.
	Duration time.Duration `json:"duration"`

	// RetryCount — счётчик повторов задачи на момент завершения.
	RetryCount int `json:"retry_count"`
}
