package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Downpour/internal/domain"
)

// schema — таблицы хранилища. Создаются при старте, если их ещё нет:
// tasks — канонические записи задач, snapshots — time-series агрегатов.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            UUID PRIMARY KEY,
	url           TEXT NOT NULL,
	type          TEXT NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	max_retries   INTEGER NOT NULL DEFAULT 3,
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	error_message TEXT,
	result        JSONB
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

CREATE TABLE IF NOT EXISTS snapshots (
	id               BIGSERIAL PRIMARY KEY,
	ts               TIMESTAMPTZ NOT NULL,
	total_tasks      INTEGER NOT NULL,
	pending_tasks    INTEGER NOT NULL,
	active_tasks     INTEGER NOT NULL,
	completed_tasks  INTEGER NOT NULL,
	failed_tasks     INTEGER NOT NULL,
	success_rate     DOUBLE PRECISION NOT NULL,
	average_duration DOUBLE PRECISION NOT NULL
);
`

// TaskRepo — репозиторий задач загрузки.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (r *TaskRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert сохраняет полную запись задачи (insert-or-replace).
// Вызывается до того, как задача становится видимой воркерам.
func (r *TaskRepo) Upsert(ctx context.Context, task *domain.Task) error {
	metadataJSON, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO tasks (id, url, type, priority, status, retry_count, max_retries,
		                   metadata, created_at, updated_at, completed_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			type = EXCLUDED.type,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message
	`
	_, err = r.pool.Exec(ctx, query,
		task.ID,
		task.URL,
		task.Type,
		task.Priority,
		task.Status,
		task.RetryCount,
		task.MaxRetries,
		metadataJSON,
		task.CreatedAt,
		task.UpdatedAt,
		task.CompletedAt,
		nullString(task.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// GetByID возвращает задачу по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := taskSelect + ` WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// UpdateStatus — транзакционное обновление статуса задачи.
// Для COMPLETED дополнительно ставится отметка завершения, по которой
// считается аналитика длительности.
func (r *TaskRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errMsg string, result *domain.DownloadResult) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	query := `
		UPDATE tasks
		SET status = $2,
		    updated_at = now(),
		    error_message = COALESCE($3, error_message),
		    result = COALESCE($4, result),
		    completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, status, nullString(errMsg), resultJSON)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessing переводит задачу в PROCESSING перед выдачей воркеру.
// Возвращает ErrInvalidState, если задача уже в терминальном статусе.
func (r *TaskRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ResetProcessing возвращает все PROCESSING задачи в PENDING.
// Запускается один раз при старте: прерванный воркер не мог оставить
// задачу действительно "в полёте" через рестарт процесса.
func (r *TaskRepo) ResetProcessing(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = 'pending', updated_at = now()
		WHERE status = 'processing'
	`)
	if err != nil {
		return 0, fmt.Errorf("reset processing tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListRunnable возвращает PENDING и RETRYING задачи в порядке доставки:
// приоритет по убыванию, при равенстве — более ранняя по created_at.
func (r *TaskRepo) ListRunnable(ctx context.Context, limit int) ([]domain.Task, error) {
	query := taskSelect + `
		WHERE status IN ('pending', 'retrying')
		ORDER BY priority DESC, created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runnable tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ListByStatus возвращает задачи в заданном статусе (экспорт).
func (r *TaskRepo) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	query := taskSelect + `
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// Stats собирает агрегатный срез по всем задачам.
func (r *TaskRepo) Stats(ctx context.Context) (*domain.QueueStats, error) {
	stats := &domain.QueueStats{Timestamp: time.Now()}

	var avgSeconds *float64
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'retrying'),
			AVG(EXTRACT(EPOCH FROM (completed_at - created_at))) FILTER (WHERE status = 'completed')
		FROM tasks
	`).Scan(
		&stats.TotalTasks,
		&stats.PendingTasks,
		&stats.ProcessingTasks,
		&stats.CompletedTasks,
		&stats.FailedTasks,
		&stats.RetryingTasks,
		&avgSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	if stats.TotalTasks > 0 {
		stats.SuccessRate = float64(stats.CompletedTasks) / float64(stats.TotalTasks) * 100
	}
	if avgSeconds != nil {
		stats.AverageDuration = time.Duration(*avgSeconds * float64(time.Second))
	}
	return stats, nil
}

// SaveSnapshot добавляет срез в time-series таблицу.
func (r *TaskRepo) SaveSnapshot(ctx context.Context, stats *domain.QueueStats) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO snapshots (ts, total_tasks, pending_tasks, active_tasks,
		                       completed_tasks, failed_tasks, success_rate, average_duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		stats.Timestamp,
		stats.TotalTasks,
		stats.PendingTasks,
		stats.ProcessingTasks,
		stats.CompletedTasks,
		stats.FailedTasks,
		stats.SuccessRate,
		stats.AverageDuration.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots возвращает последние срезы начиная с since.
func (r *TaskRepo) RecentSnapshots(ctx context.Context, since time.Time, limit int) ([]domain.QueueStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ts, total_tasks, pending_tasks, active_tasks,
		       completed_tasks, failed_tasks, success_rate, average_duration
		FROM snapshots
		WHERE ts > $1
		ORDER BY ts DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.QueueStats
	for rows.Next() {
		var s domain.QueueStats
		var avgSeconds float64
		if err := rows.Scan(
			&s.Timestamp,
			&s.TotalTasks,
			&s.PendingTasks,
			&s.ProcessingTasks,
			&s.CompletedTasks,
			&s.FailedTasks,
			&s.SuccessRate,
			&avgSeconds,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.AverageDuration = time.Duration(avgSeconds * float64(time.Second))
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteTerminalBefore удаляет терминальные записи старше cutoff (retention).
func (r *TaskRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Helpers ---

const taskSelect = `
	SELECT id, url, type, priority, status, retry_count, max_retries,
	       metadata, created_at, updated_at, completed_at, error_message
	FROM tasks
`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var metadataJSON []byte
	var errMsg *string

	err := row.Scan(
		&task.ID,
		&task.URL,
		&task.Type,
		&task.Priority,
		&task.Status,
		&task.RetryCount,
		&task.MaxRetries,
		&metadataJSON,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.CompletedAt,
		&errMsg,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &task.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if errMsg != nil {
		task.ErrorMessage = *errMsg
	}
	return &task, nil
}

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
