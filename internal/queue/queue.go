package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Downpour/internal/domain"
	"github.com/shaiso/Downpour/internal/progress"
)

// Default configuration values.
const (
	defaultCapacity       = 10000
	defaultCheckpointSpec = "@every 1m"
	defaultCleanupSpec    = "@daily"
	defaultRetention      = 7 * 24 * time.Hour
)

// Store — интерфейс долговременного хранилища задач.
// Реализуется repo.TaskRepo; в тестах подменяется in-memory фейком.
type Store interface {
	Upsert(ctx context.Context, task *domain.Task) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errMsg string, result *domain.DownloadResult) error
	ResetProcessing(ctx context.Context) (int64, error)
	ListRunnable(ctx context.Context, limit int) ([]domain.Task, error)
	Stats(ctx context.Context) (*domain.QueueStats, error)
	SaveSnapshot(ctx context.Context, stats *domain.QueueStats) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DurableQueue — очередь с персистентностью и восстановлением после сбоя.
//
// Инварианты:
//   - запись в хранилище происходит ДО появления задачи в канале доставки
//   - Dequeue транзакционно помечает задачу PROCESSING перед выдачей
//   - заполненный канал доставки блокирует Enqueue (backpressure),
//     а не возвращает ошибку
type DurableQueue struct {
	store    Store
	delivery chan *domain.Task

	// mu сериализует последовательности read-modify-write к хранилищу.
	mu sync.Mutex

	retention time.Duration
	cron      *cron.Cron
	tracker   *progress.Tracker
	logger    *slog.Logger
}

// Config — конфигурация DurableQueue.
type Config struct {
	// Store — долговременное хранилище (обязательно).
	Store Store

	// Capacity — ёмкость канала доставки (default: 10000).
	Capacity int

	// CheckpointSpec — cron-расписание сохранения агрегатного среза
	// (default: "@every 1m").
	CheckpointSpec string

	// CleanupSpec — cron-расписание чистки старых терминальных записей
	// (default: "@daily").
	CleanupSpec string

	// Retention — сколько хранить терминальные записи (default: 7 суток).
	Retention time.Duration

	// Tracker — рассылка событий; каждый checkpoint публикует через
	// него событие stats_update с собранным срезом (опционально).
	Tracker *progress.Tracker

	// Logger
	Logger *slog.Logger
}

// New создаёт очередь. Ошибки конфигурации фатальны на старте.
func New(cfg Config) (*DurableQueue, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}

	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = defaultCapacity
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &DurableQueue{
		store:     cfg.Store,
		delivery:  make(chan *domain.Task, capacity),
		retention: retention,
		cron:      cron.New(),
		tracker:   cfg.Tracker,
		logger:    logger,
	}

	checkpointSpec := cfg.CheckpointSpec
	if checkpointSpec == "" {
		checkpointSpec = defaultCheckpointSpec
	}
	cleanupSpec := cfg.CleanupSpec
	if cleanupSpec == "" {
		cleanupSpec = defaultCleanupSpec
	}

	if _, err := q.cron.AddFunc(checkpointSpec, q.checkpoint); err != nil {
		return nil, fmt.Errorf("%w: checkpoint spec %q: %v", ErrInvalidConfig, checkpointSpec, err)
	}
	if _, err := q.cron.AddFunc(cleanupSpec, q.cleanup); err != nil {
		return nil, fmt.Errorf("%w: cleanup spec %q: %v", ErrInvalidConfig, cleanupSpec, err)
	}

	return q, nil
}

// Recover восстанавливает незавершённую работу из хранилища.
//
// Выполняется один раз при старте, до приёма новых задач:
//  1. Все PROCESSING записи принудительно возвращаются в PENDING.
//  2. PENDING и RETRYING записи загружаются в канал доставки в порядке
//     приоритета (tie-break — created_at), не больше ёмкости канала.
//
// Переполнение молча остаётся в хранилище и будет подхвачено
// следующим рестартом.
func (q *DurableQueue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	reset, err := q.store.ResetProcessing(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	if reset > 0 {
		q.logger.Info("reset interrupted tasks", "count", reset)
	}

	tasks, err := q.store.ListRunnable(ctx, cap(q.delivery))
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}

	restored := 0
	for i := range tasks {
		task := tasks[i]
		task.Status = domain.TaskStatusPending

		select {
		case q.delivery <- &task:
			restored++
		default:
			// Канал полон — остаток остаётся в хранилище.
			q.logger.Warn("delivery channel full during recovery",
				"restored", restored,
				"remaining", len(tasks)-restored,
			)
			return restored, nil
		}
	}

	if restored > 0 {
		q.logger.Info("restored unfinished tasks", "count", restored)
	}
	return restored, nil
}

// Enqueue фиксирует задачу в хранилище и добавляет её в канал доставки.
// Если хранилище недоступно, задача не доставляется. Полный канал
// блокирует вызывающего до освобождения места либо отмены ctx
// (запись при этом уже долговечна).
func (q *DurableQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	if err := q.Persist(ctx, task); err != nil {
		return err
	}

	select {
	case q.delivery <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Persist фиксирует запись задачи в хранилище без доставки.
// Используется для задач приоритетной полосы, которые оркестратор
// держит в собственном отсортированном списке.
func (q *DurableQueue) Persist(ctx context.Context, task *domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Upsert(ctx, task); err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

// Dequeue возвращает следующую задачу либо ErrNoTask по истечении timeout.
// Перед выдачей задача транзакционно помечается PROCESSING в хранилище.
func (q *DurableQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-q.delivery:
		q.mu.Lock()
		err := q.store.MarkProcessing(ctx, task.ID)
		q.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("dequeue %s: %w", task.ID, err)
		}
		task.MarkProcessing()
		return task, nil

	case <-timer.C:
		return nil, ErrNoTask

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MarkProcessing помечает PROCESSING задачу, выданную в обход канала
// (приоритетная полоса оркестратора).
func (q *DurableQueue) MarkProcessing(ctx context.Context, task *domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.MarkProcessing(ctx, task.ID); err != nil {
		return fmt.Errorf("mark processing %s: %w", task.ID, err)
	}
	task.MarkProcessing()
	return nil
}

// UpdateStatus — транзакционное обновление статуса задачи в хранилище.
func (q *DurableQueue) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errMsg string, result *domain.DownloadResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateStatus(ctx, id, status, errMsg, result); err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	return nil
}

// Requeue возвращает неудавшуюся задачу в очередь на повтор.
//
// Увеличивает счётчик повторов; если потолок исчерпан, задача
// терминально помечается FAILED и requeued=false. Иначе задача
// переводится в RETRYING, персистится и снова доставляется.
func (q *DurableQueue) Requeue(ctx context.Context, task *domain.Task) (requeued bool, err error) {
	if !task.IncrementRetry() {
		task.MarkFailed(task.ErrorMessage)
		if err := q.UpdateStatus(ctx, task.ID, domain.TaskStatusFailed, task.ErrorMessage, nil); err != nil {
			return false, err
		}
		return false, nil
	}

	task.MarkRetrying()
	if err := q.Persist(ctx, task); err != nil {
		return false, err
	}

	q.logger.Info("task requeued",
		"task_id", task.ID,
		"retry", task.RetryCount,
		"max_retries", task.MaxRetries,
	)

	select {
	case q.delivery <- task:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Stats возвращает агрегатный срез состояния очереди.
func (q *DurableQueue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return q.store.Stats(ctx)
}

// Size возвращает текущую длину канала доставки.
func (q *DurableQueue) Size() int {
	return len(q.delivery)
}

// StartMaintenance запускает cron-задачи обслуживания:
// checkpoint агрегатов и чистку старых терминальных записей.
func (q *DurableQueue) StartMaintenance() {
	q.cron.Start()
	q.logger.Info("queue maintenance started")
}

// StopMaintenance останавливает cron и дожидается завершения
// выполняющихся задач обслуживания.
func (q *DurableQueue) StopMaintenance() {
	<-q.cron.Stop().Done()
	q.logger.Info("queue maintenance stopped")
}

// checkpoint сохраняет срез агрегатов в time-series таблицу и
// рассылает его подписчикам событием stats_update.
// Срез информационный: на корректность восстановления не влияет.
func (q *DurableQueue) checkpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := q.store.Stats(ctx)
	if err != nil {
		q.logger.Error("checkpoint: failed to collect stats", "error", err)
		return
	}

	if q.tracker != nil {
		q.tracker.StatsEvent(stats)
	}

	if err := q.store.SaveSnapshot(ctx, stats); err != nil {
		q.logger.Error("checkpoint: failed to save snapshot", "error", err)
		return
	}
	q.logger.Debug("checkpoint saved",
		"total", stats.TotalTasks,
		"pending", stats.PendingTasks,
		"completed", stats.CompletedTasks,
		"failed", stats.FailedTasks,
	)
}

// cleanup удаляет терминальные записи старше retention.
func (q *DurableQueue) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := q.store.DeleteTerminalBefore(ctx, time.Now().Add(-q.retention))
	if err != nil {
		q.logger.Error("cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		q.logger.Info("cleaned up old task records", "count", deleted)
	}
}
