package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Downpour/internal/domain"
	"github.com/shaiso/Downpour/internal/progress"
	"github.com/shaiso/Downpour/internal/queue"
	"github.com/shaiso/Downpour/internal/strategy"
	"github.com/shaiso/Downpour/internal/telemetry"
)

// Default configuration values.
const (
	defaultWorkers        = 3
	defaultIdleDelay      = 100 * time.Millisecond
	defaultDequeueTimeout = time.Second
)

// RateLimiter — то, что оркестратору нужно от лимитера.
// Реализуется ratelimit.Limiter; в тестах подменяется noop-фейком.
type RateLimiter interface {
	Acquire()
	RecordFailure()
}

// Stats — агрегатный срез состояния движка.
type Stats struct {
	Queue       *domain.QueueStats `json:"queue"`
	ActiveTasks int                `json:"active_tasks"`
	Completed   int                `json:"completed"`
	Failed      int                `json:"failed"`
	SuccessRate float64            `json:"success_rate"`
}

// Orchestrator — координатор пула воркеров.
//
// Воркеры тянут задачи из двух полос: приоритетной (in-memory список,
// отсортированный по приоритету) и FIFO (канал доставки очереди).
// Приоритетная полоса всегда проверяется первой. Каждая задача
// выполняется ровно одним воркером: владение фиксируется в карте
// активных задач.
type Orchestrator struct {
	queue   *queue.DurableQueue
	limiter RateLimiter
	tracker *progress.Tracker

	workers        int
	priorityLane   bool
	idleDelay      time.Duration
	dequeueTimeout time.Duration

	// strategies отсортированы по убыванию приоритета. Список
	// фиксируется до Start и дальше только читается.
	strategies []strategy.Strategy

	mu        sync.Mutex
	priority  []*domain.Task
	active    map[uuid.UUID]*domain.Task
	completed []*domain.Task
	failed    []*domain.Task

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация оркестратора.
type Config struct {
	// Queue — долговечная очередь задач (обязательно).
	Queue *queue.DurableQueue

	// Limiter — лимитер скорости (обязательно).
	Limiter RateLimiter

	// Tracker — рассылка событий прогресса (опционально).
	Tracker *progress.Tracker

	// Workers — размер пула (default: 3).
	Workers int

	// PriorityLane включает приоритетную полосу: задачи с priority > 0
	// обгоняют FIFO-поток.
	PriorityLane bool

	// IdleDelay — пауза воркера при пустой очереди (default: 100ms).
	IdleDelay time.Duration

	// DequeueTimeout — таймаут одного ожидания FIFO-полосы (default: 1s).
	DequeueTimeout time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт оркестратор.
func New(cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	idleDelay := cfg.IdleDelay
	if idleDelay <= 0 {
		idleDelay = defaultIdleDelay
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = defaultDequeueTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		queue:          cfg.Queue,
		limiter:        cfg.Limiter,
		tracker:        cfg.Tracker,
		workers:        workers,
		priorityLane:   cfg.PriorityLane,
		idleDelay:      idleDelay,
		dequeueTimeout: dequeueTimeout,
		active:         make(map[uuid.UUID]*domain.Task),
		logger:         logger,
	}
}

// RegisterStrategy добавляет стратегию в цепочку.
// Вызывается до Start.
func (o *Orchestrator) RegisterStrategy(s strategy.Strategy) {
	o.strategies = append(o.strategies, s)
	sort.SliceStable(o.strategies, func(i, j int) bool {
		return o.strategies[i].Priority() > o.strategies[j].Priority()
	})
	o.logger.Info("strategy registered", "strategy", s.Name(), "priority", s.Priority())
}

// Start запускает пул воркеров.
func (o *Orchestrator) Start(ctx context.Context) error {
	if len(o.strategies) == 0 {
		return ErrNoStrategies
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"workers", o.workers,
		"priority_lane", o.priorityLane,
	)

	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func(id int) {
			defer o.wg.Done()
			o.workerLoop(ctx, id)
		}(i)
	}

	return nil
}

// Stop останавливает оркестратор и дожидается воркеров.
// Выполняющиеся задачи получают отмену контекста.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли оркестратор.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Submit принимает задачу в работу.
//
// Задача сначала фиксируется в хранилище. Приоритетные задачи
// (priority > 0 при включённой полосе) попадают в in-memory список,
// остальные — в FIFO-канал с backpressure.
func (o *Orchestrator) Submit(ctx context.Context, task *domain.Task) error {
	if o.IsStopped() {
		return ErrStopped
	}

	if o.priorityLane && task.Priority > 0 {
		if err := o.queue.Persist(ctx, task); err != nil {
			return err
		}
		o.pushPriority(task)
	} else {
		if err := o.queue.Enqueue(ctx, task); err != nil {
			return err
		}
	}

	telemetry.TasksSubmitted.Inc()
	telemetry.QueueDepth.Set(float64(o.queue.Size()))
	o.emit(progress.EventTaskAdded, task)

	o.logger.Info("task submitted",
		"task_id", task.ID,
		"type", task.Type,
		"priority", task.Priority,
	)
	return nil
}

// SubmitBatch принимает пачку локаторов как отдельные задачи.
// Порядок сохраняется убывающими приоритетами: первый локатор будет
// взят первым. Категория определяется по локатору.
func (o *Orchestrator) SubmitBatch(ctx context.Context, urls []string) ([]*domain.Task, error) {
	tasks := make([]*domain.Task, 0, len(urls))

	for i, url := range urls {
		task := domain.NewTask(url, domain.DetectTaskType(url), len(urls)-i)
		if err := o.Submit(ctx, task); err != nil {
			return tasks, fmt.Errorf("submit %q: %w", url, err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// Stats возвращает агрегатный срез: хранилище + память процесса.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	qs, err := o.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	s := &Stats{
		Queue:       qs,
		ActiveTasks: len(o.active),
		Completed:   len(o.completed),
		Failed:      len(o.failed),
	}
	// Доля успеха считается от всех задач сессии, включая активные и
	// ожидающие, тем же правилом, что и в хранилище.
	total := len(o.completed) + len(o.failed) + len(o.active) + len(o.priority) + o.queue.Size()
	if total > 0 {
		s.SuccessRate = float64(len(o.completed)) / float64(total) * 100
	}
	return s, nil
}

// ExportResults выгружает итоги сессии в JSON-файл:
// агрегатную статистику и терминальные задачи обеих категорий.
func (o *Orchestrator) ExportResults(ctx context.Context, path string) error {
	stats, err := o.Stats(ctx)
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	report := struct {
		ExportedAt time.Time      `json:"exported_at"`
		Stats      *Stats         `json:"stats"`
		Completed  []*domain.Task `json:"completed"`
		Failed     []*domain.Task `json:"failed"`
	}{
		ExportedAt: time.Now(),
		Stats:      stats,
		Completed:  o.Completed(),
		Failed:     o.Failed(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	o.logger.Info("results exported",
		"path", path,
		"completed", len(report.Completed),
		"failed", len(report.Failed),
	)
	return nil
}

// Completed возвращает копию списка завершённых задач.
func (o *Orchestrator) Completed() []*domain.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*domain.Task(nil), o.completed...)
}

// Failed возвращает копию списка терминально проваленных задач.
func (o *Orchestrator) Failed() []*domain.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*domain.Task(nil), o.failed...)
}

// --- Worker loop ---

// workerLoop — основной цикл воркера. Паника внутри одной задачи
// гасится и не убивает воркера.
func (o *Orchestrator) workerLoop(ctx context.Context, id int) {
	logger := telemetry.WithWorkerID(o.logger, id)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped")
			return
		default:
		}

		task, ok := o.nextTask(ctx, logger)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.idleDelay):
			}
			continue
		}

		o.runTask(ctx, logger, task)
	}
}

// nextTask выбирает следующую задачу: приоритетная полоса впереди FIFO.
func (o *Orchestrator) nextTask(ctx context.Context, logger *slog.Logger) (*domain.Task, bool) {
	if task := o.popPriority(); task != nil {
		if err := o.queue.MarkProcessing(ctx, task); err != nil {
			logger.Error("failed to claim priority task", "task_id", task.ID, "error", err)
			return nil, false
		}
		return task, true
	}

	task, err := o.queue.Dequeue(ctx, o.dequeueTimeout)
	if err != nil {
		if err != queue.ErrNoTask && ctx.Err() == nil {
			logger.Error("dequeue failed", "error", err)
		}
		return nil, false
	}
	return task, true
}

// runTask выполняет одну задачу от захвата до терминального исхода.
func (o *Orchestrator) runTask(ctx context.Context, logger *slog.Logger, task *domain.Task) {
	if err := o.claim(task); err != nil {
		logger.Warn("task skipped", "task_id", task.ID, "error", err)
		return
	}

	// Владение снимается ровно один раз: терминальные пути делают это
	// сами, до фиксации исхода. Defer прикрывает ранние выходы и панику.
	released := false
	defer func() {
		r := recover()
		if !released {
			o.release(task)
		}
		if r != nil {
			logger.Error("worker panic", "task_id", task.ID, "panic", r)
			// Короткая пауза, чтобы сбойная задача не закрутила цикл.
			time.Sleep(o.idleDelay)
		}
	}()

	telemetry.ActiveWorkers.Inc()
	defer telemetry.ActiveWorkers.Dec()
	telemetry.QueueDepth.Set(float64(o.queue.Size()))

	logger = telemetry.WithTaskID(logger, task.ID)
	// Стратегии достают этот логгер через telemetry.FromContext и пишут
	// с теми же worker_id/task_id.
	ctx = telemetry.WithLogger(ctx, logger)
	logger.Info("task started", "url", task.URL, "retry", task.RetryCount)
	o.emit(progress.EventTaskStarted, task)

	gateStart := time.Now()
	o.limiter.Acquire()
	if time.Since(gateStart) > time.Millisecond {
		telemetry.LimiterWaits.Inc()
	}

	started := time.Now()
	result := o.execute(ctx, logger, task)
	telemetry.TaskDuration.Observe(time.Since(started).Seconds())

	if ctx.Err() != nil {
		// Остановка: задача останется PROCESSING и будет возвращена
		// в PENDING восстановлением при следующем старте.
		return
	}

	released = true
	if result.Success {
		o.finishSuccess(ctx, logger, task, result)
	} else {
		o.finishFailure(ctx, logger, task, result)
	}
}

// execute проводит задачу через цепочку стратегий.
// Стратегии пробуются по убыванию приоритета; неудача одной ведёт
// к следующей способной.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, task *domain.Task) *domain.DownloadResult {
	var lastErr string

	for _, s := range o.strategies {
		if !s.CanHandle(task) {
			continue
		}

		sl := telemetry.WithStrategy(logger, s.Name())
		sl.Debug("trying strategy")

		result, err := s.Download(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				return &domain.DownloadResult{Success: false, TaskID: task.ID, ErrorMessage: err.Error()}
			}
			lastErr = err.Error()
			sl.Warn("strategy error", "error", err)
			o.limiter.RecordFailure()
			continue
		}

		if result.Success {
			return result
		}

		lastErr = result.ErrorMessage
		sl.Warn("strategy failed", "error", lastErr)
		o.limiter.RecordFailure()
	}

	if lastErr == "" {
		lastErr = "no strategy can handle task"
	}
	return &domain.DownloadResult{
		Success:      false,
		TaskID:       task.ID,
		ErrorMessage: fmt.Sprintf("all strategies failed: %s", lastErr),
		RetryCount:   task.RetryCount,
	}
}

// finishSuccess фиксирует успех: хранилище, коллекции, события.
func (o *Orchestrator) finishSuccess(ctx context.Context, logger *slog.Logger, task *domain.Task, result *domain.DownloadResult) {
	o.release(task)
	task.MarkCompleted()

	if err := o.queue.UpdateStatus(ctx, task.ID, domain.TaskStatusCompleted, "", result); err != nil {
		logger.Error("failed to persist completion", "error", err)
	}

	o.mu.Lock()
	o.completed = append(o.completed, task)
	o.mu.Unlock()

	telemetry.TasksCompleted.Inc()
	o.emit(progress.EventTaskCompleted, task)

	logger.Info("task completed",
		"duration", task.Duration(),
		"files", len(result.FilePaths),
	)
}

// finishFailure решает судьбу неудачи: повтор или терминальный провал.
func (o *Orchestrator) finishFailure(ctx context.Context, logger *slog.Logger, task *domain.Task, result *domain.DownloadResult) {
	task.ErrorMessage = result.ErrorMessage

	// Владение снимается до возврата в очередь: доставка повтора может
	// обогнать defer воркера, и ещё числящаяся активной задача была бы
	// молча пропущена свободным воркером.
	o.release(task)

	requeued, err := o.queue.Requeue(ctx, task)
	if err != nil {
		logger.Error("requeue failed", "error", err)
		return
	}

	if requeued {
		telemetry.TasksRetried.Inc()
		o.emit(progress.EventTaskRetrying, task)
		logger.Info("task will be retried",
			"retry", task.RetryCount,
			"max_retries", task.MaxRetries,
			"error", result.ErrorMessage,
		)
		return
	}

	o.mu.Lock()
	o.failed = append(o.failed, task)
	o.mu.Unlock()

	telemetry.TasksFailed.Inc()
	o.emit(progress.EventTaskFailed, task)

	logger.Warn("task failed permanently", "error", task.ErrorMessage)
}

// --- Ownership and priority lane ---

// claim фиксирует единоличное владение задачей.
func (o *Orchestrator) claim(task *domain.Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[task.ID]; ok {
		return ErrTaskActive
	}
	o.active[task.ID] = task
	return nil
}

// release снимает владение.
func (o *Orchestrator) release(task *domain.Task) {
	o.mu.Lock()
	delete(o.active, task.ID)
	o.mu.Unlock()
}

// pushPriority вставляет задачу в приоритетный список.
// Порядок: приоритет по убыванию, при равенстве — created_at по возрастанию.
func (o *Orchestrator) pushPriority(task *domain.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.priority = append(o.priority, task)
	sort.SliceStable(o.priority, func(i, j int) bool {
		if o.priority[i].Priority != o.priority[j].Priority {
			return o.priority[i].Priority > o.priority[j].Priority
		}
		return o.priority[i].CreatedAt.Before(o.priority[j].CreatedAt)
	})
}

// popPriority снимает голову приоритетного списка.
func (o *Orchestrator) popPriority() *domain.Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.priority) == 0 {
		return nil
	}
	task := o.priority[0]
	o.priority = o.priority[1:]
	return task
}

// emit отправляет событие, если трекер подключён.
func (o *Orchestrator) emit(typ progress.EventType, task *domain.Task) {
	if o.tracker != nil {
		o.tracker.TaskEvent(typ, task)
	}
}
