package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shaiso/Downpour/internal/domain"
)

// Пределы backoff по умолчанию.
const (
	defaultMaxRetries = 3
	maxBackoff        = 30 * time.Second

	// Джиттер: равномерная добавка 0–30% от задержки, чтобы параллельные
	// задачи не повторяли попытки синхронно.
	jitterFraction = 0.3
)

// defaultDelays — табличный режим backoff; последний элемент
// переиспользуется для всех последующих попыток.
var defaultDelays = []time.Duration{
	time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// RetryStats — счётчики декоратора.
type RetryStats struct {
	TotalRetries      int64 `json:"total_retries"`
	SuccessfulRetries int64 `json:"successful_retries"`
	FailedRetries     int64 `json:"failed_retries"`
}

// Backoff — режим вычисления паузы между попытками.
type Backoff string

const (
	// BackoffTable — задержка берётся из таблицы по номеру попытки,
	// последний элемент переиспользуется.
	BackoffTable Backoff = "table"

	// BackoffExponential — min(2^attempt, 30) секунд.
	BackoffExponential Backoff = "exponential"
)

// RetryConfig — конфигурация retry-декоратора.
type RetryConfig struct {
	// MaxRetries — максимум попыток за один вызов Download (default: 3).
	MaxRetries int

	// Backoff — режим пауз (default: BackoffTable).
	Backoff Backoff

	// Delays — таблица задержек для BackoffTable
	// (default: 1s, 2s, 5s, 10s, 30s).
	Delays []time.Duration

	// Logger
	Logger *slog.Logger
}

// Retry оборачивает любую стратегию единым retry-контрактом,
// не изменяя саму стратегию. Имя и приоритет наследуются.
type Retry struct {
	inner      Strategy
	maxRetries int
	backoff    Backoff
	delays     []time.Duration

	mu    sync.Mutex
	stats RetryStats

	logger *slog.Logger

	// Подменяются в тестах.
	sleep func(time.Duration)
	rand  func() float64
}

// NewRetry создаёт retry-обёртку вокруг inner.
func NewRetry(inner Strategy, cfg RetryConfig) *Retry {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	backoff := cfg.Backoff
	if backoff == "" {
		backoff = BackoffTable
	}

	delays := cfg.Delays
	if len(delays) == 0 {
		delays = defaultDelays
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Retry{
		inner:      inner,
		maxRetries: maxRetries,
		backoff:    backoff,
		delays:     delays,
		logger:     logger,
		sleep:      time.Sleep,
		rand:       rand.Float64,
	}
}

// Name возвращает имя с пометкой обёртки.
func (r *Retry) Name() string {
	return fmt.Sprintf("retry(%s)", r.inner.Name())
}

// Priority наследует приоритет обёрнутой стратегии.
func (r *Retry) Priority() int {
	return r.inner.Priority()
}

// CanHandle делегирует обёрнутой стратегии.
func (r *Retry) CanHandle(task *domain.Task) bool {
	return r.inner.CanHandle(task)
}

// Download выполняет задачу с повторами.
//
// Отказ классифицируется по тексту ошибки: неповторяемый возвращается
// сразу, независимо от оставшихся попыток. Между попытками выдерживается
// пауза с джиттером. Счётчик повторов задачи никогда не превышает её
// собственный потолок.
func (r *Retry) Download(ctx context.Context, task *domain.Task) (*domain.DownloadResult, error) {
	var lastErr string

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			task.MarkRetrying()
			r.logger.Info("retrying task",
				"task_id", task.ID,
				"attempt", attempt+1,
				"max_attempts", r.maxRetries,
			)
		}

		result, err := r.inner.Download(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err.Error()
		} else if result != nil && result.Success {
			if attempt > 0 {
				r.mu.Lock()
				r.stats.SuccessfulRetries++
				r.mu.Unlock()
				r.logger.Info("retry succeeded", "task_id", task.ID, "attempt", attempt+1)
			}
			return result, nil
		} else if result != nil {
			lastErr = result.ErrorMessage
		}

		if Classify(lastErr) == VerdictFatal {
			r.logger.Warn("non-retryable failure", "task_id", task.ID, "error", lastErr)
			if result != nil {
				return result, nil
			}
			break
		}

		// Последняя попытка — пауза уже не нужна.
		if attempt == r.maxRetries-1 {
			break
		}
		// Потолок самой задачи исчерпан.
		if !task.CanRetry() {
			break
		}

		delay := r.delay(attempt)
		r.logger.Debug("backing off", "task_id", task.ID, "delay", delay)

		if err := r.wait(ctx, delay); err != nil {
			return nil, err
		}

		task.IncrementRetry()
		r.mu.Lock()
		r.stats.TotalRetries++
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.stats.FailedRetries++
	r.mu.Unlock()

	return &domain.DownloadResult{
		Success:      false,
		TaskID:       task.ID,
		ErrorMessage: fmt.Sprintf("failed after %d attempts: %s", r.maxRetries, lastErr),
		RetryCount:   task.RetryCount,
	}, nil
}

// Stats возвращает копию счётчиков.
func (r *Retry) Stats() RetryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// delay вычисляет паузу перед следующей попыткой.
func (r *Retry) delay(attempt int) time.Duration {
	var base time.Duration

	switch r.backoff {
	case BackoffExponential:
		base = time.Duration(1<<uint(attempt)) * time.Second
		if base > maxBackoff {
			base = maxBackoff
		}
	default:
		if attempt < len(r.delays) {
			base = r.delays[attempt]
		} else {
			base = r.delays[len(r.delays)-1]
		}
	}

	jitter := time.Duration(r.rand() * jitterFraction * float64(base))
	return base + jitter
}

// wait спит delay с учётом отмены контекста.
func (r *Retry) wait(ctx context.Context, delay time.Duration) error {
	done := make(chan struct{})
	go func() {
		r.sleep(delay)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
