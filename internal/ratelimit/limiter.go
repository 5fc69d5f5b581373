package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Strategy — режим работы лимитера.
type Strategy string

const (
	// StrategyFixed — фиксированные потолки, без самоподстройки.
	StrategyFixed Strategy = "fixed"

	// StrategyAdaptive — потолки подстраиваются по доле отказов.
	StrategyAdaptive Strategy = "adaptive"

	// StrategyBurst — дополнительно ограничивается всплеск:
	// число разрешений внутри 100 мс микроокна.
	StrategyBurst Strategy = "burst"
)

// Горизонты и константы подстройки.
const (
	windowSecond = time.Second
	windowMinute = time.Minute
	windowHour   = time.Hour

	// Хранение записей: запросы — час, отказы — 10 минут.
	requestRetention = time.Hour
	failureRetention = 10 * time.Minute

	// Всплеск отказов: 5 за 10 секунд → cooldown.
	failureBurstWindow = 10 * time.Second
	failureBurstCount  = 5

	// Микроокно режима burst.
	burstWindow = 100 * time.Millisecond

	// Коэффициенты сжатия/роста потолков и их нижние границы.
	shrinkFactor = 0.7
	growFactor   = 1.2

	floorPerSecond = 1
	floorPerMinute = 10
	floorPerHour   = 100

	// Пороги самоподстройки по доле отказов за минуту.
	shrinkFailureRatio = 0.3
	growFailureRatio   = 0.05
	minAdjustSample    = 10
	minGrowSample      = 20
)

// ErrInvalidConfig — некорректная конфигурация лимитера.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Config — конфигурация лимитера.
type Config struct {
	// Потолки по горизонтам (defaults: 2 / 30 / 1000).
	MaxPerSecond int
	MaxPerMinute int
	MaxPerHour   int

	// BurstSize — потолок микроокна в режиме burst (default: 5).
	BurstSize int

	// Strategy — режим работы (default: adaptive).
	Strategy Strategy

	// Cooldown — длительность паузы после всплеска отказов (default: 60s).
	Cooldown time.Duration

	// Logger
	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.MaxPerSecond == 0 {
		cfg.MaxPerSecond = 2
	}
	if cfg.MaxPerMinute == 0 {
		cfg.MaxPerMinute = 30
	}
	if cfg.MaxPerHour == 0 {
		cfg.MaxPerHour = 1000
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 5
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAdaptive
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (c *Config) validate() error {
	if c.MaxPerSecond < 1 || c.MaxPerMinute < 1 || c.MaxPerHour < 1 {
		return fmt.Errorf("%w: horizon ceilings must be >= 1", ErrInvalidConfig)
	}
	if c.BurstSize < 1 {
		return fmt.Errorf("%w: burst size must be >= 1", ErrInvalidConfig)
	}
	switch c.Strategy {
	case StrategyFixed, StrategyAdaptive, StrategyBurst:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats — счётчики лимитера.
type Stats struct {
	TotalRequests   int64   `json:"total_requests"`
	BlockedWaits    int64   `json:"blocked_waits"`
	RateAdjustments int64   `json:"rate_adjustments"`
	CurrentRate     int     `json:"current_rate"`
	FailureRate     float64 `json:"failure_rate"`
}

// Limiter — адаптивный лимитер с тремя горизонтами.
//
// Acquire намеренно не принимает context: начатое ожидание доводится до
// конца (cooldown абсолютен), а сериализация ожидающих под одним мьютексом
// гарантирует, что на момент выдачи ни один горизонт не превышен.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	requests []time.Time
	failures []time.Time

	// Текущие потолки; сжимаются при отказах, растут при тихой минуте,
	// но никогда не превышают сконфигурированные максимумы.
	curPerSecond int
	curPerMinute int
	curPerHour   int

	cooldownUntil time.Time
	stats         Stats

	// Подменяются в тестах, чтобы не спать по-настоящему.
	now   func() time.Time
	sleep func(time.Duration)
}

// New создаёт лимитер. Ошибка конфигурации фатальна на старте.
func New(cfg Config) (*Limiter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Limiter{
		cfg:          cfg,
		curPerSecond: cfg.MaxPerSecond,
		curPerMinute: cfg.MaxPerMinute,
		curPerHour:   cfg.MaxPerHour,
		stats:        Stats{CurrentRate: cfg.MaxPerSecond},
		now:          time.Now,
		sleep:        time.Sleep,
	}, nil
}

// Acquire блокирует вызывающего до появления свободного слота и
// записывает выданное разрешение.
func (l *Limiter) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Cooldown абсолютен: досыпаем остаток целиком, потом продолжаем.
	if l.cooldownUntil.After(now) {
		remaining := l.cooldownUntil.Sub(now)
		l.cfg.Logger.Warn("rate limiter in cooldown", "remaining", remaining)
		l.sleep(remaining)
		l.cooldownUntil = time.Time{}
		now = l.now()
	}

	l.prune(now)

	for !l.canProceed(now) {
		wait := l.waitTime(now)
		l.stats.BlockedWaits++
		l.cfg.Logger.Debug("rate limited", "wait", wait)
		l.sleep(wait)
		now = l.now()
		l.prune(now)
	}

	l.requests = append(l.requests, now)
	l.stats.TotalRequests++

	if l.cfg.Strategy == StrategyAdaptive {
		l.adjustRate(now)
	}
}

// RecordFailure фиксирует отказ внешней операции.
// 5 и более отказов за последние 10 секунд переводят лимитер в cooldown
// и сжимают потолки.
func (l *Limiter) RecordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.failures = append(l.failures, now)

	if l.countSince(l.failures, now, failureBurstWindow) >= failureBurstCount {
		l.cfg.Logger.Warn("failure burst detected, entering cooldown",
			"cooldown", l.cfg.Cooldown,
		)
		l.cooldownUntil = now.Add(l.cfg.Cooldown)
		l.decreaseRate()
	}
}

// SetCooldown вручную назначает паузу (внешний сигнал о блокировке).
func (l *Limiter) SetCooldown(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldownUntil = l.now().Add(d)
	l.cfg.Logger.Info("manual cooldown set", "duration", d)
}

// Stats возвращает копию счётчиков.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.CurrentRate = l.curPerSecond
	return s
}

// --- Internals (вызываются под l.mu) ---

// canProceed проверяет, свободен ли слот во всех горизонтах.
func (l *Limiter) canProceed(now time.Time) bool {
	if l.countSince(l.requests, now, windowSecond) >= l.curPerSecond {
		return false
	}
	if l.countSince(l.requests, now, windowMinute) >= l.curPerMinute {
		return false
	}
	if l.countSince(l.requests, now, windowHour) >= l.curPerHour {
		return false
	}
	if l.cfg.Strategy == StrategyBurst &&
		l.countSince(l.requests, now, burstWindow) >= l.cfg.BurstSize {
		return false
	}
	return true
}

// waitTime — минимальное время до выхода самой старой записи из самого
// тесного нарушенного горизонта.
func (l *Limiter) waitTime(now time.Time) time.Duration {
	min := time.Duration(0)

	consider := func(window time.Duration, ceiling int) {
		if l.countSince(l.requests, now, window) < ceiling {
			return
		}
		oldest := l.oldestSince(now, window)
		wait := window - now.Sub(oldest)
		if wait <= 0 {
			wait = time.Millisecond
		}
		if min == 0 || wait < min {
			min = wait
		}
	}

	consider(windowSecond, l.curPerSecond)
	consider(windowMinute, l.curPerMinute)
	consider(windowHour, l.curPerHour)
	if l.cfg.Strategy == StrategyBurst {
		consider(burstWindow, l.cfg.BurstSize)
	}

	if min == 0 {
		min = 100 * time.Millisecond
	}
	return min
}

// prune лениво удаляет записи старше срока хранения.
func (l *Limiter) prune(now time.Time) {
	l.requests = dropOlder(l.requests, now.Add(-requestRetention))
	l.failures = dropOlder(l.failures, now.Add(-failureRetention))
}

// adjustRate — самоподстройка после выданного разрешения.
func (l *Limiter) adjustRate(now time.Time) {
	recentRequests := l.countSince(l.requests, now, windowMinute)
	if recentRequests <= minAdjustSample {
		return
	}

	recentFailures := l.countSince(l.failures, now, windowMinute)
	ratio := float64(recentFailures) / float64(recentRequests)
	l.stats.FailureRate = ratio

	switch {
	case ratio > shrinkFailureRatio:
		l.decreaseRate()
	case ratio < growFailureRatio && recentRequests > minGrowSample:
		l.increaseRate()
	}
}

func (l *Limiter) decreaseRate() {
	old := l.curPerSecond

	l.curPerSecond = maxInt(floorPerSecond, int(float64(l.curPerSecond)*shrinkFactor))
	l.curPerMinute = maxInt(floorPerMinute, int(float64(l.curPerMinute)*shrinkFactor))
	l.curPerHour = maxInt(floorPerHour, int(float64(l.curPerHour)*shrinkFactor))

	if old != l.curPerSecond {
		l.stats.RateAdjustments++
		l.cfg.Logger.Info("rate decreased", "old", old, "new", l.curPerSecond)
	}
}

func (l *Limiter) increaseRate() {
	old := l.curPerSecond

	// Рост никогда не превышает исходную конфигурацию.
	l.curPerSecond = minInt(l.cfg.MaxPerSecond, int(float64(l.curPerSecond)*growFactor))
	l.curPerMinute = minInt(l.cfg.MaxPerMinute, int(float64(l.curPerMinute)*growFactor))
	l.curPerHour = minInt(l.cfg.MaxPerHour, int(float64(l.curPerHour)*growFactor))

	if old != l.curPerSecond {
		l.stats.RateAdjustments++
		l.cfg.Logger.Info("rate increased", "old", old, "new", l.curPerSecond)
	}
}

func (l *Limiter) countSince(records []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}

// oldestSince — самая старая запись внутри окна.
func (l *Limiter) oldestSince(now time.Time, window time.Duration) time.Time {
	cutoff := now.Add(-window)
	for _, r := range l.requests {
		if r.After(cutoff) {
			return r
		}
	}
	return now
}

func dropOlder(records []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(records) && !records[i].After(cutoff) {
		i++
	}
	return records[i:]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
