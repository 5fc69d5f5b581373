package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Downpour/internal/domain"
)

const listenerBuffer = 64

// Listener получает события. Вызывается из выделенной горутины
// подписчика, поэтому может работать медленно, не тормозя воркеров.
type Listener func(Event)

// Tracker рассылает события жизненного цикла задач подписчикам.
//
// Рассылка неблокирующая: у каждого подписчика своя горутина и
// буферизованный канал; при переполненном буфере новое событие
// отбрасывается и учитывается в счётчике потерь. Паника подписчика
// гасится и не валит процесс.
type Tracker struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners []chan Event
	closed    bool
	dropped   int64

	wg sync.WaitGroup
}

// NewTracker создаёт трекер событий.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger}
}

// AddListener подписывает функцию на события. Для подписчика
// запускается собственная горутина доставки.
func (t *Tracker) AddListener(fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	ch := make(chan Event, listenerBuffer)
	t.listeners = append(t.listeners, ch)

	t.wg.Add(1)
	go t.deliver(ch, fn)
}

// deliver крутит цикл доставки для одного подписчика.
func (t *Tracker) deliver(ch chan Event, fn Listener) {
	defer t.wg.Done()

	for ev := range ch {
		t.call(fn, ev)
	}
}

// call вызывает подписчика, гася панику.
func (t *Tracker) call(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("listener panicked", "panic", r, "event", ev.Type)
		}
	}()
	fn(ev)
}

// Emit рассылает событие всем подписчикам без блокировки.
func (t *Tracker) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	for _, ch := range t.listeners {
		select {
		case ch <- ev:
		default:
			t.dropped++
			t.logger.Debug("listener buffer full, event dropped",
				"event", ev.Type,
				"dropped_total", t.dropped,
			)
		}
	}
}

// TaskEvent — удобная обёртка для событий с задачей.
func (t *Tracker) TaskEvent(typ EventType, task *domain.Task) {
	ev := Event{Type: typ, Task: task, Timestamp: time.Now()}
	if task != nil {
		ev.TaskID = task.ID
		ev.Error = task.ErrorMessage
	}
	t.Emit(ev)
}

// StatsEvent — удобная обёртка для рассылки агрегатного среза.
func (t *Tracker) StatsEvent(stats *domain.QueueStats) {
	t.Emit(Event{Type: EventStatsUpdate, Stats: stats, Timestamp: time.Now()})
}

// Dropped возвращает число отброшенных событий.
func (t *Tracker) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Close закрывает каналы подписчиков и дожидается доставки
// накопленных событий.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, ch := range t.listeners {
		close(ch)
	}
	t.mu.Unlock()

	t.wg.Wait()
}
