package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Downpour/internal/domain"
)

const defaultEmitInterval = time.Second

// Meter превращает сырые отсчёты байтов в события task_progress
// со скоростью и оценкой оставшегося времени.
//
// События прореживаются: не чаще одного на задачу за интервал,
// финальный отсчёт (written == total) отправляется всегда.
type Meter struct {
	tracker  *Tracker
	interval time.Duration

	mu    sync.Mutex
	marks map[uuid.UUID]*mark

	now func() time.Time
}

type mark struct {
	started  time.Time
	lastEmit time.Time
}

// NewMeter создаёт измеритель поверх трекера.
func NewMeter(tracker *Tracker, interval time.Duration) *Meter {
	if interval <= 0 {
		interval = defaultEmitInterval
	}
	return &Meter{
		tracker:  tracker,
		interval: interval,
		marks:    make(map[uuid.UUID]*mark),
		now:      time.Now,
	}
}

// Observe принимает очередной отсчёт загрузки задачи.
// total < 0 — полный размер неизвестен, ETA не считается.
func (m *Meter) Observe(task *domain.Task, written, total int64) {
	now := m.now()

	m.mu.Lock()
	mk, ok := m.marks[task.ID]
	if !ok {
		mk = &mark{started: now}
		m.marks[task.ID] = mk
	}

	final := total >= 0 && written >= total
	if !final && now.Sub(mk.lastEmit) < m.interval {
		m.mu.Unlock()
		return
	}
	mk.lastEmit = now
	elapsed := now.Sub(mk.started)
	if final {
		delete(m.marks, task.ID)
	}
	m.mu.Unlock()

	p := &TaskProgress{
		BytesDone:  written,
		BytesTotal: total,
	}
	if elapsed > 0 {
		p.Speed = float64(written) / elapsed.Seconds()
	}
	if total > 0 && p.Speed > 0 && written < total {
		p.ETA = time.Duration(float64(total-written) / p.Speed * float64(time.Second))
	}

	m.tracker.Emit(Event{
		Type:     EventTaskProgress,
		TaskID:   task.ID,
		Progress: p,
	})
}

// Forget сбрасывает учёт задачи (терминальный исход без финального отсчёта).
func (m *Meter) Forget(id uuid.UUID) {
	m.mu.Lock()
	delete(m.marks, id)
	m.mu.Unlock()
}
