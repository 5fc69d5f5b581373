package strategy

import (
	"context"

	"github.com/shaiso/Downpour/internal/domain"
)

// Strategy — контракт исполнителя загрузки.
//
// Оркестратор рассматривает стратегии как упорядоченную взаимозаменяемую
// цепочку: перебирает их по убыванию приоритета, спрашивая CanHandle,
// и при неудаче одной способной стратегии проваливается к следующей.
// Retry-обёртка сама реализует Strategy, поэтому может стоять в цепочке
// наравне с остальными.
type Strategy interface {
	// Name — идентификатор стратегии.
	Name() string

	// Priority — приоритет в цепочке: чем больше, тем раньше пробуется.
	Priority() int

	// CanHandle сообщает, умеет ли стратегия обработать задачу.
	CanHandle(task *domain.Task) bool

	// Download выполняет загрузку. Логическая неудача возвращается
	// через DownloadResult.ErrorMessage; error — только для
	// инфраструктурных сбоев (отмена контекста и т.п.).
	Download(ctx context.Context, task *domain.Task) (*domain.DownloadResult, error)
}
