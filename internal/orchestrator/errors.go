package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrStopped — оркестратор остановлен, новые задачи не принимаются.
	ErrStopped = errors.New("orchestrator stopped")

	// ErrNoStrategies — не зарегистрировано ни одной стратегии.
	ErrNoStrategies = errors.New("no download strategies registered")

	// ErrTaskActive — задача уже выполняется воркером.
	ErrTaskActive = errors.New("task already active")
)
