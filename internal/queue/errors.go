package queue

import "errors"

// Ошибки очереди.
var (
	// ErrNoTask — за отведённый таймаут задача не появилась.
	ErrNoTask = errors.New("no task available")

	// ErrInvalidConfig — некорректная конфигурация очереди.
	// Возвращается только из конструктора, никогда посреди работы.
	ErrInvalidConfig = errors.New("invalid queue config")
)
