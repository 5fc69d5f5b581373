package repo

import "errors"

// Общие ошибки хранилища.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — операция невозможна в текущем статусе задачи.
	ErrInvalidState = errors.New("invalid state")
)
