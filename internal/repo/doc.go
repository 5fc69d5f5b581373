// Package repo предоставляет доступ к долговременному хранилищу (PostgreSQL).
//
// Хранилище — источник истины через рестарты процесса:
//   - tasks     — по одной записи на задачу, полный state machine статусов
//   - snapshots — периодические агрегатные срезы (time-series)
//
// Все изменения записи задачи — одиночные UPDATE/UPSERT, сериализуемые
// на уровне БД.
package repo
