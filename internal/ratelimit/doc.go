// Package ratelimit реализует адаптивный ограничитель скорости запросов.
//
// Лимитер ограничивает темп исходящих операций в трёх горизонтах
// (секунда, минута, час) по скользящему окну и сам подстраивает
// потолки по наблюдаемой доле отказов. Всплеск отказов (5 за 10 секунд)
// переводит лимитер в cooldown, во время которого разрешения не
// выдаются вообще.
//
// Окна — это упорядоченные списки отметок времени; чистятся лениво при
// каждом обращении, фонового обслуживания нет.
package ratelimit
