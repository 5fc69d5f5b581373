// Package strategy определяет контракт исполнителей загрузки и
// retry-декоратор вокруг них.
//
// Декоратор классифицирует отказ по тексту ошибки (повторяемый /
// неповторяемый), выдерживает паузу с экспоненциальным или табличным
// backoff и джиттером и не трогает саму обёрнутую стратегию.
package strategy
