// Package progress рассылает события жизненного цикла задач
// подписчикам: CLI-вывод, мост в брокер, метрики.
//
// Доставка изолирована от воркеров: медленный или упавший подписчик
// не влияет ни на загрузки, ни на других подписчиков.
package progress
