package strategy

import "strings"

// Verdict — решение классификатора по тексту ошибки.
type Verdict int

const (
	// VerdictRetryable — временный отказ, попытку можно повторить.
	VerdictRetryable Verdict = iota

	// VerdictFatal — повтор бессмыслен, задача проваливается сразу.
	VerdictFatal
)

// retryableErrors — признаки временных отказов.
var retryableErrors = []string{
	"timeout",
	"connection",
	"network",
	"429", // Too Many Requests
	"502", // Bad Gateway
	"503", // Service Unavailable
	"504", // Gateway Timeout
	"empty response",
	"temporary",
}

// fatalErrors — признаки отказов, повтор которых ничего не изменит.
var fatalErrors = []string{
	"404", // Not Found
	"403", // Forbidden
	"401", // Unauthorized
	"410", // Gone
	"invalid",
	"not found",
	"forbidden",
	"unauthorized",
	"deleted",
	"gone",
}

// Classify определяет, стоит ли повторять попытку по тексту ошибки.
//
// Пустое сообщение считается временным отказом. Списки проверяются
// в порядке allow → deny; неопознанное непустое сообщение по умолчанию
// повторяемо.
func Classify(errMsg string) Verdict {
	if errMsg == "" {
		return VerdictRetryable
	}

	lower := strings.ToLower(errMsg)

	for _, marker := range retryableErrors {
		if strings.Contains(lower, marker) {
			return VerdictRetryable
		}
	}
	for _, marker := range fatalErrors {
		if strings.Contains(lower, marker) {
			return VerdictFatal
		}
	}
	return VerdictRetryable
}
