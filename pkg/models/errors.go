package models

import (
	"errors"
	"fmt"
)

// Turn failure taxonomy. Classifier and session-state corruption are
// recovered locally with safe defaults; quota and backend failures are
// surfaced to the caller as user-visible, localized text.
var (
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrBackendUnavailable    = errors.New("completion backend unavailable")
	ErrBillingUnavailable    = errors.New("billing unavailable")
	ErrMalformedSessionState = errors.New("malformed session state")
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
)

// ErrClassifierMalformed marks classifier output that could not be
// parsed. It wraps ErrClassifierUnavailable so fail-open handling still
// applies, but callers can tell it apart from a transport failure that
// is worth retrying.
var ErrClassifierMalformed = fmt.Errorf("classifier returned malformed output: %w", ErrClassifierUnavailable)

// Retryable reports whether the caller may retry the turn later.
func Retryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrBillingUnavailable)
}

// userMessages maps error kinds to localized user-visible text.
var userMessages = map[string]map[error]string{
	"fa": {
		ErrQuotaExceeded:      "سهمیه توکن شما به پایان رسیده است. لطفاً اشتراک خود را تمدید کنید.",
		ErrBackendUnavailable: "سرویس پاسخگویی در دسترس نیست. لطفاً چند لحظه دیگر دوباره تلاش کنید.",
		ErrBillingUnavailable: "بررسی اشتراک ممکن نیست. لطفاً بعداً دوباره تلاش کنید.",
		ErrInvalidInput:       "پیام ارسالی معتبر نیست.",
	},
	"en": {
		ErrQuotaExceeded:      "Your token quota is exhausted. Please renew your subscription.",
		ErrBackendUnavailable: "The assistant backend is unavailable. Please try again shortly.",
		ErrBillingUnavailable: "Subscription check failed. Please try again later.",
		ErrInvalidInput:       "The submitted message is not valid.",
	},
}

// UserMessage returns localized failure text for a turn error. Unknown
// errors and unknown languages fall back to English generic text.
func UserMessage(err error, lang string) string {
	msgs, ok := userMessages[lang]
	if !ok {
		msgs = userMessages["en"]
	}
	for kind, text := range msgs {
		if errors.Is(err, kind) {
			return text
		}
	}
	if lang == "fa" {
		return "خطای غیرمنتظره‌ای رخ داد."
	}
	return "An unexpected error occurred."
}
