package service

import (
	"errors"
	"fmt"
)

var (
	ErrBotNotFound          = errors.New("bot not found")
	ErrBotInactive          = errors.New("bot is inactive")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrSourceNotFound       = errors.New("source not found")
	ErrSourceBusy           = errors.New("source is still being processed")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrFileTooLarge         = errors.New("file too large")
)

// QuotaExceededError 携带触发的限额名称，errors.Is(err, ErrQuotaExceeded) 为真
type QuotaExceededError struct {
	Limit string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

func quotaExceeded(limit string) error {
	return &QuotaExceededError{Limit: limit}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
