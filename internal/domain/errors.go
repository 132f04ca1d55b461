package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrMediaRestricted возвращается загрузчиком, когда платформа запрещает
// скачивание контента этого чата.
var ErrMediaRestricted = errors.New("media download restricted by chat protection")

// RetryAfterError — временная ошибка ограничения частоты запросов с
// известной паузой до следующей попытки.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}
