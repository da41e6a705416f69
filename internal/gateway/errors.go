package gateway

import (
	"fmt"
	"time"
)

// StatusError — коллектор ответил не-2xx статусом.
type StatusError struct {
	Code       int
	RetryAfter time.Duration // из заголовка Retry-After, если он был
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("collector returned %d (retry after %v)", e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("collector returned %d", e.Code)
}
