package providers

import (
	"context"
	"errors"
	"time"

	"github.com/charlievoice/charlie/pkg/logger"
)

// RetryingCompleter wraps a Completer with exponential backoff on
// transient failures. Permanent failures return immediately.
type RetryingCompleter struct {
	inner      Completer
	maxRetries int
	baseDelay  time.Duration
}

func NewRetryingCompleter(inner Completer, maxRetries int, baseDelay time.Duration) *RetryingCompleter {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	return &RetryingCompleter{inner: inner, maxRetries: maxRetries, baseDelay: baseDelay}
}

func (r *RetryingCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	delay := r.baseDelay
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			logger.WarnCF("providers", "retrying completion after transient failure", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		text, err := r.inner.Complete(ctx, messages)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrTransient) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
