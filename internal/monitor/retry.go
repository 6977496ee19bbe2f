package monitor

import "time"

// RetryController wraps the poller's navigation step and the flow's
// step functions: it classifies failures as retryable or fatal and
// computes the delay before the next attempt.
type RetryController struct {
	autoRetry  bool
	maxRetries int
	delay      time.Duration
}

func NewRetryController(autoRetry bool, maxRetries int, delay time.Duration) *RetryController {
	return &RetryController{
		autoRetry:  autoRetry,
		maxRetries: maxRetries,
		delay:      delay,
	}
}

// Admit decides whether the session gets another attempt after err.
// A retryable failure increments the session's retry count; the
// returned delay applies before the next attempt. ok is false when the
// failure is fatal, retries are exhausted, or auto-retry is off.
func (r *RetryController) Admit(s *Session, err error) (delay time.Duration, ok bool) {
	if !Retryable(err) {
		return 0, false
	}

	s.retryCount++

	if !r.autoRetry || s.retryCount >= r.maxRetries {
		return 0, false
	}
	return r.delay, true
}
