package resilience

import (
	"context"
	"errors"
	"net"
	"time"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// DependencyFailure reports whether err should count against a remote
// dependency's breaker. Caller cancellation and 4xx responses other than
// 408 and 429 describe the request, not the dependency.
func DependencyFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	status, ok := StatusOf(err)
	if !ok {
		return true
	}
	if status >= 400 && status < 500 {
		return status == 408 || status == 429
	}
	return true
}

func retryable(err error, onStatus func(status int) bool, onMissing bool) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	status, ok := StatusOf(err)
	if !ok {
		return onMissing
	}
	return onStatus(status)
}

// NetworkPolicy retries transport failures and 5xx, 408 and 429 responses.
func NetworkPolicy() RetryOptions {
	return RetryOptions{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Exponential: true,
		Jitter:      true,
		RetryCondition: func(err error) bool {
			return retryable(err, func(s int) bool {
				return s >= 500 || s == 408 || s == 429
			}, true)
		},
	}
}

// AIServicePolicy retries provider overload responses.
func AIServicePolicy() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Exponential: true,
		Jitter:      true,
		RetryCondition: func(err error) bool {
			return retryable(err, func(s int) bool {
				return s == 502 || s == 503 || s == 429
			}, false)
		},
	}
}

// APIPolicy retries generic API failures.
func APIPolicy() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Exponential: true,
		Jitter:      true,
		RetryCondition: func(err error) bool {
			return retryable(err, func(s int) bool {
				return s >= 500 || s == 429
			}, false)
		},
	}
}

// DatabasePolicy retries storage calls fronted by an HTTP gateway.
func DatabasePolicy() RetryOptions {
	return RetryOptions{
		MaxAttempts: 2,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Exponential: true,
		Jitter:      true,
		RetryCondition: func(err error) bool {
			return retryable(err, func(s int) bool {
				return s == 502 || s == 503
			}, false)
		},
	}
}
