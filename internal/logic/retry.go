package logic

import (
	"context"
	"errors"
	"time"

	"taxbench/internal/logging"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 2
)

// Retrying bounds every call to the wrapped evaluator by Timeout and retries
// transient failures up to Retries more times.
type Retrying struct {
	name    string
	next    Evaluator
	timeout time.Duration
	retries int
}

// WithRetry wraps next. A non-positive timeout means DefaultTimeout; a
// negative retries count means DefaultRetries.
func WithRetry(name string, next Evaluator, timeout time.Duration, retries int) *Retrying {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries < 0 {
		retries = DefaultRetries
	}
	logging.Logic("%s evaluator: timeout %v, %d retries", name, timeout, retries)
	return &Retrying{name: name, next: next, timeout: timeout, retries: retries}
}

// Evaluate implements Evaluator. A cancelled parent context stops retrying
// immediately.
func (r *Retrying) Evaluate(ctx context.Context, facts []string, query string) (Verdict, error) {
	var lastErr error
	attempts := 0
	for attempts <= r.retries {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		v, err := r.next.Evaluate(callCtx, facts, query)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
		logging.LogicWarn("%s attempt %d/%d for %s: %v", r.name, attempts, r.retries+1, query, err)
	}
	return Verdict{}, &InterpreterError{Backend: r.name, Query: query, Attempts: attempts, Err: lastErr}
}

func retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
