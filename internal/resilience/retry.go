package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/openaleph/openaleph-search/internal/logger"
)

// Config defines retry behavior for backend calls.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig matches the backend client defaults: three attempts with a
// capped exponential backoff.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// StatusError carries an HTTP status from the search backend so the retry
// policy can classify it.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// retryableStatuses are transient backend conditions.
var retryableStatuses = map[int]bool{
	429: true,
	502: true,
	503: true,
	504: true,
}

// Retry executes fn with exponential backoff until it succeeds, returns a
// non-retryable error, exhausts attempts, or the context is done.
func Retry(ctx context.Context, config *Config, fn RetryableFunc) error {
	if config == nil {
		config = DefaultConfig()
	}

	log := logger.New("resilience")
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("Operation succeeded after retry",
					logger.Int("attempt", attempt),
					logger.Duration("duration", time.Since(start)))
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt >= config.MaxAttempts {
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
		}

		delay := calculateDelay(attempt, config)
		log.Debug("Retrying operation",
			logger.Int("attempt", attempt),
			logger.Duration("next_delay", delay),
			logger.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// calculateDelay computes the backoff before the next attempt.
func calculateDelay(attempt int, config *Config) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter {
		// Up to 30% jitter to avoid thundering herds on a recovering cluster.
		delay += rand.Float64() * 0.3 * delay
	}
	return time.Duration(delay)
}

// IsRetryable reports whether an error is a transient backend condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatuses[statusErr.Status]
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	patterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"too many requests",
		"temporarily",
		"eof",
	}
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
