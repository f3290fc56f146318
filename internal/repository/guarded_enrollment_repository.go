package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spec-kit/lms-api/internal/domain"
)

// BreakerSettings tunes the circuit breaker around the enrollment store.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

type guardedEnrollmentRepository struct {
	next    EnrollmentRepository
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedEnrollmentRepository wraps next in a circuit breaker. While the
// breaker is open lookups fail immediately with gobreaker.ErrOpenState.
// Lookups are never retried.
func NewGuardedEnrollmentRepository(next EnrollmentRepository, settings BreakerSettings, logger *zap.Logger) EnrollmentRepository {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "enrollments",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		IsSuccessful: func(err error) bool {
			var abandoned *abandonedLookupError
			return err == nil || errors.As(err, &abandoned)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &guardedEnrollmentRepository{next: next, breaker: breaker}
}

// abandonedLookupError marks a lookup cut short by the caller cancelling its
// request. It says nothing about the health of the store.
type abandonedLookupError struct {
	err error
}

func (e *abandonedLookupError) Error() string { return e.err.Error() }

func (e *abandonedLookupError) Unwrap() error { return e.err }

// FindPaidEnrollment runs the lookup through the breaker. Callers whose
// context is already done never reach the breaker, and lookups abandoned by
// a cancelled caller are not counted against the store.
func (r *guardedEnrollmentRepository) FindPaidEnrollment(ctx context.Context, studentID, courseID string) (*domain.Enrollment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := r.breaker.Execute(func() (interface{}, error) {
		enrollment, err := r.next.FindPaidEnrollment(ctx, studentID, courseID)
		if err != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, &abandonedLookupError{err: err}
		}
		return enrollment, err
	})
	if err != nil {
		var abandoned *abandonedLookupError
		if errors.As(err, &abandoned) {
			return nil, abandoned.err
		}
		return nil, err
	}
	enrollment, _ := res.(*domain.Enrollment)
	return enrollment, nil
}
