package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/lms-api/internal/domain"
)

// EnrollmentRepository provides the read-only enrollment lookups the API needs.
type EnrollmentRepository interface {
	FindPaidEnrollment(ctx context.Context, studentID, courseID string) (*domain.Enrollment, error)
}

type enrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository returns a Postgres-backed implementation.
func NewEnrollmentRepository(pool *pgxpool.Pool) EnrollmentRepository {
	return &enrollmentRepository{pool: pool}
}

// FindPaidEnrollment returns the enrollment of studentID in courseID whose
// payment completed, or (nil, nil) when there is none.
func (r *enrollmentRepository) FindPaidEnrollment(ctx context.Context, studentID, courseID string) (*domain.Enrollment, error) {
	const query = `
        SELECT id, student_id, course_id, status, payment_status, enrolled_at, updated_at
        FROM enrollments
        WHERE student_id=$1 AND course_id=$2 AND payment_status=$3
        LIMIT 1`

	var e domain.Enrollment
	err := r.pool.QueryRow(ctx, query, studentID, courseID, domain.PaymentStatusCompleted).Scan(
		&e.ID,
		&e.StudentID,
		&e.CourseID,
		&e.Status,
		&e.PaymentStatus,
		&e.EnrolledAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
