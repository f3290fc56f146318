package domain

import "time"

// EnrollmentStatus tracks whether a student is currently attending a course.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// PaymentStatus tracks settlement of the enrollment fee.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Enrollment associates a student with a course.
type Enrollment struct {
	ID            string
	StudentID     string
	CourseID      string
	Status        EnrollmentStatus
	PaymentStatus PaymentStatus
	EnrolledAt    time.Time
	UpdatedAt     time.Time
}
