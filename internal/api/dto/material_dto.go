package dto

import (
	"time"

	"github.com/spec-kit/lms-api/internal/domain"
)

// UploadResponse wraps stored file metadata.
type UploadResponse struct {
	Message string              `json:"message"`
	File    *domain.StoredFile  `json:"file,omitempty"`
	Files   []domain.StoredFile `json:"files,omitempty"`
}

// MaterialAccessTokenResponse carries a course-scoped capability token and the
// query string to append to a material URL.
type MaterialAccessTokenResponse struct {
	Token     string    `json:"token"`
	CourseID  string    `json:"courseId"`
	ExpiresAt time.Time `json:"expires_at"`
	Query     string    `json:"query"`
}
