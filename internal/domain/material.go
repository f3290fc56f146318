package domain

import "time"

// StoredFile describes a file persisted by the upload endpoints. CourseID is
// empty for general uploads and set for course materials.
type StoredFile struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	CourseID     string    `json:"courseId,omitempty"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"mimetype"`
	UploadedBy   string    `json:"uploadedBy,omitempty"`
	StoredAt     time.Time `json:"storedAt"`
}
