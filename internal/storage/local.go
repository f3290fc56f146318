package storage

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/lms-api/internal/domain"
)

var (
	// ErrInvalidName is returned for names that would escape the storage root.
	ErrInvalidName = errors.New("invalid file name")
	// ErrNotFound is returned when a requested material does not exist.
	ErrNotFound = errors.New("file not found")
)

// LocalStore keeps uploads on the local filesystem. General uploads land in
// uploadDir, course materials in materialsDir/<courseID>.
type LocalStore struct {
	uploadDir    string
	materialsDir string
	now          func() time.Time
}

// NewLocalStore creates the directories and returns the store.
func NewLocalStore(uploadDir, materialsDir string) (*LocalStore, error) {
	for _, dir := range []string{uploadDir, materialsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return &LocalStore{uploadDir: uploadDir, materialsDir: materialsDir, now: time.Now}, nil
}

// Save stores a multipart upload under a generated name.
func (s *LocalStore) Save(header *multipart.FileHeader, courseID string) (*domain.StoredFile, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return s.SaveReader(src, header.Filename, header.Header.Get("Content-Type"), courseID)
}

// SaveReader stores r under a generated name, keeping the original extension.
func (s *LocalStore) SaveReader(r io.Reader, originalName, contentType, courseID string) (*domain.StoredFile, error) {
	dir := s.uploadDir
	url := "/uploads/"
	if courseID != "" {
		if !safeSegment(courseID) {
			return nil, ErrInvalidName
		}
		dir = filepath.Join(s.materialsDir, courseID)
		url = path.Join("/api/courses", courseID, "materials") + "/"
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	original := filepath.Base(filepath.Clean("/" + originalName))
	name := uuid.NewString() + strings.ToLower(filepath.Ext(original))

	dst, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	size, copyErr := io.Copy(dst, r)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(dst.Name())
		return nil, err
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &domain.StoredFile{
		Name:         name,
		OriginalName: original,
		CourseID:     courseID,
		URL:          url + name,
		Size:         size,
		ContentType:  contentType,
		StoredAt:     s.now().UTC(),
	}, nil
}

// MaterialPath resolves a course material to a path inside the materials root.
func (s *LocalStore) MaterialPath(courseID, filename string) (string, error) {
	if !safeSegment(courseID) || !safeSegment(filename) {
		return "", ErrInvalidName
	}
	p := filepath.Join(s.materialsDir, courseID, filename)
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return p, nil
}

func safeSegment(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
