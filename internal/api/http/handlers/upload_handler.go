package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/lms-api/internal/api/dto"
	"github.com/spec-kit/lms-api/internal/auth"
	"github.com/spec-kit/lms-api/internal/domain"
	"github.com/spec-kit/lms-api/internal/storage"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

const maxFilesPerUpload = 10

// FileStore writes uploads and resolves stored materials.
type FileStore interface {
	Save(header *multipart.FileHeader, courseID string) (*domain.StoredFile, error)
	MaterialPath(courseID, filename string) (string, error)
}

// FileCatalog records and lists upload metadata.
type FileCatalog interface {
	Create(ctx context.Context, file *domain.StoredFile) error
	ListByCourse(ctx context.Context, courseID string) ([]domain.StoredFile, error)
}

// UploadHandler serves the admin upload endpoints.
type UploadHandler struct {
	store    FileStore
	catalog  FileCatalog
	maxBytes int64
	logger   *zap.Logger
}

// NewUploadHandler constructs handler. catalog may be nil.
func NewUploadHandler(store FileStore, catalog FileCatalog, maxBytes int64, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{store: store, catalog: catalog, maxBytes: maxBytes, logger: logger}
}

// UploadFile handles POST /api/upload/file with a single "file" part.
func (h *UploadHandler) UploadFile(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("No file uploaded", nil)
	}

	file, err := h.save(c, header)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.UploadResponse{
		Message: "File uploaded successfully",
		File:    file,
	})
}

// UploadFiles handles POST /api/upload/files with up to ten "files" parts.
func (h *UploadHandler) UploadFiles(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return apperrors.NewValidationError("No files uploaded", nil)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return apperrors.NewValidationError("No files uploaded", nil)
	}
	if len(headers) > maxFilesPerUpload {
		return apperrors.NewValidationError("too many files", map[string]any{"max": maxFilesPerUpload})
	}

	stored := make([]domain.StoredFile, 0, len(headers))
	for _, header := range headers {
		file, err := h.save(c, header)
		if err != nil {
			return err
		}
		stored = append(stored, *file)
	}
	return c.Status(http.StatusCreated).JSON(dto.UploadResponse{
		Message: "Files uploaded successfully",
		Files:   stored,
	})
}

func (h *UploadHandler) save(c *fiber.Ctx, header *multipart.FileHeader) (*domain.StoredFile, error) {
	if h.maxBytes > 0 && header.Size > h.maxBytes {
		return nil, apperrors.NewValidationError("file too large", map[string]any{
			"file":     header.Filename,
			"maxBytes": h.maxBytes,
		})
	}

	file, err := h.store.Save(header, c.FormValue("courseId"))
	if errors.Is(err, storage.ErrInvalidName) {
		return nil, apperrors.NewValidationError("invalid courseId", nil)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	if identity, ok := auth.IdentityFromContext(c); ok {
		file.UploadedBy = identity.SubjectID
	}
	if h.catalog != nil {
		if err := h.catalog.Create(c.UserContext(), file); err != nil {
			h.logger.Error("failed to record upload", zap.String("file", file.Name), zap.Error(err))
			return nil, apperrors.NewInternalError(err)
		}
	}
	return file, nil
}
