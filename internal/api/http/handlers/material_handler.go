package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lms-api/internal/api/dto"
	"github.com/spec-kit/lms-api/internal/auth"
	"github.com/spec-kit/lms-api/internal/service"
	"github.com/spec-kit/lms-api/internal/storage"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

// MaterialHandler serves gated course materials. Every route is mounted behind
// a resource gate.
type MaterialHandler struct {
	store   FileStore
	catalog FileCatalog
	auth    *service.AuthService
}

// NewMaterialHandler constructs handler. catalog may be nil.
func NewMaterialHandler(store FileStore, catalog FileCatalog, authService *service.AuthService) *MaterialHandler {
	return &MaterialHandler{store: store, catalog: catalog, auth: authService}
}

// Serve handles GET .../courses/:courseId/materials/:filename and
// GET /api/materials/:filename?courseId=.
func (h *MaterialHandler) Serve(c *fiber.Ctx) error {
	courseID := c.Params("courseId")
	if courseID == "" {
		courseID = c.Query("courseId")
	}
	path, err := h.store.MaterialPath(courseID, c.Params("filename"))
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		return apperrors.NewValidationError("invalid file name", nil)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFound("material", nil)
	case err != nil:
		return apperrors.NewInternalError(err)
	}

	c.Set(fiber.HeaderCacheControl, "private, no-store")
	return c.SendFile(path)
}

// List handles GET /api/courses/:courseId/materials.
func (h *MaterialHandler) List(c *fiber.Ctx) error {
	if h.catalog == nil {
		return c.JSON(fiber.Map{"data": []any{}})
	}
	files, err := h.catalog.ListByCourse(c.UserContext(), c.Params("courseId"))
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(fiber.Map{"data": files})
}

// AccessToken handles POST /api/courses/:courseId/materials/access-token and
// mints a capability token for the gated caller.
func (h *MaterialHandler) AccessToken(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("Unauthorized")
	}
	courseID := c.Params("courseId")

	token, exp, err := h.auth.IssueMaterialToken(identity, courseID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.MaterialAccessTokenResponse{
		Token:     token,
		CourseID:  courseID,
		ExpiresAt: exp,
		Query:     "token=" + url.QueryEscape(token),
	}})
}
