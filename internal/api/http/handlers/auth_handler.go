package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lms-api/internal/api/dto"
	"github.com/spec-kit/lms-api/internal/auth"
	"github.com/spec-kit/lms-api/internal/domain"
	"github.com/spec-kit/lms-api/internal/service"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

const resetRequestedMessage = "If that email is registered, a password reset link has been sent."

// AuthHandler exposes account endpoints.
type AuthHandler struct {
	auth *service.AuthService
	// exposeResetToken returns reset tokens in the response body where no mailer exists.
	exposeResetToken bool
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, exposeResetToken bool) *AuthHandler {
	return &AuthHandler{auth: authService, exposeResetToken: exposeResetToken}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	res, err := h.auth.Register(c.UserContext(), req.Name, req.Email, req.Password, c.IP())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(authPayload(res))
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	res, err := h.auth.Login(c.UserContext(), req.Email, req.Password, c.IP())
	if err != nil {
		return err
	}
	return c.JSON(authPayload(res))
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("Unauthorized")
	}
	user, err := h.auth.Me(c.UserContext(), identity)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": dto.NewUserResponse(user)}})
}

// Promote handles POST /api/auth/promote. The route authenticates optionally;
// the service decides whether the caller or the promotion key may proceed.
func (h *AuthHandler) Promote(c *fiber.Ctx) error {
	var req dto.PromoteRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" {
		return apperrors.NewMissingParameter("email")
	}

	var caller *domain.Identity
	if identity, ok := auth.IdentityFromContext(c); ok {
		caller = &identity
	}

	user, err := h.auth.Promote(c.UserContext(), caller, service.PromoteRequest{
		Email:        req.Email,
		Role:         req.Role,
		PromotionKey: req.PromotionKey,
	}, c.IP())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": dto.NewUserResponse(user)}})
}

// ForgotPassword handles POST /api/auth/forgot-password. The response does not
// reveal whether the email is registered.
func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var req dto.ForgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	token, err := h.auth.RequestPasswordReset(c.UserContext(), req.Email, c.IP())
	if err != nil {
		return err
	}

	body := fiber.Map{"message": resetRequestedMessage}
	if h.exposeResetToken && token != nil {
		body["data"] = fiber.Map{
			"reset_token": token.Token,
			"expires_at":  token.ExpiresAt,
		}
	}
	return c.Status(http.StatusAccepted).JSON(body)
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.auth.ConfirmPasswordReset(c.UserContext(), req.Token, req.Password, c.IP()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Password has been reset."})
}

func authPayload(res *service.AuthResult) fiber.Map {
	return fiber.Map{
		"data": fiber.Map{
			"user": dto.NewUserResponse(res.User),
			"auth": dto.AuthResponse{Token: res.Token, ExpiresAt: res.ExpiresAt},
		},
	}
}
