package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lms-api/internal/domain"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

const identityKey = "auth_identity"

// AuthMiddleware validates bearer tokens and attaches the caller identity.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, ok := bearerToken(c)
	if !ok {
		return apperrors.NewMissingCredential()
	}

	claims, err := m.tokens.Verify(token)
	if err != nil {
		return credentialError(err)
	}

	attachIdentity(c, claims.Identity())
	return c.Next()
}

// Optional attaches the caller identity when a bearer token is present and
// lets anonymous requests through. A present but invalid token is rejected.
func (m *AuthMiddleware) Optional(c *fiber.Ctx) error {
	token, ok := bearerToken(c)
	if !ok {
		return c.Next()
	}

	claims, err := m.tokens.Verify(token)
	if err != nil {
		return credentialError(err)
	}

	attachIdentity(c, claims.Identity())
	return c.Next()
}

// IdentityFromContext retrieves the authenticated caller.
func IdentityFromContext(c *fiber.Ctx) (domain.Identity, bool) {
	identity, ok := c.Locals(identityKey).(domain.Identity)
	if !ok || identity.SubjectID == "" {
		return domain.Identity{}, false
	}
	return identity, true
}

func attachIdentity(c *fiber.Ctx, identity domain.Identity) {
	c.Locals(identityKey, identity)
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func credentialError(err error) error {
	if errors.Is(err, ErrExpiredToken) {
		return apperrors.NewInvalidCredential("token expired")
	}
	return apperrors.NewInvalidCredential("invalid token")
}
