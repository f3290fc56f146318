package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lms-api/internal/domain"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

// RequireRoles ensures the authenticated caller holds one of the allowed roles.
// With no roles it only requires an attached identity.
func RequireRoles(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("Unauthorized")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[identity.Role]; !exists {
			return apperrors.NewInsufficientRole("Forbidden: insufficient role")
		}
		return c.Next()
	}
}

// RequireAdmin is RequireRoles(domain.RoleAdmin).
func RequireAdmin() fiber.Handler {
	return RequireRoles(domain.RoleAdmin)
}
