package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/lms-api/internal/domain"
	"github.com/spec-kit/lms-api/internal/events"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

const (
	enrollmentKey = "auth_enrollment"

	msgNotEnrolled        = "Access denied. You must be enrolled in this course and have completed payment to access this content."
	msgEnrollmentInactive = "Access denied. Your enrollment in this course is not active."
)

// EnrollmentFinder looks up the enrollment of a student in a course whose
// payment has completed. It returns (nil, nil) when there is none.
type EnrollmentFinder interface {
	FindPaidEnrollment(ctx context.Context, studentID, courseID string) (*domain.Enrollment, error)
}

// ResourceGateConfig parametrizes a ResourceGate for one protected resource class.
type ResourceGateConfig struct {
	Resource        string
	LookupTimeout   time.Duration
	AllowQueryToken bool
	// SessionOnly restricts the gate to bearer session tokens.
	SessionOnly bool
}

// ResourceGateDeps bundles the collaborators of a ResourceGate.
// Redemptions and Dispatcher are optional.
type ResourceGateDeps struct {
	Tokens      *TokenManager
	Enrollments EnrollmentFinder
	Redemptions RedemptionStore
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// ResourceGate admits a request for protected course content only when the
// caller is enrolled in the course with a completed payment and an active
// enrollment. Every failure path denies.
type ResourceGate struct {
	cfg  ResourceGateConfig
	deps ResourceGateDeps
}

// NewResourceGate constructs the gate.
func NewResourceGate(cfg ResourceGateConfig, deps ResourceGateDeps) *ResourceGate {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 3 * time.Second
	}
	if cfg.Resource == "" {
		cfg.Resource = "course_material"
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &ResourceGate{cfg: cfg, deps: deps}
}

// requestCredential is the outcome of authenticating a resource request.
type requestCredential struct {
	identity domain.Identity
	// set only for capability tokens
	courseScope string
	tokenID     string
	expiresAt   time.Time
}

// Handle is the fiber handler enforcing the gate.
func (g *ResourceGate) Handle(c *fiber.Ctx) error {
	cred, err := g.authenticate(c)
	if err != nil {
		return err
	}

	courseID := courseIDFrom(c)
	if courseID == "" {
		return apperrors.NewMissingParameter("courseId")
	}

	if cred.courseScope != "" && cred.courseScope != courseID {
		return g.deny(c, cred.identity, courseID, "token_scope",
			apperrors.NewForbidden("Access denied. This link is not valid for this course."))
	}

	enrollment, err := g.lookup(c.UserContext(), cred.identity.SubjectID, courseID)
	if err != nil {
		g.deps.Logger.Error("enrollment lookup failed",
			zap.String("resource", g.cfg.Resource),
			zap.String("student_id", cred.identity.SubjectID),
			zap.String("course_id", courseID),
			zap.Error(err))
		return apperrors.NewInternalError(err)
	}
	if enrollment == nil || enrollment.PaymentStatus != domain.PaymentStatusCompleted {
		return g.deny(c, cred.identity, courseID, "not_enrolled_or_unpaid", apperrors.NewNotEnrolledOrUnpaid(msgNotEnrolled))
	}
	if enrollment.Status != domain.EnrollmentStatusActive {
		return g.deny(c, cred.identity, courseID, "enrollment_inactive", apperrors.NewEnrollmentInactive(msgEnrollmentInactive))
	}

	if cred.tokenID != "" && g.deps.Redemptions != nil {
		fresh, err := g.deps.Redemptions.Redeem(c.UserContext(), cred.tokenID, g.deps.Tokens.Remaining(cred.expiresAt))
		if err != nil {
			g.deps.Logger.Error("capability token redemption failed", zap.String("token_id", cred.tokenID), zap.Error(err))
			return apperrors.NewInternalError(err)
		}
		if !fresh {
			return apperrors.NewInvalidCredential("access link already used")
		}
	}

	attachIdentity(c, cred.identity)
	c.Locals(enrollmentKey, enrollment)
	return c.Next()
}

func (g *ResourceGate) authenticate(c *fiber.Ctx) (requestCredential, error) {
	if token, ok := bearerToken(c); ok {
		claims, err := g.deps.Tokens.Verify(token)
		if err != nil {
			return requestCredential{}, credentialError(err)
		}
		return requestCredential{identity: claims.Identity()}, nil
	}

	token := c.Query("token")
	if token == "" || g.cfg.SessionOnly {
		return requestCredential{}, apperrors.NewMissingCredential()
	}

	material, err := g.deps.Tokens.VerifyMaterialToken(token)
	if err == nil {
		return requestCredential{
			identity:    material.Identity(),
			courseScope: material.CourseID,
			tokenID:     material.ID,
			expiresAt:   material.ExpiresAt.Time,
		}, nil
	}
	if errors.Is(err, ErrExpiredToken) {
		return requestCredential{}, credentialError(err)
	}

	if !g.cfg.AllowQueryToken {
		return requestCredential{}, apperrors.NewInvalidCredential("invalid token")
	}
	claims, err := g.deps.Tokens.Verify(token)
	if err != nil {
		return requestCredential{}, credentialError(err)
	}
	return requestCredential{identity: claims.Identity()}, nil
}

func (g *ResourceGate) lookup(parent context.Context, studentID, courseID string) (*domain.Enrollment, error) {
	ctx, cancel := context.WithTimeout(parent, g.cfg.LookupTimeout)
	defer cancel()

	enrollment, err := g.deps.Enrollments.FindPaidEnrollment(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	// a finder that ignored the deadline still must not grant access late
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return enrollment, nil
}

func (g *ResourceGate) deny(c *fiber.Ctx, identity domain.Identity, courseID, reason string, err error) error {
	pubErr := events.Publish(c.UserContext(), g.deps.Dispatcher, events.Event{
		Type:  events.EventAccessDenied,
		Actor: events.Actor{SubjectID: identity.SubjectID, Email: identity.Email, Role: identity.Role, IP: c.IP()},
		Payload: events.AccessDeniedPayload{
			Resource: g.cfg.Resource,
			CourseID: courseID,
			Reason:   reason,
		},
	})
	if pubErr != nil {
		g.deps.Logger.Warn("access denied event not delivered", zap.Error(pubErr))
	}
	return err
}

// EnrollmentFromContext returns the enrollment admitted by a ResourceGate.
func EnrollmentFromContext(c *fiber.Ctx) (*domain.Enrollment, bool) {
	enrollment, ok := c.Locals(enrollmentKey).(*domain.Enrollment)
	return enrollment, ok && enrollment != nil
}

// AdminResourceGate admits protected resource requests from admins only,
// without consulting enrollments.
type AdminResourceGate struct {
	tokens          *TokenManager
	allowQueryToken bool
}

// NewAdminResourceGate constructs the gate.
func NewAdminResourceGate(tokens *TokenManager, allowQueryToken bool) *AdminResourceGate {
	return &AdminResourceGate{tokens: tokens, allowQueryToken: allowQueryToken}
}

// Handle is the fiber handler enforcing the gate.
func (g *AdminResourceGate) Handle(c *fiber.Ctx) error {
	token, ok := bearerToken(c)
	if !ok && g.allowQueryToken {
		token = c.Query("token")
		ok = token != ""
	}
	if !ok {
		return apperrors.NewMissingCredential()
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		return credentialError(err)
	}
	if claims.Role != domain.RoleAdmin {
		return apperrors.NewInsufficientRole("Access denied. Admin privileges required.")
	}

	attachIdentity(c, claims.Identity())
	return c.Next()
}

func courseIDFrom(c *fiber.Ctx) string {
	if id := c.Params("courseId"); id != "" {
		return id
	}
	return c.Query("courseId")
}
