package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/lms-api/internal/auth"
	"github.com/spec-kit/lms-api/internal/config"
	"github.com/spec-kit/lms-api/internal/domain"
	"github.com/spec-kit/lms-api/internal/events"
	"github.com/spec-kit/lms-api/internal/repository"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

const minPasswordLength = 8

// AuthResult is returned by flows that sign the caller in.
type AuthResult struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// AuthService coordinates registration, login, promotion and password reset flows.
type AuthService struct {
	users        repository.UserRepository
	resets       repository.PasswordResetRepository
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	tokenMgr     *auth.TokenManager
	bcryptCost   int
	resetTTL     time.Duration
	promotionKey string
	materialTTL  time.Duration
	now          func() time.Time
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo          repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	Dispatcher        events.Dispatcher
	Logger            *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	materialTTL := time.Duration(cfg.MaterialTokenTTLSeconds) * time.Second
	if materialTTL <= 0 {
		materialTTL = 2 * time.Minute
	}
	return &AuthService{
		users:        deps.UserRepo,
		resets:       deps.PasswordResetRepo,
		dispatcher:   deps.Dispatcher,
		logger:       logger,
		tokenMgr:     auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		bcryptCost:   cfg.BcryptCost,
		resetTTL:     time.Duration(cfg.PasswordResetTTLMinutes) * time.Minute,
		promotionKey: cfg.PromotionKey,
		materialTTL:  materialTTL,
		now:          time.Now,
	}
}

// Register creates a student account and signs it in. Accounts are never
// created with elevated roles.
func (s *AuthService) Register(ctx context.Context, name, email, password, ip string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if err := validateRegistration(name, email, password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleStudent,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	result, err := s.signIn(user)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{Type: events.EventUserRegistered, Actor: actorOf(user.Identity(), ip)})
	return result, nil
}

// Login authenticates with email and password.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperrors.NewValidationError("email and password are required", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewInvalidCredential("invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewInvalidCredential("invalid email or password")
	}

	result, err := s.signIn(user)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{Type: events.EventUserLoggedIn, Actor: actorOf(user.Identity(), ip)})
	return result, nil
}

// Me returns the account of the authenticated caller.
func (s *AuthService) Me(ctx context.Context, identity domain.Identity) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, identity.SubjectID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// PromoteRequest describes a role change.
type PromoteRequest struct {
	Email        string
	Role         domain.Role
	PromotionKey string
}

// Promote changes the role of the account identified by email. The caller must
// be an admin, or present the configured promotion key. A nil caller means an
// unauthenticated request.
func (s *AuthService) Promote(ctx context.Context, caller *domain.Identity, req PromoteRequest, ip string) (*domain.User, error) {
	if !req.Role.Valid() {
		return nil, apperrors.NewValidationError("role must be student or admin", map[string]any{"role": req.Role})
	}

	viaKey := false
	switch {
	case caller != nil && caller.IsAdmin():
	case s.promotionKeyMatches(req.PromotionKey):
		viaKey = true
	case caller == nil && req.PromotionKey == "":
		return nil, apperrors.NewMissingCredential()
	default:
		return nil, apperrors.NewInsufficientRole("Forbidden: insufficient role")
	}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	oldRole := user.Role
	if oldRole != req.Role {
		if err := s.users.UpdateRole(ctx, user.ID, req.Role); err != nil {
			return nil, err
		}
		user.Role = req.Role
	}

	actor := events.Actor{IP: ip}
	if caller != nil {
		actor = actorOf(*caller, ip)
	}
	s.publish(ctx, events.Event{
		Type:  events.EventRolePromoted,
		Actor: actor,
		Payload: events.RolePromotedPayload{
			TargetUserID: user.ID,
			OldRole:      oldRole,
			NewRole:      req.Role,
			ViaKey:       viaKey,
		},
	})
	return user, nil
}

// RequestPasswordReset persists a reset token for the account with the given
// email. Unknown emails yield (nil, nil) so callers cannot probe for accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, ip string) (*repository.PasswordResetToken, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, apperrors.NewValidationError("email is required", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	token := &repository.PasswordResetToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{Type: events.EventPasswordResetRequested, Actor: actorOf(user.Identity(), ip)})
	return token, nil
}

// ConfirmPasswordReset validates the reset token and updates the password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, tokenStr, newPassword, ip string) error {
	if tokenStr == "" {
		return apperrors.NewMissingParameter("token")
	}
	if len(newPassword) < minPasswordLength {
		return apperrors.NewValidationError("password must be at least 8 characters", nil)
	}

	token, err := s.resets.GetByToken(ctx, tokenStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewInvalidCredential("reset token invalid or expired")
	}
	if err != nil {
		return err
	}
	if token.UsedAt != nil || s.now().After(token.ExpiresAt) {
		return apperrors.NewInvalidCredential("reset token invalid or expired")
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.resets.Redeem(ctx, token.ID, token.UserID, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewInvalidCredential("reset token invalid or expired")
		}
		return err
	}

	s.publish(ctx, events.Event{Type: events.EventPasswordResetCompleted, Actor: events.Actor{SubjectID: token.UserID, IP: ip}})
	return nil
}

// IssueMaterialToken mints a course-scoped capability token for the caller.
func (s *AuthService) IssueMaterialToken(identity domain.Identity, courseID string) (string, time.Time, error) {
	if courseID == "" {
		return "", time.Time{}, apperrors.NewMissingParameter("courseId")
	}
	return s.tokenMgr.IssueMaterialToken(identity, courseID, s.materialTTL)
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) signIn(user *domain.User) (*AuthResult, error) {
	token, exp, err := s.tokenMgr.Issue(user.Identity())
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) promotionKeyMatches(key string) bool {
	if s.promotionKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.promotionKey), []byte(key)) == 1
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if err := events.Publish(ctx, s.dispatcher, event); err != nil {
		s.logger.Warn("audit event not delivered", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func actorOf(identity domain.Identity, ip string) events.Actor {
	return events.Actor{SubjectID: identity.SubjectID, Email: identity.Email, Role: identity.Role, IP: ip}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(name, email, password string) error {
	details := map[string]any{}
	if name == "" {
		details["name"] = "required"
	}
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		details["email"] = "must be a valid email address"
	}
	if len(password) < minPasswordLength {
		details["password"] = "must be at least 8 characters"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid registration payload", details)
	}
	return nil
}
