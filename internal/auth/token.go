package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/lms-api/internal/domain"
)

const (
	sessionAudience  = "lms-api"
	materialAudience = "lms-course-material"
)

var (
	// ErrInvalidToken is returned for any token that does not verify.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for a correctly signed token past its expiry.
	ErrExpiredToken = errors.New("token expired")
)

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute, now: time.Now}
}

// WithClock returns a copy of the manager reading time from now.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	clone := *tm
	clone.now = now
	return &clone
}

// Remaining reports how long a token expiring at expiresAt stays valid.
func (tm *TokenManager) Remaining(expiresAt time.Time) time.Duration {
	return expiresAt.Sub(tm.now())
}

// Claims describes the session JWT payload.
type Claims struct {
	SubjectID string      `json:"id"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns the caller described by the claims.
func (c *Claims) Identity() domain.Identity {
	return domain.Identity{SubjectID: c.SubjectID, Email: c.Email, Role: c.Role}
}

// Issue builds and signs a session JWT for the identity.
func (tm *TokenManager) Issue(identity domain.Identity) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		SubjectID: identity.SubjectID,
		Email:     identity.Email,
		Role:      identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.SubjectID,
			Audience:  jwt.ClaimStrings{sessionAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Verify validates signature, audience and expiry, returning the embedded claims.
func (tm *TokenManager) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if err := tm.parse(tokenStr, claims, sessionAudience); err != nil {
		return nil, err
	}
	if claims.SubjectID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Decode reads the claims without verifying them. It returns nil when the token
// cannot be parsed at all and must never back an authorization decision.
func (tm *TokenManager) Decode(tokenStr string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil
	}
	return claims
}

// MaterialClaims is the payload of a course-scoped capability token.
type MaterialClaims struct {
	SubjectID string      `json:"id"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	CourseID  string      `json:"courseId"`
	jwt.RegisteredClaims
}

// Identity returns the caller the capability was minted for.
func (c *MaterialClaims) Identity() domain.Identity {
	return domain.Identity{SubjectID: c.SubjectID, Email: c.Email, Role: c.Role}
}

// IssueMaterialToken mints a short-lived token that only opens files of one course.
func (tm *TokenManager) IssueMaterialToken(identity domain.Identity, courseID string, ttl time.Duration) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(ttl)
	claims := &MaterialClaims{
		SubjectID: identity.SubjectID,
		Email:     identity.Email,
		Role:      identity.Role,
		CourseID:  courseID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.SubjectID,
			Audience:  jwt.ClaimStrings{materialAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyMaterialToken validates a capability token minted by IssueMaterialToken.
func (tm *TokenManager) VerifyMaterialToken(tokenStr string) (*MaterialClaims, error) {
	claims := &MaterialClaims{}
	if err := tm.parse(tokenStr, claims, materialAudience); err != nil {
		return nil, err
	}
	if claims.SubjectID == "" || claims.CourseID == "" || claims.ID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (tm *TokenManager) parse(tokenStr string, claims jwt.Claims, audience string) error {
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	},
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
