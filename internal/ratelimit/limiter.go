package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

// Response headers disclosing the caller's quota. RateLimit-Reset carries the
// unix time the current window ends.
const (
	HeaderLimit      = "RateLimit-Limit"
	HeaderRemaining  = "RateLimit-Remaining"
	HeaderReset      = "RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Policy is a request budget for one route group.
type Policy struct {
	Name    string
	Max     int
	Window  time.Duration
	Message string
}

// Decision is the outcome of counting one request against a policy.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	header    http.Header
}

// Observer is notified of rejected requests.
type Observer interface {
	RecordRateLimited(policy string)
}

// KeyFunc derives the counter key of a request.
type KeyFunc func(c *fiber.Ctx) string

// KeyByIP keys requests by source address.
func KeyByIP(c *fiber.Ctx) string {
	return c.IP()
}

// Limiter enforces one Policy with httprate's sliding window counter.
type Limiter struct {
	policy   Policy
	rate     *httprate.RateLimiter
	keyFunc  KeyFunc
	observer Observer
	logger   *zap.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithKeyFunc overrides how requests are keyed.
func WithKeyFunc(fn KeyFunc) Option {
	return func(l *Limiter) { l.keyFunc = fn }
}

// WithObserver reports rejections to o.
func WithObserver(o Observer) Option {
	return func(l *Limiter) { l.observer = o }
}

// WithLogger sets the logger used for counter failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New builds a limiter for policy. A nil backend counts in process memory.
func New(policy Policy, backend Backend, opts ...Option) *Limiter {
	if policy.Message == "" {
		policy.Message = "Too many requests, please try again later."
	}
	if backend == nil {
		backend = MemoryBackend()
	}
	l := &Limiter{
		policy:  policy,
		keyFunc: KeyByIP,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.rate = httprate.NewRateLimiter(policy.Max, policy.Window,
		httprate.WithLimitCounter(backend.NewCounter(policy)),
		httprate.WithResponseHeaders(httprate.ResponseHeaders{
			Limit:      HeaderLimit,
			Remaining:  HeaderRemaining,
			Reset:      HeaderReset,
			RetryAfter: HeaderRetryAfter,
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}),
		httprate.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			if v, ok := w.(*verdict); ok {
				v.err = err
			}
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)
	return l
}

// Policy returns the enforced policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// verdict captures what httprate would have written to the client.
type verdict struct {
	header http.Header
	status int
	err    error
}

func (v *verdict) Header() http.Header { return v.header }

func (v *verdict) Write(b []byte) (int, error) { return len(b), nil }

func (v *verdict) WriteHeader(status int) { v.status = status }

// Take counts one request for key. Counter failures are returned as errors.
func (l *Limiter) Take(ctx context.Context, key string) (Decision, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return Decision{}, err
	}
	v := &verdict{header: http.Header{}}
	limited := l.rate.RespondOnLimit(v, req, key)
	if v.err != nil {
		return Decision{}, v.err
	}

	remaining, _ := strconv.Atoi(v.header.Get(HeaderRemaining))
	if remaining < 0 {
		remaining = 0
		v.header.Set(HeaderRemaining, "0")
	}
	resetUnix, _ := strconv.ParseInt(v.header.Get(HeaderReset), 10, 64)
	return Decision{
		Allowed:   !limited,
		Limit:     l.policy.Max,
		Remaining: remaining,
		ResetAt:   time.Unix(resetUnix, 0),
		header:    v.header,
	}, nil
}

// Handle is the fiber middleware enforcing the policy.
func (l *Limiter) Handle(c *fiber.Ctx) error {
	key := l.keyFunc(c)
	decision, err := l.Take(c.UserContext(), key)
	if err != nil {
		l.logger.Error("rate limit counter unavailable",
			zap.String("policy", l.policy.Name),
			zap.String("key", key),
			zap.Error(err))
		return apperrors.NewInternalError(err)
	}
	for name := range decision.header {
		c.Set(name, decision.header.Get(name))
	}

	if !decision.Allowed {
		if l.observer != nil {
			l.observer.RecordRateLimited(l.policy.Name)
		}
		return apperrors.NewRateLimited(l.policy.Message)
	}
	return c.Next()
}
