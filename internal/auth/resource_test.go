package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lms-api/internal/domain"
	"github.com/spec-kit/lms-api/internal/events"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

type fakeEnrollments struct {
	mu      sync.Mutex
	records map[string]*domain.Enrollment
	err     error
	block   bool
	calls   int
}

func (f *fakeEnrollments) FindPaidEnrollment(ctx context.Context, studentID, courseID string) (*domain.Enrollment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.records[studentID+"/"+courseID]
	if !ok || e.PaymentStatus != domain.PaymentStatusCompleted {
		return nil, nil
	}
	return e, nil
}

func enrollment(status domain.EnrollmentStatus, payment domain.PaymentStatus) *domain.Enrollment {
	return &domain.Enrollment{ID: "enr-1", StudentID: student.SubjectID, CourseID: "course-1", Status: status, PaymentStatus: payment}
}

func newResourceApp(tm *TokenManager, finder EnrollmentFinder, deps ResourceGateDeps, cfg ResourceGateConfig) (*fiber.App, *bool) {
	deps.Tokens = tm
	deps.Enrollments = finder
	gate := NewResourceGate(cfg, deps)

	called := false
	app := newTestApp()
	handler := func(c *fiber.Ctx) error {
		called = true
		e, ok := EnrollmentFromContext(c)
		if !ok {
			return errors.New("no enrollment attached")
		}
		return c.SendString(e.ID)
	}
	app.Get("/courses/:courseId/materials/:file", gate.Handle, handler)
	app.Get("/pdf", gate.Handle, handler)
	return app, &called
}

func bearerGet(target, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestResourceGateEnrollmentMatrix(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	token := issue(t, tm, student)

	cases := []struct {
		name   string
		record *domain.Enrollment
		status int
		code   string
	}{
		{"no enrollment", nil, http.StatusForbidden, apperrors.CodeNotEnrolledOrUnpaid},
		{"pending active", enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusPending), http.StatusForbidden, apperrors.CodeNotEnrolledOrUnpaid},
		{"pending cancelled", enrollment(domain.EnrollmentStatusCancelled, domain.PaymentStatusPending), http.StatusForbidden, apperrors.CodeNotEnrolledOrUnpaid},
		{"failed active", enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusFailed), http.StatusForbidden, apperrors.CodeNotEnrolledOrUnpaid},
		{"paid cancelled", enrollment(domain.EnrollmentStatusCancelled, domain.PaymentStatusCompleted), http.StatusForbidden, apperrors.CodeEnrollmentInactive},
		{"paid completed", enrollment(domain.EnrollmentStatusCompleted, domain.PaymentStatusCompleted), http.StatusForbidden, apperrors.CodeEnrollmentInactive},
		{"paid active", enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusCompleted), http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			finder := &fakeEnrollments{records: map[string]*domain.Enrollment{}}
			if tc.record != nil {
				finder.records[student.SubjectID+"/course-1"] = tc.record
			}
			app, called := newResourceApp(tm, finder, ResourceGateDeps{}, ResourceGateConfig{})

			status, body := do(t, app, bearerGet("/courses/course-1/materials/intro.pdf", token))
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.status == http.StatusOK, *called)
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeError(t, body).Code)
			} else {
				assert.Equal(t, "enr-1", string(body))
			}
		})
	}
}

func TestResourceGateDistinctDenialMessages(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	token := issue(t, tm, student)

	unpaid, _ := newResourceApp(tm, &fakeEnrollments{}, ResourceGateDeps{}, ResourceGateConfig{})
	_, unpaidBody := do(t, unpaid, bearerGet("/courses/course-1/materials/a.pdf", token))

	inactive, _ := newResourceApp(tm, &fakeEnrollments{records: map[string]*domain.Enrollment{
		student.SubjectID + "/course-1": enrollment(domain.EnrollmentStatusCancelled, domain.PaymentStatusCompleted),
	}}, ResourceGateDeps{}, ResourceGateConfig{})
	_, inactiveBody := do(t, inactive, bearerGet("/courses/course-1/materials/a.pdf", token))

	assert.NotEqual(t, decodeError(t, unpaidBody).Error, decodeError(t, inactiveBody).Error)
}

func TestResourceGateFinderReturningUnpaidRecordIsDenied(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	finder := &lenientFinder{record: enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusPending)}
	app, called := newResourceApp(tm, finder, ResourceGateDeps{}, ResourceGateConfig{})

	status, _ := do(t, app, bearerGet("/courses/course-1/materials/a.pdf", issue(t, tm, student)))
	assert.Equal(t, http.StatusForbidden, status)
	assert.False(t, *called)
}

type lenientFinder struct{ record *domain.Enrollment }

func (f *lenientFinder) FindPaidEnrollment(context.Context, string, string) (*domain.Enrollment, error) {
	return f.record, nil
}

func TestResourceGateFailsClosed(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	token := issue(t, tm, student)

	cases := map[string]*fakeEnrollments{
		"collaborator error": {err: errors.New("dial tcp 10.0.0.7:5432: connection refused")},
		"collaborator hangs": {block: true},
	}
	for name, finder := range cases {
		t.Run(name, func(t *testing.T) {
			app, called := newResourceApp(tm, finder, ResourceGateDeps{}, ResourceGateConfig{LookupTimeout: 20 * time.Millisecond})

			status, body := do(t, app, bearerGet("/courses/course-1/materials/a.pdf", token))
			assert.Equal(t, http.StatusInternalServerError, status)
			assert.False(t, *called)
			errBody := decodeError(t, body)
			assert.Equal(t, "internal server error", errBody.Error)
			assert.NotContains(t, string(body), "10.0.0.7")
		})
	}
}

type slowFinder struct{ delay time.Duration }

func (f slowFinder) FindPaidEnrollment(context.Context, string, string) (*domain.Enrollment, error) {
	time.Sleep(f.delay)
	return enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusCompleted), nil
}

func TestResourceGateIgnoresLateAnswers(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	app, called := newResourceApp(tm, slowFinder{delay: 50 * time.Millisecond}, ResourceGateDeps{},
		ResourceGateConfig{LookupTimeout: 10 * time.Millisecond})

	status, _ := do(t, app, bearerGet("/courses/course-1/materials/a.pdf", issue(t, tm, student)))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, *called)
}

func TestResourceGateCredentialAndParameterChecks(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	finder := &fakeEnrollments{records: map[string]*domain.Enrollment{
		student.SubjectID + "/course-1": enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusCompleted),
	}}
	app, _ := newResourceApp(tm, finder, ResourceGateDeps{}, ResourceGateConfig{AllowQueryToken: true})
	token := issue(t, tm, student)

	status, body := do(t, app, bearerGet("/pdf?courseId=course-1", ""))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperrors.CodeMissingCredential, decodeError(t, body).Code)

	status, body = do(t, app, bearerGet("/pdf?courseId=course-1&token=nope", ""))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperrors.CodeInvalidCredential, decodeError(t, body).Code)

	status, body = do(t, app, bearerGet("/pdf?token="+token, ""))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeMissingParameter, decodeError(t, body).Code)

	status, _ = do(t, app, bearerGet("/pdf?courseId=course-1&token="+token, ""))
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, bearerGet("/pdf?courseId=course-1", token))
	assert.Equal(t, http.StatusOK, status)

	assert.Equal(t, 2, finder.calls, "lookups only happen once the request is authenticated and complete")
}

func TestResourceGateQueryTokenDisabled(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	finder := &fakeEnrollments{records: map[string]*domain.Enrollment{
		student.SubjectID + "/course-1": enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusCompleted),
	}}
	app, _ := newResourceApp(tm, finder, ResourceGateDeps{}, ResourceGateConfig{AllowQueryToken: false})

	status, _ := do(t, app, bearerGet("/pdf?courseId=course-1&token="+issue(t, tm, student), ""))
	assert.Equal(t, http.StatusUnauthorized, status)

	material, _, err := tm.IssueMaterialToken(student, "course-1", time.Minute)
	require.NoError(t, err)
	status, _ = do(t, app, bearerGet("/pdf?courseId=course-1&token="+material, ""))
	assert.Equal(t, http.StatusOK, status)
}

func TestResourceGateSessionOnly(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	finder := &fakeEnrollments{records: map[string]*domain.Enrollment{
		student.SubjectID + "/course-1": enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusCompleted),
	}}
	app, _ := newResourceApp(tm, finder, ResourceGateDeps{}, ResourceGateConfig{AllowQueryToken: true, SessionOnly: true})

	material, _, err := tm.IssueMaterialToken(student, "course-1", time.Minute)
	require.NoError(t, err)
	status, body := do(t, app, bearerGet("/pdf?courseId=course-1&token="+material, ""))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperrors.CodeMissingCredential, decodeError(t, body).Code)

	status, _ = do(t, app, bearerGet("/pdf?courseId=course-1", issue(t, tm, student)))
	assert.Equal(t, http.StatusOK, status)
}

func TestResourceGateMaterialTokens(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	finder := &fakeEnrollments{records: map[string]*domain.Enrollment{
		student.SubjectID + "/course-1": enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusCompleted),
	}}
	app, _ := newResourceApp(tm, finder, ResourceGateDeps{Redemptions: NewMemoryRedemptionStore()}, ResourceGateConfig{})

	material, _, err := tm.IssueMaterialToken(student, "course-1", time.Minute)
	require.NoError(t, err)

	status, _ := do(t, app, bearerGet("/courses/course-2/materials/a.pdf?token="+material, ""))
	assert.Equal(t, http.StatusForbidden, status, "token is scoped to course-1")

	status, _ = do(t, app, bearerGet("/courses/course-1/materials/a.pdf?token="+material, ""))
	assert.Equal(t, http.StatusOK, status)

	status, body := do(t, app, bearerGet("/courses/course-1/materials/a.pdf?token="+material, ""))
	assert.Equal(t, http.StatusUnauthorized, status, "capability tokens are single use")
	assert.Equal(t, apperrors.CodeInvalidCredential, decodeError(t, body).Code)
}

type failingRedemptions struct{}

func (failingRedemptions) Redeem(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection pool timeout")
}

func TestResourceGateRedemptionFailureDenies(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	finder := &fakeEnrollments{records: map[string]*domain.Enrollment{
		student.SubjectID + "/course-1": enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusCompleted),
	}}
	app, called := newResourceApp(tm, finder, ResourceGateDeps{Redemptions: failingRedemptions{}}, ResourceGateConfig{})

	material, _, err := tm.IssueMaterialToken(student, "course-1", time.Minute)
	require.NoError(t, err)
	status, _ := do(t, app, bearerGet("/courses/course-1/materials/a.pdf?token="+material, ""))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, *called)
}

type recordingRedemptions struct {
	ttls []time.Duration
}

func (r *recordingRedemptions) Redeem(_ context.Context, _ string, ttl time.Duration) (bool, error) {
	r.ttls = append(r.ttls, ttl)
	return true, nil
}

func TestResourceGateRedemptionTTLFollowsTokenClock(t *testing.T) {
	issuedAt := time.Date(2020, 3, 1, 9, 0, 0, 0, time.UTC)
	tm := NewTokenManager(testSecret, 60).WithClock(func() time.Time { return issuedAt.Add(30 * time.Second) })
	finder := &fakeEnrollments{records: map[string]*domain.Enrollment{
		student.SubjectID + "/course-1": enrollment(domain.EnrollmentStatusActive, domain.PaymentStatusCompleted),
	}}
	redemptions := &recordingRedemptions{}
	app, _ := newResourceApp(tm, finder, ResourceGateDeps{Redemptions: redemptions}, ResourceGateConfig{})

	material, _, err := tm.WithClock(func() time.Time { return issuedAt }).IssueMaterialToken(student, "course-1", 2*time.Minute)
	require.NoError(t, err)

	status, _ := do(t, app, bearerGet("/courses/course-1/materials/a.pdf?token="+material, ""))
	require.Equal(t, http.StatusOK, status)
	require.Len(t, redemptions.ttls, 1)
	assert.Equal(t, 90*time.Second, redemptions.ttls[0])
}

func TestResourceGatePublishesDenials(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	dispatcher := events.NewInMemoryDispatcher()
	var got []events.Event
	dispatcher.Subscribe(events.EventAccessDenied, func(_ context.Context, e events.Event) error {
		got = append(got, e)
		return nil
	})
	app, _ := newResourceApp(tm, &fakeEnrollments{}, ResourceGateDeps{Dispatcher: dispatcher}, ResourceGateConfig{Resource: "course_pdf"})

	status, _ := do(t, app, bearerGet("/courses/course-1/materials/a.pdf", issue(t, tm, student)))
	require.Equal(t, http.StatusForbidden, status)
	require.Len(t, got, 1)
	assert.Equal(t, student.SubjectID, got[0].Actor.SubjectID)
	payload, ok := got[0].Payload.(events.AccessDeniedPayload)
	require.True(t, ok)
	assert.Equal(t, "course_pdf", payload.Resource)
	assert.Equal(t, "course-1", payload.CourseID)
	assert.Equal(t, "not_enrolled_or_unpaid", payload.Reason)
}

func TestAdminResourceGate(t *testing.T) {
	tm := NewTokenManager(testSecret, 60)
	app := newTestApp()
	app.Get("/admin/materials/:courseId", NewAdminResourceGate(tm, true).Handle, okHandler(nil))

	status, _ := do(t, app, bearerGet("/admin/materials/course-1", ""))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := do(t, app, bearerGet("/admin/materials/course-1", issue(t, tm, student)))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperrors.CodeInsufficientRole, decodeError(t, body).Code)

	status, _ = do(t, app, bearerGet("/admin/materials/course-1", issue(t, tm, admin)))
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, bearerGet("/admin/materials/course-1?token="+issue(t, tm, admin), ""))
	assert.Equal(t, http.StatusOK, status)

	material, _, err := tm.IssueMaterialToken(admin, "course-1", time.Minute)
	require.NoError(t, err)
	status, _ = do(t, app, bearerGet("/admin/materials/course-1?token="+material, ""))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMemoryRedemptionStore(t *testing.T) {
	store := NewMemoryRedemptionStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	first, err := store.Redeem(context.Background(), "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.Redeem(context.Background(), "jti-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	now = now.Add(2 * time.Minute)
	afterExpiry, err := store.Redeem(context.Background(), "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, afterExpiry)
}
