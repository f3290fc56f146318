package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lms-api/internal/domain"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

const testSecret = "test-secret-key-at-least-32-chars!!"

var (
	student = domain.Identity{SubjectID: "stu-1", Email: "stu@example.com", Role: domain.RoleStudent}
	admin   = domain.Identity{SubjectID: "adm-1", Email: "admin@example.com", Role: domain.RoleAdmin}
)

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).JSON(fiber.Map{"error": de.Message, "code": de.Code})
		},
	})
}

func okHandler(called *bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if called != nil {
			*called = true
		}
		identity, _ := IdentityFromContext(c)
		return c.JSON(identity)
	}
}

func issue(t *testing.T, tm *TokenManager, identity domain.Identity) string {
	t.Helper()
	token, _, err := tm.Issue(identity)
	require.NoError(t, err)
	return token
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()
	var out errorBody
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}
