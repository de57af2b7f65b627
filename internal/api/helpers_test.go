package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/auth"
	"github.com/aio-zber/tms-server/internal/httputil"
)

// testTimeout extends the default app.Test() deadline for handler tests run under the race
// detector.
var testTimeout = fiber.TestConfig{Timeout: 10 * time.Second}

// fakeAuth simulates auth.RequireAuth, attaching a *auth.Principal for userID without requiring a
// real bearer token in handler-level tests.
func fakeAuth(userID string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if userID == "" {
			return apierror.TokenRejected("no authenticated principal")
		}
		c.Locals(auth.PrincipalLocalsKey, &auth.Principal{UserID: userID})
		c.Locals(httputil.PrincipalIDKey, userID)
		return c.Next()
	}
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: httputil.ErrorHandler})
}

// --- response parsing helpers ---

type successEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return b
}

func parseError(t *testing.T, body []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal error response %q: %v", string(body), err)
	}
	return env
}

func parseSuccess(t *testing.T, body []byte) successEnvelope {
	t.Helper()
	var env successEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal success response %q: %v", string(body), err)
	}
	return env
}

func jsonReq(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// doReq sends a request through app.Test with the extended test timeout.
func doReq(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, testTimeout)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}
