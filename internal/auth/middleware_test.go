package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/httputil"
)

func newTestApp(v Validator) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httputil.ErrorHandler})
	app.Get("/protected", RequireAuth(v), func(c fiber.Ctx) error {
		p, ok := FromContext(c)
		if !ok {
			return apierror.ServerError(nil, "no principal in context")
		}
		return httputil.Success(c, p.UserID)
	})
	return app
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	t.Parallel()

	app := newTestApp(&HMACValidator{Secret: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireAuthRejectsMalformedHeader(t *testing.T) {
	t.Parallel()

	app := newTestApp(&HMACValidator{Secret: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic abc123")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	t.Parallel()

	token, err := NewAccessToken("user-7", "", "", "", testSecret, time.Hour, "")
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	app := newTestApp(&HMACValidator{Secret: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRequireAuthRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := NewAccessToken("user-7", "", "", "", "a-different-32-char-secret-value", time.Hour, "")
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	app := newTestApp(&HMACValidator{Secret: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}
