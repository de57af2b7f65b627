package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/identity"
)

func testUserApp(t *testing.T, seed map[string]*identity.User, callerID string) *fiber.App {
	t.Helper()
	repo := newFakeUserRepo()
	for id, u := range seed {
		repo.users[id] = u
	}
	reflector := identity.NewReflector(repo, nil, fakeIdPClient{}, 24*time.Hour, zerolog.Nop())
	handler := NewUserHandler(reflector, zerolog.Nop())

	app := newTestApp()
	app.Use(fakeAuth(callerID))
	app.Get("/users/me", handler.Me)
	app.Get("/users/:id", handler.Get)
	app.Get("/users", handler.Search)
	return app
}

func TestUsersMe_Success(t *testing.T) {
	t.Parallel()
	app := testUserApp(t, map[string]*identity.User{
		"u-1": {TMSUserID: "u-1", Email: "alice@example.com", DisplayName: "Alice", LastSyncedAt: time.Now()},
	}, "u-1")

	resp := doReq(t, app, jsonReq(http.MethodGet, "/users/me", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	env := parseSuccess(t, body)
	var out struct {
		DisplayName string `json:"DisplayName"`
	}
	_ = json.Unmarshal(env.Data, &out)
}

func TestUsersMe_NotFound(t *testing.T) {
	t.Parallel()
	app := testUserApp(t, nil, "missing-user")

	resp := doReq(t, app, jsonReq(http.MethodGet, "/users/me", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
	env := parseError(t, body)
	if env.Error.Code != string(apierror.KindNotFound) {
		t.Errorf("error code = %q, want %q", env.Error.Code, apierror.KindNotFound)
	}
}

func TestUsersGet_Success(t *testing.T) {
	t.Parallel()
	app := testUserApp(t, map[string]*identity.User{
		"u-2": {TMSUserID: "u-2", Email: "bob@example.com", DisplayName: "Bob", LastSyncedAt: time.Now()},
	}, "u-1")

	resp := doReq(t, app, jsonReq(http.MethodGet, "/users/u-2", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	_ = parseSuccess(t, body)
}

func TestUsersGet_NotFound(t *testing.T) {
	t.Parallel()
	app := testUserApp(t, nil, "u-1")

	resp := doReq(t, app, jsonReq(http.MethodGet, "/users/ghost", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
	env := parseError(t, body)
	if env.Error.Code != string(apierror.KindNotFound) {
		t.Errorf("error code = %q, want %q", env.Error.Code, apierror.KindNotFound)
	}
}

func TestUsersSearch_EmptyQuery(t *testing.T) {
	t.Parallel()
	app := testUserApp(t, nil, "u-1")

	resp := doReq(t, app, jsonReq(http.MethodGet, "/users", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	env := parseSuccess(t, body)
	var users []identity.User
	if err := json.Unmarshal(env.Data, &users); err != nil {
		t.Fatalf("unmarshal users: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("got %d users, want 0", len(users))
	}
}
