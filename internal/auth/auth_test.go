package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/config"
	"relay-backend/internal/engine"
	"relay-backend/internal/store"
)

const testSecret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("u-1", []string{"admin", "editor"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-1" {
		t.Errorf("subject = %s", claims.Subject)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" {
		t.Errorf("roles = %v", claims.Roles)
	}

	if _, err := ParseAccessToken(token, "wrong-secret"); err == nil {
		t.Error("token accepted with wrong secret")
	}
	if _, err := ParseAccessToken("garbage", testSecret); err == nil {
		t.Error("garbage token accepted")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword("s3cret", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func newAuthApp(t *testing.T) (*fiber.App, *store.Store) {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Path:   t.TempDir(),
		Name:   "test",
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	RegisterAuthRoutes(app, NewAuthHandler(s, testSecret))
	return app, s
}

func postJSON(t *testing.T, app *fiber.App, target string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	raw, _ = io.ReadAll(resp.Body)
	json.Unmarshal(raw, &env)
	return resp, env.Data
}

func TestLogin_DefaultAdmin(t *testing.T) {
	app, _ := newAuthApp(t)

	resp, data := postJSON(t, app, "/api/auth/login", map[string]any{
		"email": "admin@localhost", "password": "changeme",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	access, _ := data["access_token"].(string)
	refresh, _ := data["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("token pair = %v", data)
	}

	claims, err := ParseAccessToken(access, testSecret)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Errorf("roles = %v", claims.Roles)
	}
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	app, _ := newAuthApp(t)

	resp, _ := postJSON(t, app, "/api/auth/login", map[string]any{
		"email": "admin@localhost", "password": "wrong",
	})
	if resp.StatusCode != 401 {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}

	resp, _ = postJSON(t, app, "/api/auth/login", map[string]any{
		"email": "nobody@localhost", "password": "changeme",
	})
	if resp.StatusCode != 401 {
		t.Errorf("unknown user status = %d, want 401", resp.StatusCode)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	app, s := newAuthApp(t)

	_, data := postJSON(t, app, "/api/auth/login", map[string]any{
		"email": "admin@localhost", "password": "changeme",
	})
	oldRefresh := data["refresh_token"].(string)

	resp, data := postJSON(t, app, "/api/auth/refresh", map[string]any{
		"refresh_token": oldRefresh,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	newRefresh, _ := data["refresh_token"].(string)
	if newRefresh == "" || newRefresh == oldRefresh {
		t.Errorf("refresh token not rotated")
	}

	// The used token is dead.
	resp, _ = postJSON(t, app, "/api/auth/refresh", map[string]any{
		"refresh_token": oldRefresh,
	})
	if resp.StatusCode != 401 {
		t.Errorf("replayed token status = %d, want 401", resp.StatusCode)
	}

	// Exactly one live token remains.
	row, err := store.QueryRow(context.Background(), s.DB, "SELECT COUNT(*) AS n FROM _refresh_tokens")
	if err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if n, _ := row["n"].(int64); n != 1 {
		t.Errorf("token rows = %v, want 1", row["n"])
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	app, _ := newAuthApp(t)

	_, data := postJSON(t, app, "/api/auth/login", map[string]any{
		"email": "admin@localhost", "password": "changeme",
	})
	refresh := data["refresh_token"].(string)

	resp, _ := postJSON(t, app, "/api/auth/logout", map[string]any{"refresh_token": refresh})
	if resp.StatusCode != 200 {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, app, "/api/auth/refresh", map[string]any{"refresh_token": refresh})
	if resp.StatusCode != 401 {
		t.Errorf("refresh after logout = %d, want 401", resp.StatusCode)
	}
}

func TestAuthMiddleware_GuardsRoutes(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	app.Use(AuthMiddleware(testSecret))
	app.Get("/secret", func(c *fiber.Ctx) error {
		return c.SendString(GetUser(c).ID)
	})

	req := httptest.NewRequest("GET", "/secret", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 401 {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	req = httptest.NewRequest("GET", "/secret", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 401 {
		t.Errorf("bad token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	token, err := GenerateAccessToken("u-1", []string{"admin"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req = httptest.NewRequest("GET", "/secret", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("valid token status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "u-1" {
		t.Errorf("user id = %s", body)
	}
}

func TestRequireRoles(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	app.Use(AuthMiddleware(testSecret), RequireRoles("editor", "publisher"))
	app.Get("/edit", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	get := func(roles []string) int {
		t.Helper()
		token, err := GenerateAccessToken("u-1", roles, testSecret)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		req := httptest.NewRequest("GET", "/edit", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, _ := app.Test(req, -1)
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get([]string{"viewer"}); code != 403 {
		t.Errorf("viewer status = %d, want 403", code)
	}
	if code := get([]string{"publisher"}); code != 200 {
		t.Errorf("publisher status = %d, want 200", code)
	}
	// Admin passes every role gate.
	if code := get([]string{"admin"}); code != 200 {
		t.Errorf("admin status = %d, want 200", code)
	}
}

func TestRequireAdmin(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	app.Use(AuthMiddleware(testSecret), RequireAdmin())
	app.Get("/admin", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	token, _ := GenerateAccessToken("u-1", []string{"editor"}, testSecret)
	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 403 {
		t.Errorf("non-admin status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	token, _ = GenerateAccessToken("u-1", []string{"admin"}, testSecret)
	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Errorf("admin status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}
