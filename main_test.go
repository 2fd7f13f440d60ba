// main_test.go

// Router smoke tests: drive full request/response cycles through buildRouter
// with mock-backed handlers, covering the auth middleware chain end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contacts-api/internal/auth"
	"contacts-api/internal/config"
	"contacts-api/internal/contacts"
	"contacts-api/internal/store"
	"contacts-api/internal/testutil"
)

// newTestServer wires the router with fresh mocks and returns it with the
// shared mock store for seeding.
func newTestServer(t *testing.T) (http.Handler, *testutil.MockStore, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		SecretKey:        "router-test-secret",
		AccessTokenTTL:   30 * time.Minute,
		ResetTokenTTL:    48 * time.Hour,
		UserCacheTTL:     time.Hour,
		ContactCacheTTL:  30 * time.Minute,
		CORSOrigins:      []string{"*"},
		RateLoginMax:     10,
		RateLoginWindow:  10 * time.Minute,
		RateLoginLockout: 15 * time.Minute,
		RateResetMax:     3,
		RateResetWindow:  time.Hour,
		RateResetLockout: time.Hour,
	}
	ps := testutil.NewMockStore()
	rs := testutil.NewMockCache()
	ah := &auth.AuthHandler{
		PS:  ps,
		RS:  rs,
		RL:  testutil.NewMockRateLimiter(),
		ML:  &testutil.RecorderMailer{},
		Cfg: cfg,
	}
	ch := &contacts.ContactHandler{PS: ps, RS: rs, Cfg: cfg}
	return buildRouter(ah, ch, cfg), ps, cfg
}

// do executes a JSON request against the router.
func do(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, rd)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestHealthRoute(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := do(t, router, http.MethodGet, "/health", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestProtectedRoutesRejectAnonymous(t *testing.T) {
	router, _, _ := newTestServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodGet, "/api/contacts"},
		{http.MethodPost, "/api/contacts"},
		{http.MethodGet, "/api/contacts/1"},
		{http.MethodGet, "/api/contacts/birthdays/upcoming"},
		{http.MethodGet, "/api/auth/admin"},
	}
	for _, tc := range paths {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := do(t, router, tc.method, tc.path, "", "")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status: expected 401, got %d", w.Code)
			}
		})
	}
}

func TestRegisterLoginContactLifecycle(t *testing.T) {
	router, _, _ := newTestServer(t)

	// Register.
	w := do(t, router, http.MethodPost, "/api/auth/register", "",
		`{"email":"flow@example.com","password":"flowpassword1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Login.
	w = do(t, router, http.MethodPost, "/api/auth/login", "",
		`{"email":"flow@example.com","password":"flowpassword1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var loginResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&loginResp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	token := loginResp.AccessToken

	// Profile is reachable with the token.
	w = do(t, router, http.MethodGet, "/api/auth/me", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}

	// Empty contact list.
	w = do(t, router, http.MethodGet, "/api/contacts", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}

	// Create a contact.
	w = do(t, router, http.MethodPost, "/api/contacts", token,
		`{"first_name":"Ada","email":"ada@example.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created store.Contact
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decoding contact: %v", err)
	}

	// The list now contains it.
	w = do(t, router, http.MethodGet, "/api/contacts", token, "")
	var listed []store.Contact
	if err := json.NewDecoder(w.Body).Decode(&listed); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("expected the created contact in the list, got %+v", listed)
	}

	// Fetch, then delete, then the fetch is a 404.
	path := fmt.Sprintf("/api/contacts/%d", created.ID)
	if w = do(t, router, http.MethodGet, path, token, ""); w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if w = do(t, router, http.MethodDelete, path, token, ""); w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if w = do(t, router, http.MethodGet, path, token, ""); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", w.Code)
	}
}

func TestAdminRoutesRejectRegularUsers(t *testing.T) {
	router, ps, cfg := newTestServer(t)

	// Seed a regular user directly and mint their token.
	hash, err := auth.HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user, err := ps.CreateUser(context.Background(), "plain@example.com", hash)
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	token, err := auth.IssueAccessToken(user.Email, user.ID, cfg.SecretKey, cfg.AccessTokenTTL)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	w := do(t, router, http.MethodGet, "/api/auth/admin/users", token, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("status: expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInactiveAccountsAreRejected(t *testing.T) {
	router, ps, cfg := newTestServer(t)

	hash, err := auth.HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user, err := ps.CreateUser(context.Background(), "frozen@example.com", hash)
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	inactive := false
	if _, err := ps.UpdateUser(context.Background(), user.ID, store.UserUpdate{IsActive: &inactive}); err != nil {
		t.Fatalf("deactivating user: %v", err)
	}
	token, err := auth.IssueAccessToken(user.Email, user.ID, cfg.SecretKey, cfg.AccessTokenTTL)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	// The token still verifies, but the active gate stops the request.
	w := do(t, router, http.MethodGet, "/api/contacts", token, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("status: expected 403, got %d: %s", w.Code, w.Body.String())
	}
}
