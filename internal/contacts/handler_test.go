// handler_test.go

// unit tests for contact CRUD handlers, their cache behavior, and the
// upcoming-birthday window.
package contacts

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
	"contacts-api/internal/store"
	"contacts-api/internal/testutil"

	"github.com/go-chi/chi/v5"
)

func testConfig() *config.Config {
	return &config.Config{
		ContactCacheTTL: 30 * time.Minute,
		UserCacheTTL:    time.Hour,
	}
}

// newTestHandler builds a ContactHandler with fresh mocks.
func newTestHandler() *ContactHandler {
	return &ContactHandler{
		PS:  testutil.NewMockStore(),
		RS:  testutil.NewMockCache(),
		Cfg: testConfig(),
	}
}

var (
	owner    = &store.User{ID: 1, Email: "owner@example.com", IsActive: true, Role: store.RoleUser}
	intruder = &store.User{ID: 2, Email: "intruder@example.com", IsActive: true, Role: store.RoleUser}
)

// contactReq builds a request with user context and an optional {id} chi
// URL parameter, simulating one routed through RequireAuth.
func contactReq(method, target, id, body string, u *store.User) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	rctx := chi.NewRouteContext()
	if id != "" {
		rctx.URLParams.Add("id", id)
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = auth.ContextWithUser(ctx, u)
	return r.WithContext(ctx)
}

// seedContact creates a contact for the owner through the handler's store.
func seedContact(t *testing.T, h *ContactHandler, userID int64, firstName, email string) *store.Contact {
	t.Helper()
	c, err := h.PS.CreateContact(context.Background(), userID, store.Contact{
		FirstName: firstName,
		Email:     email,
	})
	if err != nil {
		t.Fatalf("seeding contact: %v", err)
	}
	return c
}

// assertMessage checks the response status and {"message": ...} body.
func assertMessage(t *testing.T, w *httptest.ResponseRecorder, status int, expectedMsg string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status: expected %d, got %d", status, w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	expected := fmt.Sprintf(`{"message":"%s"}`, expectedMsg)
	if strings.TrimSpace(string(body)) != expected {
		t.Errorf("body: expected %q, got %q", expected, string(body))
	}
}

// decodeContact decodes a single contact from the response body.
func decodeContact(t *testing.T, w *httptest.ResponseRecorder) store.Contact {
	t.Helper()
	var c store.Contact
	if err := json.NewDecoder(w.Body).Decode(&c); err != nil {
		t.Fatalf("decoding contact: %v", err)
	}
	return c
}

// decodeContacts decodes a contact list from the response body.
func decodeContacts(t *testing.T, w *httptest.ResponseRecorder) []store.Contact {
	t.Helper()
	var cs []store.Contact
	if err := json.NewDecoder(w.Body).Decode(&cs); err != nil {
		t.Fatalf("decoding contacts: %v", err)
	}
	return cs
}

// --- Create ---

func TestCreate(t *testing.T) {
	t.Run("missing user context returns InternalServerError", func(t *testing.T) {
		h := newTestHandler()

		r := httptest.NewRequest(http.MethodPost, "/api/contacts",
			strings.NewReader(`{"first_name":"Ada","email":"ada@example.com"}`))
		w := httptest.NewRecorder()

		h.Create(w, r)

		assertMessage(t, w, http.StatusInternalServerError, "internal server error")
	})

	t.Run("invalid JSON returns BadRequest", func(t *testing.T) {
		h := newTestHandler()

		r := contactReq(http.MethodPost, "/api/contacts", "", `{not json}`, owner)
		w := httptest.NewRecorder()

		h.Create(w, r)

		assertMessage(t, w, http.StatusBadRequest, "error decoding request body")
	})

	t.Run("missing first_name returns BadRequest", func(t *testing.T) {
		h := newTestHandler()

		r := contactReq(http.MethodPost, "/api/contacts", "",
			`{"email":"ada@example.com"}`, owner)
		w := httptest.NewRecorder()

		h.Create(w, r)

		assertMessage(t, w, http.StatusBadRequest, "first_name is required")
	})

	t.Run("missing email returns BadRequest", func(t *testing.T) {
		h := newTestHandler()

		r := contactReq(http.MethodPost, "/api/contacts", "",
			`{"first_name":"Ada"}`, owner)
		w := httptest.NewRecorder()

		h.Create(w, r)

		assertMessage(t, w, http.StatusBadRequest, "email is required")
	})

	t.Run("malformed birthday returns BadRequest", func(t *testing.T) {
		h := newTestHandler()

		r := contactReq(http.MethodPost, "/api/contacts", "",
			`{"first_name":"Ada","email":"ada@example.com","birthday":"12/10/1815"}`, owner)
		w := httptest.NewRecorder()

		h.Create(w, r)

		assertMessage(t, w, http.StatusBadRequest, "birthday must be YYYY-MM-DD")
	})

	t.Run("duplicate contact email returns Conflict", func(t *testing.T) {
		h := newTestHandler()
		seedContact(t, h, owner.ID, "Ada", "ada@example.com")

		r := contactReq(http.MethodPost, "/api/contacts", "",
			`{"first_name":"Other","email":"ada@example.com"}`, owner)
		w := httptest.NewRecorder()

		h.Create(w, r)

		assertMessage(t, w, http.StatusConflict, "contact email already exists")
	})

	t.Run("valid contact returns Created and owner-scoped row", func(t *testing.T) {
		h := newTestHandler()

		r := contactReq(http.MethodPost, "/api/contacts", "",
			`{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com","phone":"555-0100","birthday":"1815-12-10","notes":"met at the analytical engine talk"}`,
			owner)
		w := httptest.NewRecorder()

		h.Create(w, r)

		if w.Code != http.StatusCreated {
			t.Fatalf("status: expected 201, got %d", w.Code)
		}
		c := decodeContact(t, w)
		if c.ID == 0 {
			t.Error("expected non-zero id")
		}
		if c.UserID != owner.ID {
			t.Errorf("user_id: expected %d, got %d", owner.ID, c.UserID)
		}
		if c.FirstName != "Ada" || c.LastName != "Lovelace" || c.Email != "ada@example.com" {
			t.Errorf("unexpected contact: %+v", c)
		}
		if c.Birthday == nil || c.Birthday.Format("2006-01-02") != "1815-12-10" {
			t.Errorf("birthday: expected 1815-12-10, got %v", c.Birthday)
		}
	})

	t.Run("create invalidates the owner's cached list pages", func(t *testing.T) {
		h := newTestHandler()
		rs := h.RS.(*testutil.MockCache)
		rs.SetContactList(context.Background(), owner.ID, 0, 100, []store.Contact{}, time.Hour)

		r := contactReq(http.MethodPost, "/api/contacts", "",
			`{"first_name":"Ada","email":"ada@example.com"}`, owner)
		w := httptest.NewRecorder()

		h.Create(w, r)

		if w.Code != http.StatusCreated {
			t.Fatalf("status: expected 201, got %d", w.Code)
		}
		if _, ok := rs.GetContactList(context.Background(), owner.ID, 0, 100); ok {
			t.Error("cached list pages should be invalidated after create")
		}
	})
}

// --- Get ---

func TestGet(t *testing.T) {
	t.Run("malformed id returns BadRequest", func(t *testing.T) {
		h := newTestHandler()

		r := contactReq(http.MethodGet, "/api/contacts/abc", "abc", "", owner)
		w := httptest.NewRecorder()

		h.Get(w, r)

		assertMessage(t, w, http.StatusBadRequest, "invalid contact id")
	})

	t.Run("unknown id returns NotFound", func(t *testing.T) {
		h := newTestHandler()

		r := contactReq(http.MethodGet, "/api/contacts/9999", "9999", "", owner)
		w := httptest.NewRecorder()

		h.Get(w, r)

		assertMessage(t, w, http.StatusNotFound, "contact not found")
	})

	t.Run("someone else's contact returns NotFound", func(t *testing.T) {
		// Indistinguishable from a contact that doesn't exist.
		h := newTestHandler()
		c := seedContact(t, h, owner.ID, "Ada", "ada@example.com")

		r := contactReq(http.MethodGet, "/api/contacts/1", fmt.Sprint(c.ID), "", intruder)
		w := httptest.NewRecorder()

		h.Get(w, r)

		assertMessage(t, w, http.StatusNotFound, "contact not found")
	})

	t.Run("miss populates the cache", func(t *testing.T) {
		h := newTestHandler()
		rs := h.RS.(*testutil.MockCache)
		c := seedContact(t, h, owner.ID, "Ada", "ada@example.com")

		r := contactReq(http.MethodGet, "/api/contacts/1", fmt.Sprint(c.ID), "", owner)
		w := httptest.NewRecorder()

		h.Get(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		got := decodeContact(t, w)
		if got.ID != c.ID || got.FirstName != "Ada" {
			t.Errorf("unexpected contact: %+v", got)
		}
		if _, ok := rs.GetContact(context.Background(), c.ID, owner.ID); !ok {
			t.Error("contact should be cached after a miss")
		}
	})

	t.Run("hit skips the store", func(t *testing.T) {
		h := newTestHandler()
		rs := h.RS.(*testutil.MockCache)
		cached := &store.Contact{ID: 7, FirstName: "Cached", Email: "c@example.com", UserID: owner.ID}
		rs.SetContact(context.Background(), cached, time.Hour)
		// The store is empty; only the cache can serve this.
		r := contactReq(http.MethodGet, "/api/contacts/7", "7", "", owner)
		w := httptest.NewRecorder()

		h.Get(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		got := decodeContact(t, w)
		if got.FirstName != "Cached" {
			t.Errorf("expected cache-served contact, got %+v", got)
		}
	})

	t.Run("cache keys are owner-scoped", func(t *testing.T) {
		// A cached contact for one owner must never serve another owner's
		// request for the same id.
		h := newTestHandler()
		rs := h.RS.(*testutil.MockCache)
		cached := &store.Contact{ID: 7, FirstName: "Private", Email: "p@example.com", UserID: owner.ID}
		rs.SetContact(context.Background(), cached, time.Hour)

		r := contactReq(http.MethodGet, "/api/contacts/7", "7", "", intruder)
		w := httptest.NewRecorder()

		h.Get(w, r)

		assertMessage(t, w, http.StatusNotFound, "contact not found")
	})
}

// --- List ---

func TestList(t *testing.T) {
	t.Run("owner sees only their contacts", func(t *testing.T) {
		h := newTestHandler()
		seedContact(t, h, owner.ID, "Mine", "mine@example.com")
		seedContact(t, h, intruder.ID, "Theirs", "theirs@example.com")

		r := contactReq(http.MethodGet, "/api/contacts", "", "", owner)
		w := httptest.NewRecorder()

		h.List(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		cs := decodeContacts(t, w)
		if len(cs) != 1 || cs[0].FirstName != "Mine" {
			t.Errorf("expected only the owner's contact, got %+v", cs)
		}
	})

	t.Run("miss caches the page", func(t *testing.T) {
		h := newTestHandler()
		rs := h.RS.(*testutil.MockCache)
		seedContact(t, h, owner.ID, "Ada", "ada@example.com")

		r := contactReq(http.MethodGet, "/api/contacts", "", "", owner)
		w := httptest.NewRecorder()

		h.List(w, r)

		if _, ok := rs.GetContactList(context.Background(), owner.ID, 0, 100); !ok {
			t.Error("list page should be cached after a miss")
		}
	})

	t.Run("no stale read after update", func(t *testing.T) {
		h := newTestHandler()
		c := seedContact(t, h, owner.ID, "Before", "cycle@example.com")

		// Prime the list cache.
		w := httptest.NewRecorder()
		h.List(w, contactReq(http.MethodGet, "/api/contacts", "", "", owner))
		if w.Code != http.StatusOK {
			t.Fatalf("prime list: expected 200, got %d", w.Code)
		}

		// Update through the handler; it must drop the cached page.
		w = httptest.NewRecorder()
		h.Update(w, contactReq(http.MethodPut, "/api/contacts/1", fmt.Sprint(c.ID),
			`{"first_name":"After"}`, owner))
		if w.Code != http.StatusOK {
			t.Fatalf("update: expected 200, got %d", w.Code)
		}

		// The follow-up list read must see the new value.
		w = httptest.NewRecorder()
		h.List(w, contactReq(http.MethodGet, "/api/contacts", "", "", owner))
		cs := decodeContacts(t, w)
		if len(cs) != 1 || cs[0].FirstName != "After" {
			t.Errorf("expected updated contact in list, got %+v", cs)
		}
	})

	t.Run("search matches name and email", func(t *testing.T) {
		h := newTestHandler()
		seedContact(t, h, owner.ID, "Ada", "ada@example.com")
		seedContact(t, h, owner.ID, "Grace", "grace@example.com")

		r := contactReq(http.MethodGet, "/api/contacts?q=gra", "", "", owner)
		w := httptest.NewRecorder()

		h.List(w, r)

		cs := decodeContacts(t, w)
		if len(cs) != 1 || cs[0].FirstName != "Grace" {
			t.Errorf("expected Grace, got %+v", cs)
		}
	})

	t.Run("search bypasses the cache", func(t *testing.T) {
		h := newTestHandler()
		rs := h.RS.(*testutil.MockCache)
		seedContact(t, h, owner.ID, "Ada", "ada@example.com")

		r := contactReq(http.MethodGet, "/api/contacts?q=ada", "", "", owner)
		w := httptest.NewRecorder()

		h.List(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		if len(rs.ContactLists) != 0 {
			t.Error("search results must not be cached")
		}
	})
}

// --- Update ---

func TestUpdate(t *testing.T) {
	t.Run("unknown contact returns NotFound", func(t *testing.T) {
		h := newTestHandler()

		r := contactReq(http.MethodPut, "/api/contacts/9999", "9999",
			`{"first_name":"X"}`, owner)
		w := httptest.NewRecorder()

		h.Update(w, r)

		assertMessage(t, w, http.StatusNotFound, "contact not found")
	})

	t.Run("someone else's contact returns NotFound", func(t *testing.T) {
		h := newTestHandler()
		c := seedContact(t, h, owner.ID, "Ada", "ada@example.com")

		r := contactReq(http.MethodPut, "/api/contacts/1", fmt.Sprint(c.ID),
			`{"first_name":"Hijacked"}`, intruder)
		w := httptest.NewRecorder()

		h.Update(w, r)

		assertMessage(t, w, http.StatusNotFound, "contact not found")
		stored, err := h.PS.GetContact(context.Background(), c.ID, owner.ID)
		if err != nil {
			t.Fatalf("fetching contact: %v", err)
		}
		if stored.FirstName != "Ada" {
			t.Error("contact must be untouched by another user's update")
		}
	})

	t.Run("email conflict returns Conflict", func(t *testing.T) {
		h := newTestHandler()
		seedContact(t, h, owner.ID, "Ada", "ada@example.com")
		c := seedContact(t, h, owner.ID, "Grace", "grace@example.com")

		r := contactReq(http.MethodPut, "/api/contacts/2", fmt.Sprint(c.ID),
			`{"email":"ada@example.com"}`, owner)
		w := httptest.NewRecorder()

		h.Update(w, r)

		assertMessage(t, w, http.StatusConflict, "contact email already exists")
	})

	t.Run("partial update keeps other fields and drops both cache entries", func(t *testing.T) {
		h := newTestHandler()
		rs := h.RS.(*testutil.MockCache)
		c := seedContact(t, h, owner.ID, "Ada", "ada@example.com")
		rs.SetContact(context.Background(), c, time.Hour)
		rs.SetContactList(context.Background(), owner.ID, 0, 100, []store.Contact{*c}, time.Hour)

		r := contactReq(http.MethodPut, "/api/contacts/1", fmt.Sprint(c.ID),
			`{"phone":"555-0199"}`, owner)
		w := httptest.NewRecorder()

		h.Update(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		got := decodeContact(t, w)
		if got.Phone != "555-0199" {
			t.Errorf("phone: expected 555-0199, got %q", got.Phone)
		}
		if got.FirstName != "Ada" || got.Email != "ada@example.com" {
			t.Errorf("untouched fields should survive: %+v", got)
		}
		if _, ok := rs.GetContact(context.Background(), c.ID, owner.ID); ok {
			t.Error("single-contact cache entry should be invalidated")
		}
		if _, ok := rs.GetContactList(context.Background(), owner.ID, 0, 100); ok {
			t.Error("list cache pages should be invalidated")
		}
	})
}

// --- Delete ---

func TestDelete(t *testing.T) {
	t.Run("someone else's contact returns NotFound", func(t *testing.T) {
		h := newTestHandler()
		c := seedContact(t, h, owner.ID, "Ada", "ada@example.com")

		r := contactReq(http.MethodDelete, "/api/contacts/1", fmt.Sprint(c.ID), "", intruder)
		w := httptest.NewRecorder()

		h.Delete(w, r)

		assertMessage(t, w, http.StatusNotFound, "contact not found")
		if _, err := h.PS.GetContact(context.Background(), c.ID, owner.ID); err != nil {
			t.Error("contact must survive another user's delete")
		}
	})

	t.Run("delete removes the row and cache entries, second delete is NotFound", func(t *testing.T) {
		h := newTestHandler()
		rs := h.RS.(*testutil.MockCache)
		c := seedContact(t, h, owner.ID, "Ada", "ada@example.com")
		rs.SetContact(context.Background(), c, time.Hour)
		rs.SetContactList(context.Background(), owner.ID, 0, 100, []store.Contact{*c}, time.Hour)

		r := contactReq(http.MethodDelete, "/api/contacts/1", fmt.Sprint(c.ID), "", owner)
		w := httptest.NewRecorder()

		h.Delete(w, r)

		assertMessage(t, w, http.StatusOK, "contact deleted")
		if _, ok := rs.GetContact(context.Background(), c.ID, owner.ID); ok {
			t.Error("single-contact cache entry should be gone")
		}
		if _, ok := rs.GetContactList(context.Background(), owner.ID, 0, 100); ok {
			t.Error("list cache pages should be gone")
		}

		// Deleting again must be a 404, not a silent success.
		w2 := httptest.NewRecorder()
		h.Delete(w2, contactReq(http.MethodDelete, "/api/contacts/1", fmt.Sprint(c.ID), "", owner))
		assertMessage(t, w2, http.StatusNotFound, "contact not found")
	})
}

// --- UpcomingBirthdays ---

func TestUpcomingBirthdays(t *testing.T) {
	h := newTestHandler()

	seed := func(name string, birthday time.Time) {
		bd := birthday
		_, err := h.PS.CreateContact(context.Background(), owner.ID, store.Contact{
			FirstName: name,
			Email:     name + "@example.com",
			Birthday:  &bd,
		})
		if err != nil {
			t.Fatalf("seeding %s: %v", name, err)
		}
	}

	now := time.Now()
	// Birth years are in the past; only month/day matter for the window.
	seed("Today", now.AddDate(-30, 0, 0))
	seed("InThree", now.AddDate(-25, 0, 3))
	seed("InTen", now.AddDate(-40, 0, 10))
	if _, err := h.PS.CreateContact(context.Background(), owner.ID, store.Contact{
		FirstName: "NoBirthday",
		Email:     "nobirthday@example.com",
	}); err != nil {
		t.Fatalf("seeding NoBirthday: %v", err)
	}

	r := contactReq(http.MethodGet, "/api/contacts/birthdays/upcoming", "", "", owner)
	w := httptest.NewRecorder()

	h.UpcomingBirthdays(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	cs := decodeContacts(t, w)
	names := make(map[string]bool, len(cs))
	for _, c := range cs {
		names[c.FirstName] = true
	}
	if !names["Today"] {
		t.Error("a birthday today should be included")
	}
	if !names["InThree"] {
		t.Error("a birthday in three days should be included")
	}
	if names["InTen"] {
		t.Error("a birthday in ten days should be excluded")
	}
}

func TestBirthdayWithin(t *testing.T) {
	// Fixed reference date keeps these deterministic.
	today := time.Date(2025, time.December, 29, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		birthday time.Time
		want     bool
	}{
		{"today", time.Date(1990, time.December, 29, 0, 0, 0, 0, time.UTC), true},
		{"tomorrow", time.Date(1990, time.December, 30, 0, 0, 0, 0, time.UTC), true},
		{"window end", time.Date(1990, time.January, 5, 0, 0, 0, 0, time.UTC), true},
		{"past window across new year", time.Date(1990, time.January, 6, 0, 0, 0, 0, time.UTC), false},
		{"yesterday wraps to next year", time.Date(1990, time.December, 28, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := birthdayWithin(tc.birthday, today, 7); got != tc.want {
				t.Errorf("birthdayWithin(%v, %v, 7) = %v, want %v",
					tc.birthday.Format("01-02"), today.Format("2006-01-02"), got, tc.want)
			}
		})
	}
}

func TestUnavailableCache(t *testing.T) {
	// With Redis down every cache call misses or fails silently; the
	// handlers must serve the full lifecycle from Postgres alone.
	h := newTestHandler()
	h.RS.(*testutil.MockCache).Down = true

	w := httptest.NewRecorder()
	h.Create(w, contactReq(http.MethodPost, "/api/contacts", "", `{"first_name":"Ada","email":"ada@example.com"}`, owner))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	created := decodeContact(t, w)

	w = httptest.NewRecorder()
	h.Get(w, contactReq(http.MethodGet, "/api/contacts/1", fmt.Sprint(created.ID), "", owner))
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.List(w, contactReq(http.MethodGet, "/api/contacts", "", "", owner))
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if got := decodeContacts(t, w); len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("list: expected the created contact, got %+v", got)
	}

	w = httptest.NewRecorder()
	h.Update(w, contactReq(http.MethodPut, "/api/contacts/1", fmt.Sprint(created.ID), `{"first_name":"Grace"}`, owner))
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", w.Code)
	}
	if got := decodeContact(t, w); got.FirstName != "Grace" {
		t.Errorf("update: expected first name Grace, got %q", got.FirstName)
	}

	w = httptest.NewRecorder()
	h.Delete(w, contactReq(http.MethodDelete, "/api/contacts/1", fmt.Sprint(created.ID), "", owner))
	assertMessage(t, w, http.StatusOK, "contact deleted")
}
