// Package contacts holds the HTTP handlers for per-user contact CRUD with
// read-through caching and write-through invalidation.
//
// Ownership is enforced by the store queries (id AND owner id); a contact
// belonging to someone else is indistinguishable from one that doesn't
// exist. Every route sits behind auth.RequireAuth -> RequireActive.
package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"contacts-api/internal/auth"
	"contacts-api/internal/config"
	"contacts-api/internal/store"

	"github.com/go-chi/chi/v5"
)

// birthdayWindowDays is the look-ahead used by the upcoming-birthdays route.
const birthdayWindowDays = 7

// Store defines database operations needed by contact handlers.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// CreateContact inserts a contact owned by userID and returns the stored row.
	CreateContact(ctx context.Context, userID int64, c store.Contact) (*store.Contact, error)

	// GetContact fetches one contact scoped to its owner.
	GetContact(ctx context.Context, id, userID int64) (*store.Contact, error)

	// ListContacts returns the owner's contacts with pagination.
	ListContacts(ctx context.Context, userID int64, offset, limit int) ([]store.Contact, error)

	// SearchContacts returns the owner's contacts matching query.
	SearchContacts(ctx context.Context, userID int64, query string) ([]store.Contact, error)

	// ContactsWithBirthdays returns the owner's contacts that have a birthday set.
	ContactsWithBirthdays(ctx context.Context, userID int64) ([]store.Contact, error)

	// UpdateContact applies the non-nil fields of upd, scoped to the owner.
	UpdateContact(ctx context.Context, id, userID int64, upd store.ContactUpdate) (*store.Contact, error)

	// DeleteContact removes a contact, scoped to the owner.
	DeleteContact(ctx context.Context, id, userID int64) error
}

// Cache defines contact cache operations. Satisfied by *store.RedisCache.
// Failures are absorbed by the implementation -- these methods never error.
type Cache interface {
	// GetContact retrieves a cached contact; false on miss.
	GetContact(ctx context.Context, id, userID int64) (*store.Contact, bool)

	// SetContact caches a single contact.
	SetContact(ctx context.Context, contact *store.Contact, ttl time.Duration) bool

	// DeleteContact invalidates a cached single-contact entry.
	DeleteContact(ctx context.Context, id, userID int64) bool

	// GetContactList retrieves a cached list page; false on miss.
	GetContactList(ctx context.Context, userID int64, offset, limit int) ([]store.Contact, bool)

	// SetContactList caches a list page and tracks its key for invalidation.
	SetContactList(ctx context.Context, userID int64, offset, limit int, contacts []store.Contact, ttl time.Duration) bool

	// InvalidateContactLists removes every cached list page for the owner.
	InvalidateContactLists(ctx context.Context, userID int64) bool
}

// ContactHandler holds dependencies for contact HTTP handlers.
type ContactHandler struct {
	PS  Store
	RS  Cache
	Cfg *config.Config
}

// contactInput is the request body for create and update. On create,
// first_name and email are required; on update every field is optional.
type contactInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Birthday  *string `json:"birthday"` // YYYY-MM-DD
	Notes     *string `json:"notes"`
}

// parseBirthday parses a YYYY-MM-DD date string.
func parseBirthday(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// writeJSON marshals v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// paginationParams reads offset/limit query params with defaults and caps.
func paginationParams(r *http.Request) (offset, limit int) {
	offset = 0
	limit = 100
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return offset, limit
}

// Create handles POST /api/contacts.
// Returns 201 with the stored contact, 409 when the contact email is taken.
// Invalidates the owner's cached list pages; the new id can't already be
// cached as a single entry, so only the lists need to go.
func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.InternalServerError(w, r, errors.New("missing user context"))
		return
	}

	var input contactInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		auth.BadRequest(w, r, "error decoding request body")
		return
	}

	if input.FirstName == nil || *input.FirstName == "" {
		auth.BadRequest(w, r, "first_name is required")
		return
	}
	if input.Email == nil {
		auth.BadRequest(w, r, "email is required")
		return
	}
	if msg := auth.ValidateEmail(*input.Email); msg != "" {
		auth.BadRequest(w, r, msg)
		return
	}

	contact := store.Contact{
		FirstName: *input.FirstName,
		Email:     *input.Email,
		Notes:     input.Notes,
	}
	if input.LastName != nil {
		contact.LastName = *input.LastName
	}
	if input.Phone != nil {
		contact.Phone = *input.Phone
	}
	if input.Birthday != nil {
		bd, err := parseBirthday(*input.Birthday)
		if err != nil {
			auth.BadRequest(w, r, "birthday must be YYYY-MM-DD")
			return
		}
		contact.Birthday = &bd
	}

	created, err := h.PS.CreateContact(r.Context(), user.ID, contact)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			auth.Conflict(w, "contact email already exists")
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}

	// Invalidate before responding so a follow-up list read can't miss the
	// new contact for a full TTL.
	h.RS.InvalidateContactLists(r.Context(), user.ID)

	writeJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/contacts/{id} -- read-through cached single fetch.
func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.InternalServerError(w, r, errors.New("missing user context"))
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		auth.BadRequest(w, r, "invalid contact id")
		return
	}

	// Cache fast path.
	if cached, ok := h.RS.GetContact(r.Context(), id, user.ID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	contact, err := h.PS.GetContact(r.Context(), id, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			auth.NotFound(w, "contact not found")
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}

	h.RS.SetContact(r.Context(), contact, h.Cfg.ContactCacheTTL)
	writeJSON(w, http.StatusOK, contact)
}

// List handles GET /api/contacts -- paginated listing with read-through
// caching, or an uncached search when ?q= is present.
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.InternalServerError(w, r, errors.New("missing user context"))
		return
	}

	// Searches bypass the cache: the (owner, query) key space is unbounded
	// and result sets churn with every write.
	if query := r.URL.Query().Get("q"); query != "" {
		results, err := h.PS.SearchContacts(r.Context(), user.ID, query)
		if err != nil {
			auth.InternalServerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
		return
	}

	offset, limit := paginationParams(r)

	if cached, ok := h.RS.GetContactList(r.Context(), user.ID, offset, limit); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	contacts, err := h.PS.ListContacts(r.Context(), user.ID, offset, limit)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}

	h.RS.SetContactList(r.Context(), user.ID, offset, limit, contacts, h.Cfg.ContactCacheTTL)
	writeJSON(w, http.StatusOK, contacts)
}

// Update handles PUT /api/contacts/{id}.
// Returns the updated contact; 404 when absent or owned by someone else,
// 409 on a contact email conflict. Invalidates the single-contact entry and
// the owner's list pages before responding.
func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.InternalServerError(w, r, errors.New("missing user context"))
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		auth.BadRequest(w, r, "invalid contact id")
		return
	}

	var input contactInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		auth.BadRequest(w, r, "error decoding request body")
		return
	}

	upd := store.ContactUpdate{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Phone:     input.Phone,
		Notes:     input.Notes,
	}
	if input.Email != nil {
		if msg := auth.ValidateEmail(*input.Email); msg != "" {
			auth.BadRequest(w, r, msg)
			return
		}
		upd.Email = input.Email
	}
	if input.Birthday != nil {
		bd, err := parseBirthday(*input.Birthday)
		if err != nil {
			auth.BadRequest(w, r, "birthday must be YYYY-MM-DD")
			return
		}
		upd.Birthday = &bd
	}

	updated, err := h.PS.UpdateContact(r.Context(), id, user.ID, upd)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			auth.NotFound(w, "contact not found")
		case errors.Is(err, store.ErrDuplicateEmail):
			auth.Conflict(w, "contact email already exists")
		default:
			auth.InternalServerError(w, r, err)
		}
		return
	}

	// Both cache entries must be gone before the response goes out.
	h.RS.DeleteContact(r.Context(), id, user.ID)
	h.RS.InvalidateContactLists(r.Context(), user.ID)

	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/contacts/{id}.
// A second delete of the same id returns 404.
func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.InternalServerError(w, r, errors.New("missing user context"))
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		auth.BadRequest(w, r, "invalid contact id")
		return
	}

	if err := h.PS.DeleteContact(r.Context(), id, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			auth.NotFound(w, "contact not found")
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}

	h.RS.DeleteContact(r.Context(), id, user.ID)
	h.RS.InvalidateContactLists(r.Context(), user.ID)

	auth.OK(w, "contact deleted")
}

// UpcomingBirthdays handles GET /api/contacts/birthdays/upcoming --
// contacts whose birthday falls within the next 7 days.
func (h *ContactHandler) UpcomingBirthdays(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.InternalServerError(w, r, errors.New("missing user context"))
		return
	}

	candidates, err := h.PS.ContactsWithBirthdays(r.Context(), user.ID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}

	today := time.Now()
	upcoming := []store.Contact{}
	for _, c := range candidates {
		if c.Birthday != nil && birthdayWithin(*c.Birthday, today, birthdayWindowDays) {
			upcoming = append(upcoming, c)
		}
	}
	writeJSON(w, http.StatusOK, upcoming)
}

// birthdayWithin reports whether the next occurrence of birthday's
// month/day falls within `days` days of today, inclusive. Handles the
// year boundary; Feb 29 birthdays normalise to Mar 1 in non-leap years.
func birthdayWithin(birthday, today time.Time, days int) bool {
	ty, tm, td := today.Date()
	todayDate := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)

	next := time.Date(ty, birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC)
	if next.Before(todayDate) {
		next = time.Date(ty+1, birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC)
	}

	diff := int(next.Sub(todayDate).Hours() / 24)
	return diff >= 0 && diff <= days
}
