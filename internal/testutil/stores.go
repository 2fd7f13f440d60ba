// stores.go
//
// Shared mock implementations of the store, cache, rate limiter, and mailer
// interfaces. Imported by test files across packages to avoid duplicate
// mock definitions.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"contacts-api/internal/store"
)

// MockStore implements auth.Store and contacts.Store for tests.
//
// Always stateful...Users and Contacts are maps, like a real store.
// Use *Err fields to inject errors for specific operations.
// Use NewMockStore to seed users; or construct directly and set *Err fields
// for error-path tests.
type MockStore struct {
	// Error injection...zero value means no error
	CreateUserErr         error
	GetUserErr            error
	ListUsersErr          error
	UpdateUserErr         error
	UpdatePasswordErr     error
	DeleteUserErr         error
	CreateContactErr      error
	GetContactErr         error
	ListContactsErr       error
	SearchContactsErr     error
	BirthdayContactsErr   error
	UpdateContactErr      error
	DeleteContactErr      error

	Users    map[int64]*store.User
	Contacts map[int64]*store.Contact

	nextUserID    int64
	nextContactID int64

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users, indexed by id.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users:    make(map[int64]*store.User),
		Contacts: make(map[int64]*store.Contact),
	}
	for _, u := range users {
		ms.Users[u.ID] = u
		if u.ID > ms.nextUserID {
			ms.nextUserID = u.ID
		}
	}
	return ms
}

func (m *MockStore) CreateUser(_ context.Context, email, passwordHash string) (*store.User, error) {
	if m.CreateUserErr != nil {
		return nil, m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Email == email {
			return nil, store.ErrDuplicateEmail
		}
	}
	m.nextUserID++
	now := time.Now()
	u := &store.User{
		ID:           m.nextUserID,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		Role:         store.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.Users[u.ID] = u
	return u, nil
}

func (m *MockStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *MockStore) ListUsers(_ context.Context, role store.Role, offset, limit int) ([]store.User, error) {
	if m.ListUsersErr != nil {
		return nil, m.ListUsersErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []store.User
	for _, u := range m.Users {
		if role == "" || u.Role == role {
			all = append(all, *u)
		}
	}
	sortUsersByID(all)
	return page(all, offset, limit), nil
}

func (m *MockStore) CountUsers(_ context.Context) (int64, error) {
	if m.ListUsersErr != nil {
		return 0, m.ListUsersErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Users)), nil
}

func (m *MockStore) CountUsersByRole(_ context.Context, role store.Role) (int64, error) {
	if m.ListUsersErr != nil {
		return 0, m.ListUsersErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.Users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) UpdateUser(_ context.Context, id int64, upd store.UserUpdate) (*store.User, error) {
	if m.UpdateUserErr != nil {
		return nil, m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Email != nil {
		for oid, other := range m.Users {
			if oid != id && other.Email == *upd.Email {
				return nil, store.ErrDuplicateEmail
			}
		}
		u.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.IsVerified != nil {
		u.IsVerified = *upd.IsVerified
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	u.UpdatedAt = time.Now()
	return u, nil
}

func (m *MockStore) UpdateUserPassword(_ context.Context, id int64, passwordHash string) error {
	if m.UpdatePasswordErr != nil {
		return m.UpdatePasswordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) DeleteUser(_ context.Context, id int64) error {
	if m.DeleteUserErr != nil {
		return m.DeleteUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.Users, id)
	// Contacts cascade, like the FK does.
	for cid, c := range m.Contacts {
		if c.UserID == id {
			delete(m.Contacts, cid)
		}
	}
	return nil
}

func (m *MockStore) CreateContact(_ context.Context, userID int64, c store.Contact) (*store.Contact, error) {
	if m.CreateContactErr != nil {
		return nil, m.CreateContactErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.Contacts {
		if other.Email == c.Email {
			return nil, store.ErrDuplicateEmail
		}
	}
	m.nextContactID++
	now := time.Now()
	c.ID = m.nextContactID
	c.UserID = userID
	c.CreatedAt = now
	c.UpdatedAt = now
	m.Contacts[c.ID] = &c
	return &c, nil
}

func (m *MockStore) GetContact(_ context.Context, id, userID int64) (*store.Contact, error) {
	if m.GetContactErr != nil {
		return nil, m.GetContactErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Contacts[id]
	if !ok || c.UserID != userID {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *MockStore) ListContacts(_ context.Context, userID int64, offset, limit int) ([]store.Contact, error) {
	if m.ListContactsErr != nil {
		return nil, m.ListContactsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []store.Contact
	for _, c := range m.Contacts {
		if c.UserID == userID {
			all = append(all, *c)
		}
	}
	sortContactsByID(all)
	return page(all, offset, limit), nil
}

func (m *MockStore) SearchContacts(_ context.Context, userID int64, query string) ([]store.Contact, error) {
	if m.SearchContactsErr != nil {
		return nil, m.SearchContactsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var out []store.Contact
	for _, c := range m.Contacts {
		if c.UserID != userID {
			continue
		}
		if strings.Contains(strings.ToLower(c.FirstName), q) ||
			strings.Contains(strings.ToLower(c.LastName), q) ||
			strings.Contains(strings.ToLower(c.Email), q) {
			out = append(out, *c)
		}
	}
	sortContactsByID(out)
	return out, nil
}

func (m *MockStore) ContactsWithBirthdays(_ context.Context, userID int64) ([]store.Contact, error) {
	if m.BirthdayContactsErr != nil {
		return nil, m.BirthdayContactsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Contact
	for _, c := range m.Contacts {
		if c.UserID == userID && c.Birthday != nil {
			out = append(out, *c)
		}
	}
	sortContactsByID(out)
	return out, nil
}

func (m *MockStore) UpdateContact(_ context.Context, id, userID int64, upd store.ContactUpdate) (*store.Contact, error) {
	if m.UpdateContactErr != nil {
		return nil, m.UpdateContactErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Contacts[id]
	if !ok || c.UserID != userID {
		return nil, store.ErrNotFound
	}
	if upd.Email != nil {
		for oid, other := range m.Contacts {
			if oid != id && other.Email == *upd.Email {
				return nil, store.ErrDuplicateEmail
			}
		}
		c.Email = *upd.Email
	}
	if upd.FirstName != nil {
		c.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		c.LastName = *upd.LastName
	}
	if upd.Phone != nil {
		c.Phone = *upd.Phone
	}
	if upd.Birthday != nil {
		c.Birthday = upd.Birthday
	}
	if upd.Notes != nil {
		c.Notes = upd.Notes
	}
	c.UpdatedAt = time.Now()
	return c, nil
}

func (m *MockStore) DeleteContact(_ context.Context, id, userID int64) error {
	if m.DeleteContactErr != nil {
		return m.DeleteContactErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Contacts[id]
	if !ok || c.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.Contacts, id)
	return nil
}

// MockCache implements auth.UserCache and contacts.Cache for tests.
// Stateful like the real cache; counters record invalidation traffic so
// tests can assert write-through behavior.
type MockCache struct {
	// Down simulates an unreachable Redis: getters miss, writers report
	// false, nothing is stored. The service must stay correct regardless.
	Down bool

	Users        map[int64]*store.CachedUser
	Contacts     map[string]*store.Contact         // keyed by "id:userID"
	ContactLists map[string][]store.Contact        // keyed by "userID:offset:limit"

	UserDeletes     int
	ContactDeletes  int
	ListInvalidates int

	mu sync.Mutex
}

// NewMockCache returns an empty MockCache.
func NewMockCache() *MockCache {
	return &MockCache{
		Users:        make(map[int64]*store.CachedUser),
		Contacts:     make(map[string]*store.Contact),
		ContactLists: make(map[string][]store.Contact),
	}
}

func contactKey(id, userID int64) string  { return fmt.Sprintf("%d:%d", id, userID) }
func listKey(userID int64, offset, limit int) string {
	return fmt.Sprintf("%d:%d:%d", userID, offset, limit)
}

func (m *MockCache) GetUser(_ context.Context, id int64) (*store.CachedUser, bool) {
	if m.Down {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	return u, ok
}

func (m *MockCache) SetUser(_ context.Context, u *store.User, _ time.Duration) bool {
	if m.Down {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users[u.ID] = &store.CachedUser{
		ID:         u.ID,
		Email:      u.Email,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		Role:       u.Role,
	}
	return true
}

func (m *MockCache) DeleteUser(_ context.Context, id int64) bool {
	if m.Down {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Users, id)
	m.UserDeletes++
	return true
}

func (m *MockCache) GetContact(_ context.Context, id, userID int64) (*store.Contact, bool) {
	if m.Down {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Contacts[contactKey(id, userID)]
	return c, ok
}

func (m *MockCache) SetContact(_ context.Context, c *store.Contact, _ time.Duration) bool {
	if m.Down {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Contacts[contactKey(c.ID, c.UserID)] = c
	return true
}

func (m *MockCache) DeleteContact(_ context.Context, id, userID int64) bool {
	if m.Down {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Contacts, contactKey(id, userID))
	m.ContactDeletes++
	return true
}

func (m *MockCache) GetContactList(_ context.Context, userID int64, offset, limit int) ([]store.Contact, bool) {
	if m.Down {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ContactLists[listKey(userID, offset, limit)]
	return l, ok
}

func (m *MockCache) SetContactList(_ context.Context, userID int64, offset, limit int, contacts []store.Contact, _ time.Duration) bool {
	if m.Down {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContactLists[listKey(userID, offset, limit)] = contacts
	return true
}

func (m *MockCache) InvalidateContactLists(_ context.Context, userID int64) bool {
	if m.Down {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("%d:", userID)
	for k := range m.ContactLists {
		if strings.HasPrefix(k, prefix) {
			delete(m.ContactLists, k)
		}
	}
	m.ListInvalidates++
	return true
}

// MockRateLimiter implements auth.RateLimiter for tests.
// Returns Err on every call when set; otherwise counts attempts per key and
// denies once MaxAttempts is exceeded.
type MockRateLimiter struct {
	Err error

	Attempts map[string]int

	mu sync.Mutex
}

// NewMockRateLimiter returns an empty MockRateLimiter.
func NewMockRateLimiter() *MockRateLimiter {
	return &MockRateLimiter{Attempts: make(map[string]int)}
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, policy store.RateLimit) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts[key]++
	if m.Attempts[key] > policy.MaxAttempts {
		return store.ErrRateLimitExceeded
	}
	return nil
}

// SentMail records one SendPasswordReset call.
type SentMail struct {
	To        string
	Token     string
	ExpiresIn time.Duration
	Vars      map[string]string
}

// RecorderMailer implements mail.Mailer for tests, recording every send.
type RecorderMailer struct {
	Err  error
	Sent []SentMail

	mu sync.Mutex
}

func (m *RecorderMailer) SendPasswordReset(_ context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMail{To: toEmail, Token: token, ExpiresIn: expiresIn, Vars: vars})
	return nil
}

// page applies offset/limit to an already-sorted slice.
func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func sortUsersByID(users []store.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}

func sortContactsByID(contacts []store.Contact) {
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
}
