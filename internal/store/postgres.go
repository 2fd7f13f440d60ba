// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
// Ownership of contacts is enforced inside the queries themselves
// (WHERE id = $1 AND user_id = $2), never filtered after the fact.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the source of truth for users and contacts. Safe for
// concurrent use; create one per process.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgx pool against databaseURL and verifies it with
// a ping before handing it back.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const userColumns = "id, email, password_hash, is_active, is_verified, role, created_at, updated_at"

// scanUser reads one users row into a User.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsVerified, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user with email + password credentials.
// Role is always 'user' -- promotion to admin only happens through UpdateUser.
// Returns ErrDuplicateEmail if the email is already registered.
func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		"INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING "+userColumns,
		email, passwordHash)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetUserByEmail fetches a user by email for login verification.
// Returns ErrNotFound if no such user exists.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email)
	return scanUser(row)
}

// GetUserByID fetches a user by primary key.
// Returns ErrNotFound if no such user exists.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

// ListUsers returns users in creation order with offset/limit pagination.
// An empty role lists everyone; otherwise only users with that role.
func (s *PostgresStore) ListUsers(ctx context.Context, role Role, offset, limit int) ([]User, error) {
	var rows pgx.Rows
	var err error
	if role == "" {
		rows, err = s.pool.Query(ctx,
			"SELECT "+userColumns+" FROM users ORDER BY id OFFSET $1 LIMIT $2",
			offset, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			"SELECT "+userColumns+" FROM users WHERE role = $1 ORDER BY id OFFSET $2 LIMIT $3",
			role, offset, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsVerified, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// CountUsersByRole returns the number of users holding the given role.
func (s *PostgresStore) CountUsersByRole(ctx context.Context, role Role) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE role = $1", role).Scan(&n)
	return n, err
}

// UserUpdate carries the mutable user fields; nil means leave unchanged.
// Self-service updates set Email/PasswordHash only; admin updates may set all.
type UserUpdate struct {
	Email        *string
	PasswordHash *string
	IsActive     *bool
	IsVerified   *bool
	Role         *Role
}

// UpdateUser applies the non-nil fields of upd to the user and returns the
// updated row. Returns ErrNotFound if the user doesn't exist and
// ErrDuplicateEmail if the new email is taken.
func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET
			email         = COALESCE($2, email),
			password_hash = COALESCE($3, password_hash),
			is_active     = COALESCE($4, is_active),
			is_verified   = COALESCE($5, is_verified),
			role          = COALESCE($6, role),
			updated_at    = now()
		WHERE id = $1
		RETURNING `+userColumns,
		id, upd.Email, upd.PasswordHash, upd.IsActive, upd.IsVerified, upd.Role)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

// UpdateUserPassword replaces the stored password hash for the user.
// Returns ErrNotFound if the user doesn't exist.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1",
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user row; contacts cascade via the FK.
// Returns ErrNotFound if the user doesn't exist.
func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const contactColumns = "id, first_name, last_name, email, phone, birthday, notes, user_id, created_at, updated_at"

// scanContact reads one contacts row into a Contact.
func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Birthday, &c.Notes, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// collectContacts drains rows into a slice.
func collectContacts(rows pgx.Rows) ([]Contact, error) {
	defer rows.Close()
	contacts := []Contact{}
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Birthday, &c.Notes, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// CreateContact inserts a contact owned by userID and returns the stored row.
// Returns ErrDuplicateEmail if the contact email is already in use.
func (s *PostgresStore) CreateContact(ctx context.Context, userID int64, c Contact) (*Contact, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (first_name, last_name, email, phone, birthday, notes, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+contactColumns,
		c.FirstName, c.LastName, c.Email, c.Phone, c.Birthday, c.Notes, userID)
	created, err := scanContact(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("creating contact: %w", err)
	}
	return created, nil
}

// GetContact fetches a contact by id, scoped to its owner.
// Returns ErrNotFound when the row doesn't exist or belongs to someone else.
func (s *PostgresStore) GetContact(ctx context.Context, id, userID int64) (*Contact, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE id = $1 AND user_id = $2",
		id, userID)
	return scanContact(row)
}

// ListContacts returns the owner's contacts in creation order with
// offset/limit pagination.
func (s *PostgresStore) ListContacts(ctx context.Context, userID int64, offset, limit int) ([]Contact, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE user_id = $1 ORDER BY id OFFSET $2 LIMIT $3",
		userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	return collectContacts(rows)
}

// SearchContacts returns the owner's contacts whose first name, last name,
// or email contains query (case-insensitive).
func (s *PostgresStore) SearchContacts(ctx context.Context, userID int64, query string) ([]Contact, error) {
	pattern := "%" + query + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE user_id = $1
		  AND (first_name ILIKE $2 OR last_name ILIKE $2 OR email ILIKE $2)
		ORDER BY id`,
		userID, pattern)
	if err != nil {
		return nil, fmt.Errorf("searching contacts: %w", err)
	}
	return collectContacts(rows)
}

// ContactsWithBirthdays returns all of the owner's contacts that have a
// birthday set. The caller applies the date-window filter -- year-boundary
// arithmetic is easier to get right (and test) outside SQL.
func (s *PostgresStore) ContactsWithBirthdays(ctx context.Context, userID int64) ([]Contact, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE user_id = $1 AND birthday IS NOT NULL ORDER BY id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("querying contacts with birthdays: %w", err)
	}
	return collectContacts(rows)
}

// ContactUpdate carries the mutable contact fields; nil means leave unchanged.
type ContactUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	Birthday  *time.Time
	Notes     *string
}

// UpdateContact applies the non-nil fields of upd to the contact, scoped to
// its owner, and returns the updated row. Returns ErrNotFound when the row
// doesn't exist or belongs to someone else; ErrDuplicateEmail on a conflict.
func (s *PostgresStore) UpdateContact(ctx context.Context, id, userID int64, upd ContactUpdate) (*Contact, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE contacts SET
			first_name = COALESCE($3, first_name),
			last_name  = COALESCE($4, last_name),
			email      = COALESCE($5, email),
			phone      = COALESCE($6, phone),
			birthday   = COALESCE($7, birthday),
			notes      = COALESCE($8, notes),
			updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+contactColumns,
		id, userID, upd.FirstName, upd.LastName, upd.Email, upd.Phone, upd.Birthday, upd.Notes)
	c, err := scanContact(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return c, nil
}

// DeleteContact removes a contact, scoped to its owner.
// Returns ErrNotFound when the row doesn't exist or belongs to someone else,
// which makes a second delete of the same id fail cleanly.
func (s *PostgresStore) DeleteContact(ctx context.Context, id, userID int64) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM contacts WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
