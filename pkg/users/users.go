// Package users resolves the identities quota is charged to.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/store"
	"github.com/kotori-note/kabunote/pkg/window"
)

var (
	// ErrNotFound is returned for unknown user IDs.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when an email or bookmark is already taken.
	ErrDuplicate = errors.New("already exists")
)

// Directory looks users up by ID.
type Directory interface {
	Get(ctx context.Context, id string) (*models.User, error)
}

// Store is a Directory over the users table.
type Store struct {
	db    *store.DB
	clock clock.Clock
}

// NewStore creates a Store.
func NewStore(db *store.DB, clk clock.Clock) *Store {
	return &Store{db: db, clock: clk}
}

// Get returns the user with id.
func (s *Store) Get(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{ID: id}
	var created int64
	err := s.db.QueryRow(ctx,
		`SELECT email, nickname, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.Email, &u.Nickname, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", store.Wrap(err))
	}
	u.CreatedAt = window.FromMillis(created)
	return u, nil
}

// Create registers a user with a fresh UUID.
func (s *Store) Create(ctx context.Context, email, nickname string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("create user: email is required")
	}
	u := &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Nickname:  nickname,
		CreatedAt: s.clock.Now().UTC(),
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, nickname, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.Nickname, window.Millis(u.CreatedAt),
	)
	if errors.Is(err, store.ErrConstraint) {
		return nil, fmt.Errorf("create user %s: %w", email, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// List returns every user, oldest first.
func (s *Store) List(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.Query(ctx, `SELECT id, email, nickname, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		var created int64
		if err := rows.Scan(&u.ID, &u.Email, &u.Nickname, &created); err != nil {
			return nil, fmt.Errorf("list users scan: %w", store.Wrap(err))
		}
		u.CreatedAt = window.FromMillis(created)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", store.Wrap(err))
	}
	return out, nil
}
