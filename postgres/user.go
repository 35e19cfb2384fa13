package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phbpx/leadtrack"
)

const userColumns = `id, name, email, password_hash, role, created_at`

type userRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r userRow) toUser() leadtrack.User {
	return leadtrack.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         leadtrack.Role(r.Role),
		CreatedAt:    r.CreatedAt,
	}
}

func (s *Store) User(ctx context.Context, id string) (leadtrack.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return leadtrack.User{}, leadtrack.ErrUserNotFound
	}
	return s.user(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (leadtrack.User, error) {
	return s.user(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *Store) user(ctx context.Context, query string, arg string) (leadtrack.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leadtrack.User{}, leadtrack.ErrUserNotFound
		}
		return leadtrack.User{}, fmt.Errorf("selecting user: %w", err)
	}
	return row.toUser(), nil
}

func (s *Store) UsersByRole(ctx context.Context, role leadtrack.Role) ([]leadtrack.User, error) {
	var rows []userRow
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 ORDER BY name`
	if err := s.db.SelectContext(ctx, &rows, query, string(role)); err != nil {
		return nil, fmt.Errorf("selecting users by role: %w", err)
	}

	users := make([]leadtrack.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

// SaveUser inserts user or, when the email is taken, updates that user's
// name, password hash and role.
func (s *Store) SaveUser(ctx context.Context, user leadtrack.User) (leadtrack.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO users (` + userColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT ((lower(email))) DO UPDATE SET
		name = EXCLUDED.name,
		password_hash = EXCLUDED.password_hash,
		role = EXCLUDED.role
	RETURNING ` + userColumns

	var row userRow
	err := s.db.GetContext(ctx, &row, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.CreatedAt,
	)
	if err != nil {
		return leadtrack.User{}, fmt.Errorf("saving user: %w", err)
	}
	return row.toUser(), nil
}
