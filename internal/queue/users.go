package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateUser inserts a free-plan account. The usage window starts at now.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email is required")
	}
	if passwordHash == "" {
		return nil, errors.New("password hash is required")
	}
	timestamp := formatTime(now)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO users (email, password_hash, plan, usage_count, usage_reset_at, created_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?, ?)`,
		email,
		passwordHash,
		PlanFree,
		timestamp,
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.UserByID(ctx, id)
}

// UserByID fetches a user; nil when absent.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// UserByEmail fetches a user by case-insensitive email; nil when absent.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// ListUsers returns every account ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SetPlan changes the plan of the account with the given email.
func (s *Store) SetPlan(ctx context.Context, email string, plan Plan) (*User, error) {
	if _, ok := ParsePlan(string(plan)); !ok {
		return nil, fmt.Errorf("unknown plan %q", plan)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE users SET plan = ?, updated_at = ? WHERE email = ?`,
		plan,
		formatTime(time.Now()),
		strings.ToLower(strings.TrimSpace(email)),
	)
	if err != nil {
		return nil, fmt.Errorf("set plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.UserByEmail(ctx, email)
}

// SwapUsage replaces a user's usage window only if it still matches what the
// caller read. It reports false when another writer got there first.
func (s *Store) SwapUsage(ctx context.Context, userID int64, oldCount int, oldResetAt time.Time, newCount int, newResetAt time.Time) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE users SET usage_count = ?, usage_reset_at = ?, updated_at = ?
         WHERE id = ? AND usage_count = ? AND usage_reset_at = ?`,
		newCount,
		formatTime(newResetAt),
		formatTime(time.Now()),
		userID,
		oldCount,
		formatTime(oldResetAt),
	)
	if err != nil {
		return false, fmt.Errorf("swap usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
