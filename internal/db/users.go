package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/models"
)

const userColumns = `id, username, email, first_name, last_name, password_hash, is_admin, is_active, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &u.IsAdmin, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a user. Username and email are stored lowercased.
func (q *Queries) CreateUser(ctx context.Context, u *models.User) error {
	id, err := generateID(userIDPrefix)
	if err != nil {
		return fmt.Errorf("generate user id: %w", err)
	}
	u.ID = id
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err = q.q.ExecContext(ctx,
		`INSERT INTO users (id, username, email, first_name, last_name, password_hash, is_admin, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.IsAdmin, u.IsActive, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID returns the user with the given ID.
func (q *Queries) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns the user with the given username (case-insensitive).
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// UserExists reports whether a username or email is already taken.
func (q *Queries) UserExists(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	err = q.q.QueryRowContext(ctx,
		`SELECT
			EXISTS(SELECT 1 FROM users WHERE username = ?),
			EXISTS(SELECT 1 FROM users WHERE email = ?)`,
		username, email).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		return false, false, fmt.Errorf("check user exists: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

// ListUsers returns all users ordered by creation time.
func (q *Queries) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: iterate: %w", err)
	}
	return users, nil
}

// GetUsersByIDs returns the users with the given IDs keyed by ID.
// Unknown IDs are absent from the map.
func (q *Queries) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	ids = dedupe(ids)
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

// ExistingUserIDs filters ids down to those that belong to active users,
// preserving order and dropping duplicates.
func (q *Queries) ExistingUserIDs(ctx context.Context, ids []string) ([]string, error) {
	users, err := q.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range dedupe(ids) {
		if u, ok := users[id]; ok && u.IsActive {
			out = append(out, id)
		}
	}
	return out, nil
}

// UpdateUserProfile updates the editable profile fields.
func (q *Queries) UpdateUserProfile(ctx context.Context, u *models.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	res, err := q.q.ExecContext(ctx,
		`UPDATE users SET email = ?, first_name = ?, last_name = ? WHERE id = ?`,
		u.Email, u.FirstName, u.LastName, u.ID)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

// SetUserAdmin sets or clears the admin flag for a user identified by username.
func (q *Queries) SetUserAdmin(ctx context.Context, username string, isAdmin bool) error {
	username = strings.ToLower(strings.TrimSpace(username))
	res, err := q.q.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE username = ?`, isAdmin, username)
	if err != nil {
		return fmt.Errorf("set user admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return nil
}

// SetUserPassword replaces the password hash of the user with the given username.
func (q *Queries) SetUserPassword(ctx context.Context, username, hash string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	res, err := q.q.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE username = ?`, hash, username)
	if err != nil {
		return fmt.Errorf("set user password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return nil
}

// SetUserActive enables or disables an account.
func (q *Queries) SetUserActive(ctx context.Context, userID string, active bool) error {
	res, err := q.q.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE id = ?`, active, userID)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// CountUsers returns the total number of users.
func (q *Queries) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// ============================================================================
// API keys
// ============================================================================

// CreateAPIKey stores the hash of a newly issued key for userID.
func (q *Queries) CreateAPIKey(ctx context.Context, userID, keyHash, keyPrefix string) error {
	id, err := generateID(apiKeyIDPrefix)
	if err != nil {
		return fmt.Errorf("generate api key id: %w", err)
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, keyHash, keyPrefix, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetUserByKeyHash returns the owner of the key with the given hash and
// records its use.
func (q *Queries) GetUserByKeyHash(ctx context.Context, keyHash string) (*models.User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.password_hash, u.is_admin, u.is_active, u.created_at
		 FROM api_keys k JOIN users u ON u.id = k.user_id
		 WHERE k.key_hash = ?`, keyHash))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("api key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by key: %w", err)
	}
	if _, err := q.q.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE key_hash = ?`, time.Now().UTC(), keyHash); err != nil {
		return nil, fmt.Errorf("touch api key: %w", err)
	}
	return u, nil
}

// DeleteAPIKey revokes the key with the given hash.
func (q *Queries) DeleteAPIKey(ctx context.Context, keyHash string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM api_keys WHERE key_hash = ?`, keyHash)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key: %w", ErrNotFound)
	}
	return nil
}
