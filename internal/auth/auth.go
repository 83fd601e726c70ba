// Package auth is the identity provider: account registration, password
// login, opaque API keys and profile maintenance.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/service"
)

var (
	// ErrInvalidCredentials is returned for a bad username/password pair or
	// a disabled account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is returned when a token is missing or revoked.
	ErrUnauthenticated = errors.New("unauthenticated")
)

const (
	// KeyPrefix starts every issued API key.
	KeyPrefix = "trk_"
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 8
	// MaxPasswordBytes is the longest password bcrypt will hash.
	MaxPasswordBytes = 72

	keyBytes      = 32
	displayPrefix = 12
)

// Provider issues and verifies credentials.
type Provider struct {
	db   *db.DB
	cost int
}

// New returns a Provider. A zero bcryptCost uses bcrypt.DefaultCost.
func New(database *db.DB, bcryptCost int) *Provider {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Provider{db: database, cost: bcryptCost}
}

// Registration is the input to Register.
type Registration struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates an active account. The first account in an empty store
// becomes an administrator.
func (a *Provider) Register(ctx context.Context, in Registration) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	v := &service.ValidationError{}
	if in.Username == "" {
		v.Add("username", "required", nil, "username is required")
	} else if utf8.RuneCountInString(in.Username) > 150 {
		v.Add("username", "max_length", in.Username, "username must be at most 150 characters")
	}
	if in.Email == "" {
		v.Add("email", "required", nil, "email is required")
	} else if _, err := mail.ParseAddress(in.Email); err != nil {
		v.Add("email", "format", in.Email, "email is not a valid address")
	}
	if in.Password == "" {
		v.Add("password", "required", nil, "password is required")
	} else {
		checkPassword(v, in.Password)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: string(hash),
		IsActive:     true,
	}
	err = a.db.WithTx(ctx, func(tx *db.Queries) error {
		userTaken, emailTaken, err := tx.UserExists(ctx, u.Username, u.Email)
		if err != nil {
			return err
		}
		if userTaken {
			v.Add("username", "unique", in.Username, "username is already taken")
		}
		if emailTaken {
			v.Add("email", "unique", in.Email, "email is already registered")
		}
		if v.HasErrors() {
			return v
		}
		count, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		u.IsAdmin = count == 0
		return tx.CreateUser(ctx, u)
	})
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, fmt.Errorf("register: %w", err)
	}
	slog.Info("user registered", "user", u.ID, "admin", u.IsAdmin)
	return u, nil
}

// Login checks a password and issues a new API key. The plaintext key is
// returned once; only its hash is stored.
func (a *Provider) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	u, err := a.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("login: %w", err)
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return "", nil, ErrInvalidCredentials
	}

	key, err := a.IssueKey(ctx, u.ID)
	if err != nil {
		return "", nil, err
	}
	return key, u, nil
}

// IssueKey creates an API key for userID without a password check.
func (a *Provider) IssueKey(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	key := KeyPrefix + hex.EncodeToString(buf)
	if err := a.db.CreateAPIKey(ctx, userID, HashKey(key), key[:displayPrefix]); err != nil {
		return "", fmt.Errorf("issue key: %w", err)
	}
	return key, nil
}

// Logout revokes token.
func (a *Provider) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrUnauthenticated
	}
	if err := a.db.DeleteAPIKey(ctx, HashKey(token)); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Authenticate resolves token to the acting user. Disabled accounts still
// resolve; the access policy rejects them.
func (a *Provider) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if !strings.HasPrefix(token, KeyPrefix) {
		return nil, ErrUnauthenticated
	}
	u, err := a.db.GetUserByKeyHash(ctx, HashKey(token))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return u, nil
}

// Profile returns the user behind p.
func (a *Provider) Profile(ctx context.Context, p models.Principal) (*models.User, error) {
	u, err := a.db.GetUserByID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("profile: %w", err)
	}
	return u, nil
}

// ProfilePatch holds the editable profile fields. Nil means unchanged.
type ProfilePatch struct {
	Email     *string
	FirstName *string
	LastName  *string
}

// UpdateProfile applies patch to the user behind p.
func (a *Provider) UpdateProfile(ctx context.Context, p models.Principal, patch ProfilePatch) (*models.User, error) {
	u, err := a.Profile(ctx, p)
	if err != nil {
		return nil, err
	}

	v := &service.ValidationError{}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			v.Add("email", "format", email, "email is not a valid address")
		} else if !strings.EqualFold(email, u.Email) {
			_, taken, err := a.db.UserExists(ctx, "", email)
			if err != nil {
				return nil, fmt.Errorf("update profile: %w", err)
			}
			if taken {
				v.Add("email", "unique", email, "email is already registered")
			}
		}
		u.Email = email
	}
	if patch.FirstName != nil {
		u.FirstName = strings.TrimSpace(*patch.FirstName)
	}
	if patch.LastName != nil {
		u.LastName = strings.TrimSpace(*patch.LastName)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := a.db.UpdateUserProfile(ctx, u); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

// SetPassword replaces the password of the user with the given username.
func (a *Provider) SetPassword(ctx context.Context, username, password string) error {
	v := &service.ValidationError{}
	checkPassword(v, password)
	if err := v.Err(); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return a.db.SetUserPassword(ctx, username, string(hash))
}

// checkPassword records length violations on v. The upper bound is in
// bytes since bcrypt rejects longer input outright.
func checkPassword(v *service.ValidationError, password string) {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		v.Add("password", "min_length", nil, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	} else if len(password) > MaxPasswordBytes {
		v.Add("password", "max_length", nil, fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}
}

// HashKey returns the stored form of an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
