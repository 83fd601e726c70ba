package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/service"
)

func newProvider(t *testing.T) (*Provider, *db.DB) {
	t.Helper()
	database, err := db.Initialize(db.DriverModernc, filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database, bcrypt.MinCost), database
}

func TestRegisterFirstUserIsAdmin(t *testing.T) {
	a, _ := newProvider(t)
	ctx := context.Background()

	first, err := a.Register(ctx, Registration{Username: "Alice", Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !first.IsAdmin || !first.IsActive || first.Username != "alice" {
		t.Errorf("first user = %+v", first)
	}
	if first.PasswordHash == "correct horse" {
		t.Error("password stored in plaintext")
	}

	second, err := a.Register(ctx, Registration{Username: "bob", Email: "bob@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if second.IsAdmin {
		t.Error("second user should not be admin")
	}
}

func TestRegisterValidation(t *testing.T) {
	a, _ := newProvider(t)
	ctx := context.Background()
	if _, err := a.Register(ctx, Registration{Username: "alice", Email: "alice@example.com", Password: "password1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name  string
		in    Registration
		field string
		rule  string
	}{
		{"missing username", Registration{Email: "x@example.com", Password: "password1"}, "username", "required"},
		{"bad email", Registration{Username: "x", Email: "not-an-email", Password: "password1"}, "email", "format"},
		{"short password", Registration{Username: "x", Email: "x@example.com", Password: "short"}, "password", "min_length"},
		{"long password", Registration{Username: "x", Email: "x@example.com", Password: strings.Repeat("p", 80)}, "password", "max_length"},
		{"long multibyte password", Registration{Username: "x", Email: "x@example.com", Password: strings.Repeat("é", 40)}, "password", "max_length"},
		{"taken username", Registration{Username: "ALICE", Email: "other@example.com", Password: "password1"}, "username", "unique"},
		{"taken email", Registration{Username: "other", Email: "Alice@Example.com", Password: "password1"}, "email", "unique"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Register(ctx, tt.in)
			var v *service.ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if v.Fields[0].Field != tt.field || v.Fields[0].Rule != tt.rule {
				t.Errorf("field error = %+v, want %s/%s", v.Fields[0], tt.field, tt.rule)
			}
		})
	}
}

func TestLoginAuthenticateLogout(t *testing.T) {
	a, database := newProvider(t)
	ctx := context.Background()
	u, err := a.Register(ctx, Registration{Username: "alice", Email: "alice@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := a.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, _, err := a.Login(ctx, "nobody", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v", err)
	}

	key, got, err := a.Login(ctx, "Alice", "password1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID || !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("login = %q, %+v", key, got)
	}

	who, err := a.Authenticate(ctx, key)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if who.ID != u.ID {
		t.Errorf("Authenticate = %s, want %s", who.ID, u.ID)
	}
	if _, err := a.Authenticate(ctx, key+"x"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("tampered key err = %v", err)
	}

	if err := a.Logout(ctx, key); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := a.Authenticate(ctx, key); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("revoked key err = %v", err)
	}

	if err := database.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if _, _, err := a.Login(ctx, "alice", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("disabled account err = %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	a, _ := newProvider(t)
	ctx := context.Background()
	u, _ := a.Register(ctx, Registration{Username: "alice", Email: "alice@example.com", Password: "password1"})
	if _, err := a.Register(ctx, Registration{Username: "bob", Email: "bob@example.com", Password: "password1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	first, email := "Alice", "ALICE@example.com"
	got, err := a.UpdateProfile(ctx, u.Principal(), ProfilePatch{FirstName: &first, Email: &email})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.FirstName != "Alice" || got.Email != "alice@example.com" || got.FullName() != "Alice" {
		t.Errorf("profile = %+v", got)
	}

	taken := "bob@example.com"
	_, err = a.UpdateProfile(ctx, u.Principal(), ProfilePatch{Email: &taken})
	var v *service.ValidationError
	if !errors.As(err, &v) || v.Fields[0].Rule != "unique" {
		t.Errorf("taken email err = %v", err)
	}
}

func TestSetPassword(t *testing.T) {
	a, _ := newProvider(t)
	ctx := context.Background()
	if _, err := a.Register(ctx, Registration{Username: "alice", Email: "alice@example.com", Password: "password1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := a.SetPassword(ctx, "alice", "short"); err == nil {
		t.Error("expected error for short password")
	}
	var v *service.ValidationError
	if err := a.SetPassword(ctx, "alice", strings.Repeat("p", 73)); !errors.As(err, &v) || v.Fields[0].Rule != "max_length" {
		t.Errorf("73-byte password err = %v, want max_length ValidationError", err)
	}
	if err := a.SetPassword(ctx, "alice", strings.Repeat("p", 72)); err != nil {
		t.Errorf("72-byte password: %v", err)
	}
	if err := a.SetPassword(ctx, "alice", "new-password"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if _, _, err := a.Login(ctx, "alice", "new-password"); err != nil {
		t.Errorf("Login with new password: %v", err)
	}
}
