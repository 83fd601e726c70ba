package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/marcus/tracker/internal/aggregate"
	"github.com/marcus/tracker/internal/auth"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/service"
)

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"serve"}, {"migrate"}, {"cleanup"}, {"report"},
		{"user", "create"}, {"user", "admin"}, {"user", "passwd"}, {"user", "deactivate"}, {"user", "token"},
		{"issue", "show"},
	} {
		c, _, err := rootCmd.Find(path)
		if err != nil || c.Name() != path[len(path)-1] {
			t.Errorf("command %v not registered (got %v, %v)", path, c, err)
		}
	}
}

// TestFlagKeysResolve checks every flag mapped to a config key is declared
// on some command, so the mapping cannot drift from the flag set.
func TestFlagKeysResolve(t *testing.T) {
	for name := range flagKeys {
		if rootCmd.PersistentFlags().Lookup(name) == nil && serveCmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s is mapped but not declared", name)
		}
	}
}

func TestCleanupFlags(t *testing.T) {
	for _, name := range []string{"days", "dry-run", "purge-activities", "yes"} {
		if cleanupCmd.Flags().Lookup(name) == nil {
			t.Errorf("Expected --%s flag to be defined", name)
		}
	}
	if cleanupCmd.Flags().ShorthandLookup("y") == nil {
		t.Error("Expected -y shorthand to be defined for --yes")
	}
}

func TestReadPasswordLine(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"hunter22\n", "hunter22", false},
		{"hunter22\r\nignored\n", "hunter22", false},
		{"no-newline", "no-newline", false},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := readPasswordLine(strings.NewReader(tt.in))
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("readPasswordLine(%q) = %q, %v", tt.in, got, err)
		}
	}
}

// fixture is a database with one user and project, written through the
// service at a fixed clock.
type fixture struct {
	db      *db.DB
	svc     *service.Service
	user    *models.User
	project string
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Initialize(db.DriverModernc, filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("db.Initialize: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &fixture{db: database, clock: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	f.svc = service.New(database, service.Options{Now: func() time.Time { return f.clock }})

	ctx := context.Background()
	f.user, err = auth.New(database, bcrypt.MinCost).Register(ctx, auth.Registration{
		Username: "alice", Email: "alice@example.com", Password: "password1", FirstName: "Alice",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	p, err := f.svc.CreateProject(ctx, f.user.Principal(), service.ProjectInput{Name: "Backend"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	f.project = p.ID
	return f
}

func (f *fixture) issue(t *testing.T, title string, status models.Status) *service.IssueDetail {
	t.Helper()
	ctx := context.Background()
	d, err := f.svc.CreateIssue(ctx, f.user.Principal(), f.project, service.IssueInput{Title: title})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if status != models.StatusOpen {
		d, err = f.svc.UpdateIssue(ctx, f.user.Principal(), d.ID, service.IssuePatch{Status: &status})
		if err != nil {
			t.Fatalf("UpdateIssue: %v", err)
		}
	}
	return d
}

func TestRunCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.issue(t, "Old closed issue", models.StatusClosed)
	openOld := f.issue(t, "Old open issue", models.StatusOpen)
	f.clock = time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	recent := f.issue(t, "Recently closed", models.StatusClosed)

	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	opts := cleanupOptions{Days: 30, PurgeActivities: true}

	dry, err := runCleanup(ctx, f.db, cleanupOptions{Days: 30, DryRun: true, PurgeActivities: true}, now)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	// Old activities: two creations and one status change from January.
	if dry.ArchivedIssues != 1 || dry.PurgedActivities != 3 {
		t.Errorf("dry run = %+v", dry)
	}
	if _, err := f.db.GetIssue(ctx, stale.ID, false); err != nil {
		t.Errorf("dry run archived the issue: %v", err)
	}

	res, err := runCleanup(ctx, f.db, opts, now)
	if err != nil {
		t.Fatalf("runCleanup: %v", err)
	}
	if res.ArchivedIssues != 1 || res.PurgedActivities != 3 {
		t.Errorf("result = %+v", res)
	}
	if !res.Cutoff.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("cutoff = %v", res.Cutoff)
	}
	if _, err := f.db.GetIssue(ctx, stale.ID, false); err == nil {
		t.Error("stale closed issue still active")
	}
	for _, id := range []string{openOld.ID, recent.ID} {
		if _, err := f.db.GetIssue(ctx, id, false); err != nil {
			t.Errorf("issue %s archived: %v", id, err)
		}
	}

	if _, err := runCleanup(ctx, f.db, cleanupOptions{Days: 0}, now); err == nil {
		t.Error("expected error for --days 0")
	}
}

func TestRenderReport(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "Fix the login flow", models.StatusOpen)

	dash, err := aggregate.New(f.db, func() time.Time { return f.clock }).Dashboard(context.Background(), f.user.Principal())
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	got := renderReport(f.user, dash, map[string]string{f.user.ID: "alice"}, f.clock.Add(2*time.Hour))
	for _, want := range []string{"Dashboard for Alice (@alice)", "projects", "overdue", "2h ago", `alice Created issue "Fix the login flow"`} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
}

func TestRenderIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.user.Principal()

	d, err := f.svc.CreateIssue(ctx, p, f.project, service.IssueInput{
		Title:       "Crash on save",
		Description: "Steps:\n\n1. open the editor\n2. press **save**",
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	root, err := f.svc.CreateComment(ctx, p, d.ID, "reproduced on main", "")
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if _, err := f.svc.CreateComment(ctx, p, d.ID, "fixed in next build", root.ID); err != nil {
		t.Fatalf("CreateComment reply: %v", err)
	}
	d, _ = f.svc.GetIssue(ctx, p, d.ID)
	comments, err := f.svc.ListComments(ctx, p, d.ID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}

	got, err := renderIssue(d, comments, map[string]string{f.user.ID: "alice"}, f.clock, issueRenderOptions{Width: 60, Style: "notty"})
	if err != nil {
		t.Fatalf("renderIssue: %v", err)
	}
	for _, want := range []string{
		d.ID + ": Crash on save",
		"Project:  Backend",
		"Reporter: @alice  Assignee: unassigned",
		"open the editor",
		"Comments (2):",
		"└── reproduced on main (@alice, just now)",
		"    └── fixed in next build (@alice, just now)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
