package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/tracker/internal/activity"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t   *testing.T
	ctx context.Context
	db  *db.DB
	svc *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	database, err := db.Initialize(db.DriverModernc, filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return &fixture{t: t, ctx: context.Background(), db: database, svc: New(database, opts)}
}

func (f *fixture) user(name string) models.Principal {
	f.t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", IsActive: true}
	if err := f.db.CreateUser(f.ctx, u); err != nil {
		f.t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u.Principal()
}

func (f *fixture) admin(name string) models.Principal {
	f.t.Helper()
	p := f.user(name)
	if err := f.db.SetUserAdmin(f.ctx, name, true); err != nil {
		f.t.Fatalf("SetUserAdmin: %v", err)
	}
	p.IsAdministrator = true
	return p
}

func (f *fixture) project(owner models.Principal, name string, members ...models.Principal) *ProjectSummary {
	f.t.Helper()
	var ids []string
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	p, err := f.svc.CreateProject(f.ctx, owner, ProjectInput{Name: name, MemberIDs: ids})
	if err != nil {
		f.t.Fatalf("CreateProject(%s): %v", name, err)
	}
	return p
}

func (f *fixture) issue(reporter models.Principal, projectID, title string) *IssueDetail {
	f.t.Helper()
	i, err := f.svc.CreateIssue(f.ctx, reporter, projectID, IssueInput{Title: title})
	if err != nil {
		f.t.Fatalf("CreateIssue(%s): %v", title, err)
	}
	return i
}

func (f *fixture) activities(issueID string) []models.Activity {
	f.t.Helper()
	acts, err := f.db.ListActivities(f.ctx, db.ActivityFilter{IssueID: issueID})
	if err != nil {
		f.t.Fatalf("ListActivities: %v", err)
	}
	return acts
}

func statusPtr(s models.Status) *models.Status { return &s }
func strPtr(s string) *string                  { return &s }

func TestCreateIssueDefaultsAndActivity(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	p := f.project(a, "Web App")

	issue := f.issue(a, p.ID, "Login page broken")
	if issue.Status != models.StatusOpen || issue.Priority != models.PriorityMedium || issue.Severity != models.SeverityMinor {
		t.Errorf("defaults = %s/%s/%s", issue.Status, issue.Priority, issue.Severity)
	}
	if issue.ReporterID != a.ID {
		t.Errorf("ReporterID = %s, want %s", issue.ReporterID, a.ID)
	}
	if issue.ProjectName != "Web App" {
		t.Errorf("ProjectName = %q", issue.ProjectName)
	}

	acts := f.activities(issue.ID)
	if len(acts) != 1 {
		t.Fatalf("activities = %d, want 1", len(acts))
	}
	if acts[0].Action != models.ActionCreated || acts[0].Description != `Created issue "Login page broken"` {
		t.Errorf("activity = %+v", acts[0])
	}
}

func TestCreateIssueValidation(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	p := f.project(a, "Web App")

	_, err := f.svc.CreateIssue(f.ctx, a, p.ID, IssueInput{Title: "bug", Status: "done"})
	var v *ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	fields := map[string]bool{}
	for _, fe := range v.Fields {
		fields[fe.Field] = true
	}
	if !fields["title"] || !fields["status"] {
		t.Errorf("fields = %v, want title and status", v.Fields)
	}

	if _, err := f.svc.CreateIssue(f.ctx, a, "prj-missing", IssueInput{Title: "Valid title"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing project err = %v, want ErrNotFound", err)
	}
}

func TestCreateIssueIgnoresUnknownReferences(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	b := f.user("bob")
	p := f.project(a, "Web App")

	issue, err := f.svc.CreateIssue(f.ctx, a, p.ID, IssueInput{
		Title:      "Assign me please",
		AssigneeID: "u_ghost",
		LabelIDs:   []string{"lbl-ghost"},
		WatcherIDs: []string{b.ID, "u_ghost"},
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if issue.AssigneeID != "" || len(issue.LabelIDs) != 0 {
		t.Errorf("unknown references kept: assignee=%q labels=%v", issue.AssigneeID, issue.LabelIDs)
	}
	if len(issue.WatcherIDs) != 1 || issue.WatcherIDs[0] != b.ID {
		t.Errorf("watchers = %v, want [%s]", issue.WatcherIDs, b.ID)
	}
}

func TestStatusChangeRecordsOneActivity(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	p := f.project(a, "Web App")
	issue := f.issue(a, p.ID, "Crash on save")

	updated, err := f.svc.UpdateIssue(f.ctx, a, issue.ID, IssuePatch{Status: statusPtr(models.StatusResolved)})
	if err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
	if updated.Status != models.StatusResolved {
		t.Errorf("Status = %s, want resolved", updated.Status)
	}

	var changes []models.Activity
	for _, act := range f.activities(issue.ID) {
		if act.Action == models.ActionStatusChanged {
			changes = append(changes, act)
		}
	}
	if len(changes) != 1 {
		t.Fatalf("status_changed activities = %d, want 1", len(changes))
	}
	if changes[0].Description != "Changed status from Open to Resolved" {
		t.Errorf("description = %q", changes[0].Description)
	}

	// A patch that does not touch status records nothing new.
	if _, err := f.svc.UpdateIssue(f.ctx, a, issue.ID, IssuePatch{Title: strPtr("Crash on save (mac)")}); err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
	if n := len(f.activities(issue.ID)); n != 2 {
		t.Errorf("activities = %d, want 2", n)
	}
}

func TestWebAppScenario(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	b := f.user("bob")
	c := f.user("carol")
	d := f.user("dave")
	p := f.project(a, "Web App", b)

	issue := f.issue(c, p.ID, "Reported by carol")

	if _, err := f.svc.UpdateIssue(f.ctx, c, issue.ID, IssuePatch{Description: strPtr("more detail")}); err != nil {
		t.Errorf("reporter update: %v", err)
	}
	if _, err := f.svc.UpdateIssue(f.ctx, b, issue.ID, IssuePatch{Description: strPtr("member edit")}); err != nil {
		t.Errorf("member update: %v", err)
	}
	if _, err := f.svc.UpdateIssue(f.ctx, d, issue.ID, IssuePatch{Description: strPtr("nope")}); !errors.Is(err, ErrForbidden) {
		t.Errorf("outsider update err = %v, want ErrForbidden", err)
	}
	got, _ := f.svc.GetIssue(f.ctx, a, issue.ID)
	if got.Description != "member edit" {
		t.Errorf("Description = %q, want member edit", got.Description)
	}
}

func TestUpdateIssueChecksAccessBeforeValidating(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	d := f.user("dave")
	p := f.project(a, "Web App")
	issue := f.issue(a, p.ID, "Reported by alice")

	bad := IssuePatch{Title: strPtr("ab"), Status: statusPtr("done")}
	if _, err := f.svc.UpdateIssue(f.ctx, d, issue.ID, bad); !errors.Is(err, ErrForbidden) {
		t.Errorf("outsider with invalid patch err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.UpdateIssue(f.ctx, a, "iss-missing", bad); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing issue with invalid patch err = %v, want ErrNotFound", err)
	}
	var v *ValidationError
	if _, err := f.svc.UpdateIssue(f.ctx, a, issue.ID, bad); !errors.As(err, &v) {
		t.Errorf("member with invalid patch err = %v, want ValidationError", err)
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *db.Queries, activity.Entry) (*models.Activity, error) {
	return nil, errors.New("activity store unavailable")
}

func TestMutationRollsBackWhenActivityFails(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	p := f.project(a, "Web App")
	issue := f.issue(a, p.ID, "Atomic issue")

	broken := New(f.db, Options{Recorder: failingRecorder{}, Now: func() time.Time { return fixedNow }})

	_, err := broken.UpdateIssue(f.ctx, a, issue.ID, IssuePatch{
		Status: statusPtr(models.StatusClosed),
		Title:  strPtr("Renamed issue"),
	})
	if err == nil {
		t.Fatal("expected error from failing recorder")
	}
	got, err := f.svc.GetIssue(f.ctx, a, issue.ID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if got.Status != models.StatusOpen || got.Title != "Atomic issue" {
		t.Errorf("issue changed despite rollback: %s %q", got.Status, got.Title)
	}

	if _, err := broken.CreateIssue(f.ctx, a, p.ID, IssueInput{Title: "Never stored"}); err == nil {
		t.Fatal("expected create to fail")
	}
	list, _ := f.svc.ListIssues(f.ctx, a, p.ID, IssueQuery{})
	if len(list) != 1 {
		t.Errorf("issues = %d, want 1", len(list))
	}
}

func TestSoftDeleteKeepsDependents(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	admin := f.admin("root")
	p := f.project(a, "Web App")
	issue := f.issue(a, p.ID, "Delete me later")
	comment, err := f.svc.CreateComment(f.ctx, a, issue.ID, "a note", "")
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	if err := f.svc.DeleteIssue(f.ctx, a, issue.ID); err != nil {
		t.Fatalf("DeleteIssue: %v", err)
	}
	if _, err := f.svc.GetIssue(f.ctx, a, issue.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIssue after delete err = %v, want ErrNotFound", err)
	}
	if err := f.svc.DeleteIssue(f.ctx, a, issue.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.GetComment(f.ctx, a, comment.ID); err != nil {
		t.Errorf("comment lost: %v", err)
	}
	if len(f.activities(issue.ID)) == 0 {
		t.Error("activities lost")
	}

	got, err := f.svc.AdminGetIssue(f.ctx, admin, issue.ID)
	if err != nil {
		t.Fatalf("AdminGetIssue: %v", err)
	}
	if got.IsActive {
		t.Error("admin view should show the issue as inactive")
	}
	if _, err := f.svc.AdminGetIssue(f.ctx, a, issue.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin AdminGetIssue err = %v, want ErrForbidden", err)
	}
}

func TestProjectRules(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	b := f.user("bob")
	c := f.user("carol")
	p := f.project(a, "Web App", b)

	if _, err := f.svc.UpdateProject(f.ctx, b, p.ID, ProjectPatch{Description: strPtr("by member")}); err != nil {
		t.Errorf("member update: %v", err)
	}
	if _, err := f.svc.UpdateProject(f.ctx, c, p.ID, ProjectPatch{Description: strPtr("x")}); !errors.Is(err, ErrForbidden) {
		t.Errorf("outsider update err = %v, want ErrForbidden", err)
	}
	if err := f.svc.DeleteProject(f.ctx, b, p.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("member delete err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.UpdateProject(f.ctx, a, p.ID, ProjectPatch{Name: strPtr("ab")}); err == nil {
		t.Error("expected validation error for short name")
	}

	issue := f.issue(a, p.ID, "Survives project delete")
	if err := f.svc.DeleteProject(f.ctx, a, p.ID); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
	if _, err := f.svc.GetProject(f.ctx, a, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject after delete err = %v, want ErrNotFound", err)
	}
	// Soft delete never cascades to issues.
	raw, err := f.db.GetIssue(f.ctx, issue.ID, false)
	if err != nil || !raw.IsActive {
		t.Errorf("issue should stay active: %v %+v", err, raw)
	}
}

func TestListProjectsMine(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	b := f.user("bob")
	f.project(a, "Alpha")
	f.project(b, "Beta", a)
	f.project(b, "Gamma")

	mine, err := f.svc.ListProjects(f.ctx, a, ProjectQuery{Mine: true, OrderBy: "name"})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(mine) != 2 || mine[0].Name != "Alpha" || mine[1].Name != "Beta" {
		t.Errorf("mine = %+v", mine)
	}
	all, _ := f.svc.ListProjects(f.ctx, a, ProjectQuery{})
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestInactivePrincipalDenied(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	p := f.project(a, "Web App")
	a.Active = false
	if _, err := f.svc.CreateIssue(f.ctx, a, p.ID, IssueInput{Title: "Should fail"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("inactive create err = %v, want ErrForbidden", err)
	}
}

func TestListIssuesOverdueAndOrdering(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	p := f.project(a, "Web App")

	past := fixedNow.Add(-time.Hour)
	late, err := f.svc.CreateIssue(f.ctx, a, p.ID, IssueInput{Title: "Late issue", DueDate: &past})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	f.issue(a, p.ID, "No due date")
	closed, _ := f.svc.CreateIssue(f.ctx, a, p.ID, IssueInput{Title: "Closed late", DueDate: &past, Status: models.StatusClosed})

	got, err := f.svc.ListIssues(f.ctx, a, p.ID, IssueQuery{Overdue: true})
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(got) != 1 || got[0].ID != late.ID || !got[0].IsOverdue {
		t.Errorf("overdue = %+v", got)
	}
	if closed.IsOverdue {
		t.Error("closed issue reported overdue")
	}

	if _, err := f.svc.ListIssues(f.ctx, a, p.ID, IssueQuery{OrderBy: "bogus"}); err == nil {
		t.Error("expected validation error for unknown ordering")
	}
}
