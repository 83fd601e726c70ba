package service

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/marcus/tracker/internal/models"
)

func rawPatch(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad patch json: %v", err)
	}
	return m
}

func TestBulkUpdateSkipsDeniedItems(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	b := f.user("bob")
	mine := f.project(a, "Alice project")
	theirs := f.project(b, "Bob project")

	var ids []string
	for _, title := range []string{"Mine one", "Mine two", "Mine three"} {
		ids = append(ids, f.issue(a, mine.ID, title).ID)
	}
	var denied []string
	for _, title := range []string{"Theirs one", "Theirs two"} {
		i := f.issue(b, theirs.ID, title)
		denied = append(denied, i.ID)
		ids = append(ids, i.ID)
	}
	ids = append(ids, "iss-missing", ids[0])

	res, err := f.svc.BulkUpdateIssues(f.ctx, a, ids, rawPatch(t, `{"priority":"critical","status":"in_progress"}`))
	if err != nil {
		t.Fatalf("BulkUpdateIssues: %v", err)
	}
	if res.UpdatedCount != 3 {
		t.Errorf("UpdatedCount = %d, want 3", res.UpdatedCount)
	}
	if len(res.Issues) != 3 || res.Issues[0].ID != ids[0] || res.Issues[2].ID != ids[2] {
		t.Errorf("issues not in evaluation order: %+v", res.Issues)
	}
	for _, i := range res.Issues {
		if i.Priority != models.PriorityCritical || i.Status != models.StatusInProgress {
			t.Errorf("issue %s = %s/%s", i.ID, i.Priority, i.Status)
		}
	}
	for _, id := range denied {
		got, err := f.svc.GetIssue(f.ctx, b, id)
		if err != nil {
			t.Fatalf("GetIssue: %v", err)
		}
		if got.Priority != models.PriorityMedium || got.Status != models.StatusOpen {
			t.Errorf("denied issue %s was modified", id)
		}
	}

	// Each applied status change is recorded with its item.
	acts := f.activities(ids[0])
	if len(acts) != 2 || acts[0].Action != models.ActionStatusChanged {
		t.Errorf("activities = %+v", acts)
	}
}

func TestBulkUpdateIgnoresProtectedAndUnknownFields(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	p := f.project(a, "Web App")
	other := f.project(a, "Other")
	issue := f.issue(a, p.ID, "Protected fields")

	res, err := f.svc.BulkUpdateIssues(f.ctx, a, []string{issue.ID}, rawPatch(t, `{
		"id": "iss-hijack",
		"reporter": "u_other",
		"reporter_id": "u_other",
		"project": "`+other.ID+`",
		"project_id": "`+other.ID+`",
		"created_at": "2001-01-01T00:00:00Z",
		"color": "blue",
		"severity": "blocker",
		"priority": "urgent"
	}`))
	if err != nil {
		t.Fatalf("BulkUpdateIssues: %v", err)
	}
	if res.UpdatedCount != 1 {
		t.Fatalf("UpdatedCount = %d, want 1", res.UpdatedCount)
	}
	got := res.Issues[0]
	if got.ID != issue.ID || got.ReporterID != a.ID || got.ProjectID != p.ID || !got.CreatedAt.Equal(issue.CreatedAt) {
		t.Errorf("protected field changed: %+v", got.Issue)
	}
	if got.Severity != models.SeverityBlocker {
		t.Errorf("Severity = %s, want blocker", got.Severity)
	}
	if got.Priority != models.PriorityMedium {
		t.Errorf("invalid priority applied: %s", got.Priority)
	}
}

func TestBulkUpdateValidation(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	p := f.project(a, "Web App")
	issue := f.issue(a, p.ID, "Untouched by bad bulk")

	tests := []struct {
		name  string
		ids   []string
		patch string
		field string
		rule  string
	}{
		{"no ids", nil, `{"status":"closed"}`, "issue_ids", "required"},
		{"no updates", []string{issue.ID}, `{}`, "updates", "required"},
		{"only unknown fields", []string{issue.ID}, `{"reporter":"u_x"}`, "updates", "no_fields"},
		{"only invalid values", []string{issue.ID}, `{"status":"done"}`, "updates", "no_fields"},
		{"every value invalid", []string{issue.ID}, `{"status":"done","priority":"urgent","severity":"meh","estimated_hours":-1}`, "updates", "no_fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BulkUpdateIssues(f.ctx, a, tt.ids, rawPatch(t, tt.patch))
			var v *ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if v.Fields[0].Field != tt.field || v.Fields[0].Rule != tt.rule {
				t.Errorf("field error = %+v, want %s/%s", v.Fields[0], tt.field, tt.rule)
			}
		})
	}

	got, _ := f.svc.GetIssue(f.ctx, a, issue.ID)
	if got.Status != models.StatusOpen || got.Priority != models.PriorityMedium {
		t.Errorf("rejected bulk changed the issue: %+v", got.Issue)
	}
	if acts := f.activities(issue.ID); len(acts) != 1 {
		t.Errorf("activities = %d, want only the creation", len(acts))
	}
}

func TestBulkUpdateAssignee(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.user("alice")
	b := f.user("bob")
	p := f.project(a, "Web App")
	i1 := f.issue(a, p.ID, "Assign to bob")

	res, err := f.svc.BulkUpdateIssues(f.ctx, a, []string{i1.ID}, rawPatch(t, `{"assignee_id":"`+b.ID+`"}`))
	if err != nil {
		t.Fatalf("BulkUpdateIssues: %v", err)
	}
	if res.Issues[0].AssigneeID != b.ID {
		t.Errorf("AssigneeID = %q, want %s", res.Issues[0].AssigneeID, b.ID)
	}

	// An unknown assignee is dropped; the other fields still apply.
	res, err = f.svc.BulkUpdateIssues(f.ctx, a, []string{i1.ID}, rawPatch(t, `{"assignee_id":"u_ghost","title":"Assign to bob again"}`))
	if err != nil {
		t.Fatalf("BulkUpdateIssues: %v", err)
	}
	if res.UpdatedCount != 1 || res.Issues[0].AssigneeID != b.ID || res.Issues[0].Title != "Assign to bob again" {
		t.Errorf("result = %+v", res.Issues)
	}
}
