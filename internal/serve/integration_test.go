package serve

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
)

// ============================================================================
// End-to-end flows over HTTP
// ============================================================================

func TestRegisterLoginLogout(t *testing.T) {
	h := newHarness(t, Config{})

	var reg struct {
		User UserDTO `json:"user"`
	}
	status, code := h.do("POST", "/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "password1",
	}, &reg)
	if status != http.StatusCreated || code != "" {
		t.Fatalf("register = %d %s", status, code)
	}
	if !reg.User.IsAdmin {
		t.Error("first registered user should be admin")
	}

	status, code = h.do("POST", "/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "password1",
	}, nil)
	if status != http.StatusBadRequest || code != ErrValidation {
		t.Errorf("duplicate register = %d %s", status, code)
	}

	status, code = h.do("POST", "/v1/auth/login", "", map[string]string{"username": "alice", "password": "nope"}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("bad login = %d %s", status, code)
	}

	var login struct {
		Token string  `json:"token"`
		User  UserDTO `json:"user"`
	}
	if status, code := h.do("POST", "/v1/auth/login", "", map[string]string{"username": "alice", "password": "password1"}, &login); status != http.StatusOK {
		t.Fatalf("login = %d %s", status, code)
	}

	var profile struct {
		User UserDTO `json:"user"`
	}
	if status, _ := h.do("GET", "/v1/auth/profile", login.Token, nil, &profile); status != http.StatusOK || profile.User.ID != reg.User.ID {
		t.Errorf("profile = %d %+v", status, profile.User)
	}
	if status, _ := h.do("PATCH", "/v1/auth/profile", login.Token, map[string]string{"first_name": "Alice"}, &profile); status != http.StatusOK || profile.User.FullName != "Alice" {
		t.Errorf("profile update = %d %+v", status, profile.User)
	}

	if status, _ := h.do("POST", "/v1/auth/logout", login.Token, nil, nil); status != http.StatusOK {
		t.Errorf("logout = %d", status)
	}
	if status, _ := h.do("GET", "/v1/auth/profile", login.Token, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("profile after logout = %d, want 401", status)
	}
}

type projectResp struct {
	Project ProjectDTO `json:"project"`
}

type issueResp struct {
	Issue IssueDTO `json:"issue"`
}

func TestIssueLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.login("alice")
	bob := h.login("bob")
	carol := h.login("carol")

	var users struct {
		Users []UserDTO `json:"users"`
	}
	h.do("GET", "/v1/users?q=bo", alice, nil, &users)
	if len(users.Users) == 0 || users.Users[0].Username != "bob" {
		t.Fatalf("user search = %+v", users.Users)
	}
	bobID := users.Users[0].ID

	var p projectResp
	status, code := h.do("POST", "/v1/projects", alice, map[string]interface{}{
		"name": "Web App", "description": "frontend", "member_ids": []string{bobID},
	}, &p)
	if status != http.StatusCreated {
		t.Fatalf("create project = %d %s", status, code)
	}

	var created issueResp
	status, code = h.do("POST", "/v1/projects/"+p.Project.ID+"/issues", bob, map[string]interface{}{
		"title": "Login page broken", "priority": "high", "due_date": "2024-05-01",
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create issue = %d %s", status, code)
	}
	issue := created.Issue
	if issue.Status != "open" || issue.Severity != "minor" || !issue.IsOverdue || issue.ProjectName != "Web App" {
		t.Errorf("created issue = %+v", issue)
	}

	status, code = h.do("POST", "/v1/projects/"+p.Project.ID+"/issues", bob, map[string]interface{}{"title": "bad"}, nil)
	if status != http.StatusBadRequest || code != ErrValidation {
		t.Errorf("short title = %d %s", status, code)
	}

	// Outsiders can read but not update.
	if status, _ := h.do("GET", "/v1/issues/"+issue.ID, carol, nil, nil); status != http.StatusOK {
		t.Errorf("outsider read = %d", status)
	}
	if status, code := h.do("PATCH", "/v1/issues/"+issue.ID, carol, map[string]string{"status": "closed"}, nil); status != http.StatusForbidden {
		t.Errorf("outsider update = %d %s", status, code)
	}

	var updated issueResp
	status, code = h.do("PATCH", "/v1/issues/"+issue.ID, alice, map[string]interface{}{
		"status": "in_progress", "reporter_id": "u_hijack", "assignee_id": bobID,
	}, &updated)
	if status != http.StatusOK {
		t.Fatalf("update = %d %s", status, code)
	}
	if updated.Issue.Status != "in_progress" || updated.Issue.ReporterID != issue.ReporterID || *updated.Issue.AssigneeID != bobID {
		t.Errorf("updated = %+v", updated.Issue)
	}
	if status, code := h.do("PATCH", "/v1/issues/"+issue.ID, alice, map[string]string{"status": "done"}, nil); status != http.StatusBadRequest {
		t.Errorf("invalid status = %d %s", status, code)
	}

	var acts struct {
		Activities []ActivityDTO `json:"activities"`
	}
	h.do("GET", "/v1/issues/"+issue.ID+"/activities", alice, nil, &acts)
	if len(acts.Activities) != 2 || acts.Activities[0].Action != "status_changed" ||
		acts.Activities[0].Description != "Changed status from Open to In Progress" {
		t.Errorf("activities = %+v", acts.Activities)
	}

	var list struct {
		Issues []IssueDTO `json:"issues"`
	}
	h.do("GET", "/v1/projects/"+p.Project.ID+"/issues?status=in_progress,reopened&ordering=-priority", carol, nil, &list)
	if len(list.Issues) != 1 || list.Issues[0].ID != issue.ID {
		t.Errorf("filtered list = %+v", list.Issues)
	}
	if status, _ := h.do("GET", "/v1/projects/"+p.Project.ID+"/issues?ordering=bogus", carol, nil, nil); status != http.StatusBadRequest {
		t.Errorf("bad ordering = %d", status)
	}

	// Soft delete hides the issue but admins can still fetch it.
	if status, code := h.do("DELETE", "/v1/issues/"+issue.ID, bob, nil, nil); status != http.StatusOK {
		t.Fatalf("delete = %d %s", status, code)
	}
	if status, _ := h.do("GET", "/v1/issues/"+issue.ID, alice, nil, nil); status != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", status)
	}
	var admin issueResp
	if status, _ := h.do("GET", "/v1/admin/issues/"+issue.ID, alice, nil, &admin); status != http.StatusOK || admin.Issue.IsActive {
		t.Errorf("admin get = %d %+v", status, admin.Issue)
	}
	if status, _ := h.do("GET", "/v1/admin/issues/"+issue.ID, bob, nil, nil); status != http.StatusForbidden {
		t.Errorf("non-admin admin get = %d, want 403", status)
	}
}

func TestCommentsLabelsAndBulk(t *testing.T) {
	h := newHarness(t, Config{})
	admin := h.login("root")
	alice := h.login("alice")

	var p projectResp
	h.do("POST", "/v1/projects", alice, map[string]string{"name": "API"}, &p)
	var i1, i2 issueResp
	h.do("POST", "/v1/projects/"+p.Project.ID+"/issues", alice, map[string]string{"title": "First API issue"}, &i1)
	h.do("POST", "/v1/projects/"+p.Project.ID+"/issues", alice, map[string]string{"title": "Second API issue"}, &i2)

	var label struct {
		Label LabelDTO `json:"label"`
	}
	if status, _ := h.do("POST", "/v1/labels", alice, map[string]string{"name": "bug"}, nil); status != http.StatusForbidden {
		t.Errorf("non-admin label create = %d", status)
	}
	if status, code := h.do("POST", "/v1/labels", admin, map[string]string{"name": "bug", "color": "#ff0000"}, &label); status != http.StatusCreated {
		t.Fatalf("label create = %d %s", status, code)
	}

	var withLabel issueResp
	h.do("PATCH", "/v1/issues/"+i1.Issue.ID, alice, map[string]interface{}{"label_ids": []string{label.Label.ID, "lbl-missing"}}, &withLabel)
	if len(withLabel.Issue.Labels) != 1 || withLabel.Issue.Labels[0].Name != "bug" {
		t.Errorf("labels = %+v", withLabel.Issue.Labels)
	}

	var root, reply struct {
		Comment CommentDTO `json:"comment"`
	}
	h.do("POST", "/v1/issues/"+i1.Issue.ID+"/comments", admin, map[string]string{"content": "api returns 500"}, &root)
	status, code := h.do("POST", "/v1/issues/"+i1.Issue.ID+"/comments", alice, map[string]string{"content": "confirmed", "parent_id": root.Comment.ID}, &reply)
	if status != http.StatusCreated {
		t.Fatalf("reply = %d %s", status, code)
	}
	var tree struct {
		Comments []CommentDTO `json:"comments"`
	}
	h.do("GET", "/v1/issues/"+i1.Issue.ID+"/comments", alice, nil, &tree)
	if len(tree.Comments) != 1 || len(tree.Comments[0].Replies) != 1 {
		t.Errorf("tree = %+v", tree.Comments)
	}
	if status, _ := h.do("PATCH", "/v1/comments/"+root.Comment.ID, alice, map[string]string{"content": "edited"}, nil); status != http.StatusForbidden {
		t.Errorf("non-author edit = %d", status)
	}

	var bulk struct {
		UpdatedCount int        `json:"updated_count"`
		Issues       []IssueDTO `json:"issues"`
	}
	status, code = h.do("POST", "/v1/issues/bulk-update", alice, map[string]interface{}{
		"issue_ids": []string{i1.Issue.ID, i2.Issue.ID, "iss-missing"},
		"updates":   map[string]string{"priority": "critical", "project_id": "prj-other"},
	}, &bulk)
	if status != http.StatusOK {
		t.Fatalf("bulk = %d %s", status, code)
	}
	if bulk.UpdatedCount != 2 || bulk.Issues[0].Priority != "critical" || bulk.Issues[1].ProjectID != p.Project.ID {
		t.Errorf("bulk = %+v", bulk)
	}
	if status, _ := h.do("POST", "/v1/issues/bulk-update", alice, map[string]interface{}{"issue_ids": []string{}}, nil); status != http.StatusBadRequest {
		t.Errorf("empty bulk = %d", status)
	}

	var search struct {
		Results SearchDTO `json:"results"`
	}
	if status, _ := h.do("GET", "/v1/search?q=ap", alice, nil, nil); status != http.StatusBadRequest {
		t.Errorf("short search = %d", status)
	}
	h.do("GET", "/v1/search?q=API", alice, nil, &search)
	if len(search.Results.Projects) != 1 || len(search.Results.Issues) != 2 || len(search.Results.Comments) != 1 || search.Results.TotalResults != 4 {
		t.Errorf("search = %+v", search.Results)
	}

	var dash struct {
		Stats DashboardDTO `json:"stats"`
	}
	h.do("GET", "/v1/dashboard/stats", alice, nil, &dash)
	if dash.Stats.TotalProjects != 1 || dash.Stats.TotalIssues != 2 {
		t.Errorf("dashboard = %+v", dash.Stats)
	}

	var analytics struct {
		Analytics AnalyticsDTO `json:"analytics"`
	}
	h.do("GET", "/v1/projects/"+p.Project.ID+"/analytics", alice, nil, &analytics)
	if analytics.Analytics.PriorityDistribution["critical"] != 2 || len(analytics.Analytics.StatusDistribution) != 5 {
		t.Errorf("analytics = %+v", analytics.Analytics)
	}
	if status, _ := h.do("GET", "/v1/projects/"+p.Project.ID+"/analytics", admin, nil, nil); status != http.StatusForbidden {
		t.Errorf("non-member analytics = %d, want 403", status)
	}
}

func upload(t *testing.T, h *harness, token, issueID, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, content)
	mw.Close()

	req, _ := http.NewRequest("POST", h.url+"/v1/issues/"+issueID+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestAttachments(t *testing.T) {
	h := newHarness(t, Config{MaxUploadBytes: 16})
	alice := h.login("alice")

	var p projectResp
	h.do("POST", "/v1/projects", alice, map[string]string{"name": "Files"}, &p)
	var i issueResp
	h.do("POST", "/v1/projects/"+p.Project.ID+"/issues", alice, map[string]string{"title": "Needs a log"}, &i)

	resp := upload(t, h, alice, i.Issue.ID, "../../server.log", "panic: oops")
	var env struct {
		Data struct {
			Attachment AttachmentDTO `json:"attachment"`
		} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&env)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	att := env.Data.Attachment
	if att.Filename != "server.log" || att.FileSize != 11 {
		t.Errorf("attachment = %+v", att)
	}

	req, _ := http.NewRequest("GET", h.url+att.URL, nil)
	req.Header.Set("Authorization", "Bearer "+alice)
	dl, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if string(body) != "panic: oops" || !strings.Contains(dl.Header.Get("Content-Disposition"), "server.log") {
		t.Errorf("download = %q, %q", body, dl.Header.Get("Content-Disposition"))
	}

	big := upload(t, h, alice, i.Issue.ID, "big.bin", strings.Repeat("x", 64))
	big.Body.Close()
	if big.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload = %d, want 413", big.StatusCode)
	}

	var list struct {
		Attachments []AttachmentDTO `json:"attachments"`
	}
	h.do("GET", "/v1/issues/"+i.Issue.ID+"/attachments", alice, nil, &list)
	if len(list.Attachments) != 1 {
		t.Errorf("attachments = %+v", list.Attachments)
	}
	if status, _ := h.do("DELETE", "/v1/attachments/"+att.ID, alice, nil, nil); status != http.StatusOK {
		t.Errorf("delete = %d", status)
	}
}
