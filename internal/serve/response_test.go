package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/tracker/internal/auth"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/service"
)

// ============================================================================
// Response Envelope Tests
// ============================================================================

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"id": "iss-abc123"}, http.StatusCreated)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.OK || env.Error != nil {
		t.Errorf("envelope = %+v", env)
	}
	dataMap, ok := env.Data.(map[string]interface{})
	if !ok || dataMap["id"] != "iss-abc123" {
		t.Errorf("data = %v", env.Data)
	}
}

func TestWriteValidation(t *testing.T) {
	w := httptest.NewRecorder()
	WriteValidation(w, []FieldError{{Field: "title", Rule: "min_length", Message: "too short"}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var env struct {
		OK    bool `json:"ok"`
		Error struct {
			Code    string       `json:"code"`
			Details []FieldError `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.OK || env.Error.Code != ErrValidation || len(env.Error.Details) != 1 || env.Error.Details[0].Field != "title" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestWriteServiceError(t *testing.T) {
	v := &service.ValidationError{}
	v.Add("name", "unique", "bug", "a label with this name already exists")

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", v, http.StatusBadRequest, ErrValidation},
		{"wrapped not found", fmt.Errorf("get issue: %w", service.ErrNotFound), http.StatusNotFound, ErrNotFound},
		{"forbidden", fmt.Errorf("%w: not a member", service.ErrForbidden), http.StatusForbidden, ErrForbidden},
		{"unauthenticated", auth.ErrUnauthenticated, http.StatusUnauthorized, ErrUnauthorized},
		{"bad credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, ErrUnauthorized},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("GET", "/", nil)
			writeServiceError(w, r, "test", tt.err)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var env Envelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", env.Error, tt.code)
			}
			if tt.code == ErrInternal && env.Error.Message != "internal server error" {
				t.Errorf("internal detail leaked: %q", env.Error.Message)
			}
		})
	}
}

// ============================================================================
// DTO Tests
// ============================================================================

func TestIssueToDTONullsAndEmptyCollections(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d := &service.IssueDetail{Issue: models.Issue{
		ID: "iss-1", ProjectID: "prj-1", Title: "Broken login",
		Status: models.StatusOpen, Priority: models.PriorityHigh, Severity: models.SeverityMajor,
		ReporterID: "u_1", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}}

	data, err := json.Marshal(IssueToDTO(d))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"due_date", "estimated_hours", "assignee_id"} {
		if v, ok := m[key]; !ok || v != nil {
			t.Errorf("%s = %v (present=%v), want null", key, v, ok)
		}
	}
	for _, key := range []string{"watcher_ids", "label_ids", "labels"} {
		arr, ok := m[key].([]interface{})
		if !ok || len(arr) != 0 {
			t.Errorf("%s = %v, want []", key, m[key])
		}
	}
	if m["created_at"] != "2024-06-01T12:00:00Z" {
		t.Errorf("created_at = %v", m["created_at"])
	}
}

func TestCommentTreeToDTOs(t *testing.T) {
	tree := []service.CommentNode{{
		Comment: models.Comment{ID: "c1", Content: "root"},
		Replies: []service.CommentNode{{Comment: models.Comment{ID: "c2", ParentID: "c1", Content: "reply"}}},
	}}
	dtos := CommentTreeToDTOs(tree)
	if len(dtos) != 1 || len(dtos[0].Replies) != 1 || *dtos[0].Replies[0].ParentID != "c1" {
		t.Errorf("dtos = %+v", dtos)
	}
	if dtos[0].ParentID != nil {
		t.Errorf("root parent = %v, want nil", *dtos[0].ParentID)
	}
}

func TestUserDTOHidesPassword(t *testing.T) {
	u := &models.User{ID: "u_1", Username: "alice", PasswordHash: "$2a$secret"}
	data, _ := json.Marshal(UserToDTO(u))
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	if _, ok := m["password_hash"]; ok {
		t.Error("password hash serialized")
	}
	if m["full_name"] != "alice" {
		t.Errorf("full_name = %v", m["full_name"])
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		bad  bool
	}{
		{"", 50, false},
		{"10", 10, false},
		{"0", 0, true},
		{"501", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, errs := ParseLimit(tt.raw, DefaultLimit)
		if (len(errs) > 0) != tt.bad || (!tt.bad && got != tt.want) {
			t.Errorf("ParseLimit(%q) = %d, %v", tt.raw, got, errs)
		}
	}
}

func TestSplitParam(t *testing.T) {
	got := splitParam([]string{"open, closed", "reopened", ""})
	want := []string{"open", "closed", "reopened"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("splitParam = %v, want %v", got, want)
	}
}
