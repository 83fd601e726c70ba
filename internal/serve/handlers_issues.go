package serve

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/service"
)

// ============================================================================
// /v1/projects/{id}/issues
// ============================================================================

// IssueCreateBody is the JSON body for POST /v1/projects/{id}/issues.
type IssueCreateBody struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	Severity       string   `json:"severity"`
	DueDate        string   `json:"due_date"`
	EstimatedHours *float64 `json:"estimated_hours"`
	AssigneeID     string   `json:"assignee_id"`
	LabelIDs       []string `json:"label_ids"`
	WatcherIDs     []string `json:"watcher_ids"`
}

func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var body IssueCreateBody
	if !decodeJSON(w, r, &body) {
		return
	}

	var due *time.Time
	if body.DueDate != "" {
		t, err := service.ParseDueDate(body.DueDate)
		if err != nil {
			WriteValidation(w, []FieldError{{
				Field:    service.FieldDueDate,
				Rule:     "date_format",
				Value:    body.DueDate,
				Expected: "RFC 3339 or YYYY-MM-DD",
				Message:  "invalid date format for due_date",
			}})
			return
		}
		due = t
	}

	issue, err := s.svc.CreateIssue(r.Context(), principal(r), r.PathValue("id"), service.IssueInput{
		Title:          body.Title,
		Description:    body.Description,
		Status:         models.Status(body.Status),
		Priority:       models.Priority(body.Priority),
		Severity:       models.Severity(body.Severity),
		DueDate:        due,
		EstimatedHours: body.EstimatedHours,
		AssigneeID:     body.AssigneeID,
		LabelIDs:       body.LabelIDs,
		WatcherIDs:     body.WatcherIDs,
	})
	if err != nil {
		writeServiceError(w, r, "create issue", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"issue": IssueToDTO(issue)}, http.StatusCreated)
}

// splitParam returns the values of a repeatable, comma-separated query
// parameter (?status=open,closed or ?status=open&status=closed).
func splitParam(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// handleListIssues lists the active issues of a project. Filters: status,
// priority, severity, assignee, overdue, search, ordering, limit.
func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, errs := ParseLimit(q.Get("limit"), 0)
	if len(errs) > 0 {
		WriteValidation(w, errs)
		return
	}

	query := service.IssueQuery{
		AssigneeID: q.Get("assignee"),
		Overdue:    q.Get("overdue") == "true",
		Search:     q.Get("search"),
		OrderBy:    q.Get("ordering"),
		Limit:      limit,
	}
	for _, v := range splitParam(q["status"]) {
		query.Status = append(query.Status, models.Status(v))
	}
	for _, v := range splitParam(q["priority"]) {
		query.Priority = append(query.Priority, models.Priority(v))
	}
	for _, v := range splitParam(q["severity"]) {
		query.Severity = append(query.Severity, models.Severity(v))
	}

	issues, err := s.svc.ListIssues(r.Context(), principal(r), r.PathValue("id"), query)
	if err != nil {
		writeServiceError(w, r, "list issues", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"issues": IssuesToDTOs(issues)}, http.StatusOK)
}

// ============================================================================
// /v1/issues/{id}
// ============================================================================

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.svc.GetIssue(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get issue", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"issue": IssueToDTO(issue)}, http.StatusOK)
}

// handleUpdateIssue applies a partial update. Only the patchable fields are
// read; unknown and protected names in the body are ignored. Any malformed
// value rejects the whole request.
func (s *Server) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return
	}
	patch, verr := service.DecodeIssuePatch(raw, service.UpdateFields)
	if verr.HasErrors() {
		WriteValidation(w, fieldErrors(verr))
		return
	}

	issue, err := s.svc.UpdateIssue(r.Context(), principal(r), r.PathValue("id"), patch)
	if err != nil {
		writeServiceError(w, r, "update issue", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"issue": IssueToDTO(issue)}, http.StatusOK)
}

func (s *Server) handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.DeleteIssue(r.Context(), principal(r), id); err != nil {
		writeServiceError(w, r, "delete issue", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"deleted": true, "id": id}, http.StatusOK)
}

func (s *Server) handleAdminGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.svc.AdminGetIssue(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "admin get issue", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"issue": IssueToDTO(issue)}, http.StatusOK)
}

func (s *Server) handleIssueActivities(w http.ResponseWriter, r *http.Request) {
	s.listActivities(w, r, service.ActivityQuery{IssueID: r.PathValue("id")})
}

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request, q service.ActivityQuery) {
	limit, errs := ParseLimit(r.URL.Query().Get("limit"), service.DefaultActivityLimit)
	if len(errs) > 0 {
		WriteValidation(w, errs)
		return
	}
	q.Limit = limit
	acts, err := s.svc.ListActivities(r.Context(), principal(r), q)
	if err != nil {
		writeServiceError(w, r, "list activities", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"activities": ActivitiesToDTOs(acts)}, http.StatusOK)
}

// ============================================================================
// POST /v1/issues/bulk-update
// ============================================================================

// BulkUpdateBody is the JSON body for POST /v1/issues/bulk-update.
type BulkUpdateBody struct {
	IssueIDs []string                   `json:"issue_ids"`
	Updates  map[string]json.RawMessage `json:"updates"`
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var body BulkUpdateBody
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := s.svc.BulkUpdateIssues(r.Context(), principal(r), body.IssueIDs, body.Updates)
	if err != nil {
		writeServiceError(w, r, "bulk update", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"updated_count": res.UpdatedCount,
		"issues":        IssuesToDTOs(res.Issues),
	}, http.StatusOK)
}
