// Package serve provides the HTTP API for the tracker, including response
// envelopes, DTOs with explicit JSON serialization, and request validation
// helpers.
package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/marcus/tracker/internal/aggregate"
	"github.com/marcus/tracker/internal/auth"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/service"
)

// ============================================================================
// Response Envelope
// ============================================================================

// Envelope is the standard response wrapper for all API responses.
// Success: {"ok": true, "data": {...}}
// Error:   {"ok": false, "error": {"code": "...", "message": "...", "details": ...}}
type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload holds structured error information.
type ErrorPayload struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// FieldError describes a single validation failure on a request field.
type FieldError struct {
	Field    string      `json:"field"`
	Rule     string      `json:"rule"`
	Value    interface{} `json:"value,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Message  string      `json:"message"`
}

// Standard error codes mapped to HTTP status codes.
const (
	ErrValidation   = "validation_error" // 400
	ErrNotFound     = "not_found"        // 404
	ErrUnauthorized = "unauthorized"     // 401
	ErrForbidden    = "forbidden"        // 403
	ErrTooLarge     = "too_large"        // 413
	ErrInternal     = "internal"         // 500
)

// WriteSuccess writes a JSON success envelope with the given data and status.
func WriteSuccess(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{OK: true, Data: data}); err != nil {
		slog.Error("write success response", "err", err)
	}
}

// WriteError writes a JSON error envelope.
func WriteError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{
		OK: false,
		Error: &ErrorPayload{
			Code:    code,
			Message: message,
		},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// WriteValidation writes a 400 validation_error response with field-level details.
func WriteValidation(w http.ResponseWriter, fields []FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(Envelope{
		OK: false,
		Error: &ErrorPayload{
			Code:    ErrValidation,
			Message: "Validation failed",
			Details: fields,
		},
	}); err != nil {
		slog.Error("write validation response", "err", err)
	}
}

// writeServiceError maps a service, auth or store error onto the envelope.
// Unexpected errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteValidation(w, fieldErrors(verr))
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		WriteError(w, ErrUnauthorized, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, service.ErrForbidden):
		WriteError(w, ErrForbidden, "you do not have permission to perform this action", http.StatusForbidden)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, db.ErrNotFound):
		WriteError(w, ErrNotFound, "not found", http.StatusNotFound)
	default:
		slog.Error(op, "err", err, "request_id", RequestID(r.Context()))
		WriteError(w, ErrInternal, "internal server error", http.StatusInternalServerError)
	}
}

func fieldErrors(v *service.ValidationError) []FieldError {
	out := make([]FieldError, len(v.Fields))
	for i, f := range v.Fields {
		out[i] = FieldError{Field: f.Field, Rule: f.Rule, Value: f.Value, Message: f.Message}
	}
	return out
}

// ============================================================================
// User DTO
// ============================================================================

// UserDTO is the API representation of a user. The password hash is never
// serialized.
type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	IsAdmin   bool   `json:"is_admin"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// UserToDTO converts a models.User to a UserDTO.
func UserToDTO(u *models.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		FullName:  u.FullName(),
		IsAdmin:   u.IsAdmin,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// ============================================================================
// Project DTO
// ============================================================================

// ProjectDTO is the API representation of a project with its issue counts.
type ProjectDTO struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	CreatedBy       string   `json:"created_by"`
	MemberIDs       []string `json:"member_ids"`
	IsActive        bool     `json:"is_active"`
	IssuesCount     int      `json:"issues_count"`
	OpenIssuesCount int      `json:"open_issues_count"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// ProjectToDTO converts a project summary to a ProjectDTO.
func ProjectToDTO(p *service.ProjectSummary) ProjectDTO {
	dto := ProjectDTO{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		CreatedBy:       p.CreatedBy,
		MemberIDs:       p.MemberIDs,
		IsActive:        p.IsActive,
		IssuesCount:     p.IssuesCount,
		OpenIssuesCount: p.OpenIssuesCount,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
	if dto.MemberIDs == nil {
		dto.MemberIDs = []string{}
	}
	return dto
}

// ProjectsToDTOs converts project summaries to DTOs.
func ProjectsToDTOs(projects []service.ProjectSummary) []ProjectDTO {
	dtos := make([]ProjectDTO, len(projects))
	for i := range projects {
		dtos[i] = ProjectToDTO(&projects[i])
	}
	return dtos
}

// ProjectRefDTO is the reduced project shape used in search results.
type ProjectRefDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

// ============================================================================
// Issue DTO
// ============================================================================

// IssueDTO is the API representation of an issue.
// Nullable fields use pointers so they serialize as JSON null when unset.
// Collections serialize as [] when empty, never null.
type IssueDTO struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	ProjectName    string     `json:"project_name"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	Severity       string     `json:"severity"`
	DueDate        *string    `json:"due_date"`
	EstimatedHours *float64   `json:"estimated_hours"`
	ReporterID     string     `json:"reporter_id"`
	AssigneeID     *string    `json:"assignee_id"`
	WatcherIDs     []string   `json:"watcher_ids"`
	LabelIDs       []string   `json:"label_ids"`
	Labels         []LabelDTO `json:"labels"`
	CommentsCount  int        `json:"comments_count"`
	IsOverdue      bool       `json:"is_overdue"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      string     `json:"created_at"`
	UpdatedAt      string     `json:"updated_at"`
}

// IssueToDTO converts a decorated issue to an IssueDTO.
func IssueToDTO(d *service.IssueDetail) IssueDTO {
	dto := IssueDTO{
		ID:             d.ID,
		ProjectID:      d.ProjectID,
		ProjectName:    d.ProjectName,
		Title:          d.Title,
		Description:    d.Description,
		Status:         string(d.Status),
		Priority:       string(d.Priority),
		Severity:       string(d.Severity),
		DueDate:        nullableTime(d.DueDate),
		EstimatedHours: d.EstimatedHours,
		ReporterID:     d.ReporterID,
		AssigneeID:     nullableString(d.AssigneeID),
		WatcherIDs:     nonNil(d.WatcherIDs),
		LabelIDs:       nonNil(d.LabelIDs),
		Labels:         LabelsToDTOs(d.Labels),
		CommentsCount:  d.CommentsCount,
		IsOverdue:      d.IsOverdue,
		IsActive:       d.IsActive,
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      d.UpdatedAt.Format(time.RFC3339),
	}
	return dto
}

// IssuesToDTOs converts decorated issues to DTOs.
func IssuesToDTOs(issues []service.IssueDetail) []IssueDTO {
	dtos := make([]IssueDTO, len(issues))
	for i := range issues {
		dtos[i] = IssueToDTO(&issues[i])
	}
	return dtos
}

// IssueRefDTO is the reduced issue shape used in search results.
type IssueRefDTO struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	CreatedAt string `json:"created_at"`
}

// ============================================================================
// Comment DTO
// ============================================================================

// CommentDTO is the API representation of a comment. Replies is only
// populated in threaded listings.
type CommentDTO struct {
	ID        string       `json:"id"`
	IssueID   string       `json:"issue_id"`
	AuthorID  string       `json:"author_id"`
	ParentID  *string      `json:"parent_id"`
	Content   string       `json:"content"`
	IsEdited  bool         `json:"is_edited"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	Replies   []CommentDTO `json:"replies,omitempty"`
}

// CommentToDTO converts a models.Comment to a CommentDTO.
func CommentToDTO(c *models.Comment) CommentDTO {
	return CommentDTO{
		ID:        c.ID,
		IssueID:   c.IssueID,
		AuthorID:  c.AuthorID,
		ParentID:  nullableString(c.ParentID),
		Content:   c.Content,
		IsEdited:  c.IsEdited,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

// CommentTreeToDTOs converts a reply tree, keeping the nesting.
func CommentTreeToDTOs(nodes []service.CommentNode) []CommentDTO {
	dtos := make([]CommentDTO, len(nodes))
	for i := range nodes {
		dtos[i] = CommentToDTO(&nodes[i].Comment)
		dtos[i].Replies = CommentTreeToDTOs(nodes[i].Replies)
	}
	return dtos
}

// CommentsToDTOs converts a flat comment list.
func CommentsToDTOs(comments []models.Comment) []CommentDTO {
	dtos := make([]CommentDTO, len(comments))
	for i := range comments {
		dtos[i] = CommentToDTO(&comments[i])
	}
	return dtos
}

// ============================================================================
// Label, Attachment and Activity DTOs
// ============================================================================

// LabelDTO is the API representation of a label.
type LabelDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// LabelToDTO converts a models.Label to a LabelDTO.
func LabelToDTO(l *models.Label) LabelDTO {
	return LabelDTO{
		ID:          l.ID,
		Name:        l.Name,
		Color:       l.Color,
		Description: l.Description,
		CreatedAt:   l.CreatedAt.Format(time.RFC3339),
	}
}

// LabelsToDTOs converts labels to DTOs.
func LabelsToDTOs(labels []models.Label) []LabelDTO {
	dtos := make([]LabelDTO, len(labels))
	for i := range labels {
		dtos[i] = LabelToDTO(&labels[i])
	}
	return dtos
}

// AttachmentDTO is the API representation of attachment metadata.
type AttachmentDTO struct {
	ID         string `json:"id"`
	IssueID    string `json:"issue_id"`
	Filename   string `json:"filename"`
	FileSize   int64  `json:"file_size"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at"`
	URL        string `json:"url"`
}

// AttachmentToDTO converts a models.Attachment to an AttachmentDTO.
func AttachmentToDTO(a *models.Attachment) AttachmentDTO {
	return AttachmentDTO{
		ID:         a.ID,
		IssueID:    a.IssueID,
		Filename:   a.Filename,
		FileSize:   a.Size,
		UploadedBy: a.UploadedBy,
		UploadedAt: a.UploadedAt.Format(time.RFC3339),
		URL:        "/v1/attachments/" + a.ID + "/content",
	}
}

// AttachmentsToDTOs converts attachments to DTOs.
func AttachmentsToDTOs(atts []models.Attachment) []AttachmentDTO {
	dtos := make([]AttachmentDTO, len(atts))
	for i := range atts {
		dtos[i] = AttachmentToDTO(&atts[i])
	}
	return dtos
}

// ActivityDTO is the API representation of an activity record.
type ActivityDTO struct {
	ID          string  `json:"id"`
	Action      string  `json:"action"`
	Description string  `json:"description"`
	UserID      string  `json:"user_id"`
	IssueID     *string `json:"issue_id"`
	ProjectID   string  `json:"project_id"`
	CreatedAt   string  `json:"created_at"`
}

// ActivityToDTO converts a models.Activity to an ActivityDTO.
func ActivityToDTO(a *models.Activity) ActivityDTO {
	return ActivityDTO{
		ID:          a.ID,
		Action:      string(a.Action),
		Description: a.Description,
		UserID:      a.UserID,
		IssueID:     nullableString(a.IssueID),
		ProjectID:   a.ProjectID,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

// ActivitiesToDTOs converts activities to DTOs.
func ActivitiesToDTOs(acts []models.Activity) []ActivityDTO {
	dtos := make([]ActivityDTO, len(acts))
	for i := range acts {
		dtos[i] = ActivityToDTO(&acts[i])
	}
	return dtos
}

// ============================================================================
// Aggregate DTOs
// ============================================================================

// DashboardDTO is the API representation of dashboard statistics.
type DashboardDTO struct {
	TotalProjects    int           `json:"total_projects"`
	TotalIssues      int           `json:"total_issues"`
	AssignedIssues   int           `json:"assigned_issues"`
	OverdueIssues    int           `json:"overdue_issues"`
	RecentActivities []ActivityDTO `json:"recent_activities"`
}

// DashboardToDTO converts dashboard statistics.
func DashboardToDTO(d *aggregate.Dashboard) DashboardDTO {
	return DashboardDTO{
		TotalProjects:    d.TotalProjects,
		TotalIssues:      d.TotalIssues,
		AssignedIssues:   d.AssignedIssues,
		OverdueIssues:    d.OverdueIssues,
		RecentActivities: ActivitiesToDTOs(d.RecentActivities),
	}
}

// AnalyticsDTO is the API representation of project analytics.
type AnalyticsDTO struct {
	ProjectID            string           `json:"project_id"`
	ProjectName          string           `json:"project_name"`
	TotalIssues          int              `json:"total_issues"`
	StatusDistribution   map[string]int   `json:"status_distribution"`
	PriorityDistribution map[string]int   `json:"priority_distribution"`
	OverdueIssues        int              `json:"overdue_issues"`
	RecentActivities     []ActivityDTO    `json:"recent_activities"`
	TopContributors      []db.Contributor `json:"top_contributors"`
}

// AnalyticsToDTO converts project analytics.
func AnalyticsToDTO(a *aggregate.Analytics) AnalyticsDTO {
	dto := AnalyticsDTO{
		ProjectID:            a.ProjectID,
		ProjectName:          a.ProjectName,
		TotalIssues:          a.TotalIssues,
		StatusDistribution:   make(map[string]int, len(a.StatusDistribution)),
		PriorityDistribution: make(map[string]int, len(a.PriorityDistribution)),
		OverdueIssues:        a.OverdueIssues,
		RecentActivities:     ActivitiesToDTOs(a.RecentActivities),
		TopContributors:      a.TopContributors,
	}
	for k, v := range a.StatusDistribution {
		dto.StatusDistribution[string(k)] = v
	}
	for k, v := range a.PriorityDistribution {
		dto.PriorityDistribution[string(k)] = v
	}
	if dto.TopContributors == nil {
		dto.TopContributors = []db.Contributor{}
	}
	return dto
}

// SearchDTO is the API representation of global search results.
type SearchDTO struct {
	Query        string          `json:"query"`
	Projects     []ProjectRefDTO `json:"projects"`
	Issues       []IssueRefDTO   `json:"issues"`
	Comments     []CommentDTO    `json:"comments"`
	TotalResults int             `json:"total_results"`
}

// SearchToDTO converts search results.
func SearchToDTO(s *aggregate.SearchResults) SearchDTO {
	dto := SearchDTO{
		Query:        s.Query,
		Projects:     make([]ProjectRefDTO, len(s.Projects)),
		Issues:       make([]IssueRefDTO, len(s.Issues)),
		Comments:     CommentsToDTOs(s.Comments),
		TotalResults: s.TotalResults,
	}
	for i, p := range s.Projects {
		dto.Projects[i] = ProjectRefDTO{
			ID: p.ID, Name: p.Name, Description: p.Description,
			CreatedBy: p.CreatedBy, CreatedAt: p.CreatedAt.Format(time.RFC3339),
		}
	}
	for i, is := range s.Issues {
		dto.Issues[i] = IssueRefDTO{
			ID: is.ID, ProjectID: is.ProjectID, Title: is.Title,
			Status: string(is.Status), Priority: string(is.Priority),
			CreatedAt: is.CreatedAt.Format(time.RFC3339),
		}
	}
	return dto
}

// ============================================================================
// Request Validation
// ============================================================================

// Pagination bounds for list endpoints.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ParseLimit reads the limit query parameter. An absent value yields def.
func ParseLimit(raw string, def int) (int, []FieldError) {
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > MaxLimit {
		return 0, []FieldError{{
			Field:    "limit",
			Rule:     "range",
			Value:    raw,
			Expected: fmt.Sprintf("1-%d", MaxLimit),
			Message:  fmt.Sprintf("limit must be between 1 and %d", MaxLimit),
		}}
	}
	return limit, nil
}

// ============================================================================
// Internal Helpers
// ============================================================================

// nullableString converts a string to *string, returning nil for empty strings.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullableTime converts a *time.Time to *string (RFC3339), returning nil when input is nil.
func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
