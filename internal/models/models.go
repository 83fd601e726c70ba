// Package models defines the tracker's entities, their enumerations and the
// invariants that can be checked without touching storage.
package models

import (
	"time"
)

// Status represents an issue status
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
	StatusReopened   Status = "reopened"
)

// Priority represents an issue priority
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Severity represents an issue severity
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
	SeverityBlocker  Severity = "blocker"
)

// ActivityAction represents the kind of mutation an Activity documents
type ActivityAction string

const (
	ActionCreated         ActivityAction = "created"
	ActionUpdated         ActivityAction = "updated"
	ActionCommented       ActivityAction = "commented"
	ActionAssigned        ActivityAction = "assigned"
	ActionStatusChanged   ActivityAction = "status_changed"
	ActionPriorityChanged ActivityAction = "priority_changed"
	ActionClosed          ActivityAction = "closed"
	ActionReopened        ActivityAction = "reopened"
)

// Field limits shared by validation and the schema.
const (
	ProjectNameMin   = 3
	ProjectNameMax   = 200
	IssueTitleMin    = 5
	IssueTitleMax    = 200
	LabelNameMax     = 50
	FilenameMax      = 255
	MaxEstimateHours = 10000
	DefaultLabelHex  = "#007bff"
)

// Statuses returns every status in declaration order.
func Statuses() []Status {
	return []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed, StatusReopened}
}

// Priorities returns every priority in declaration order.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
}

// Severities returns every severity in declaration order.
func Severities() []Severity {
	return []Severity{SeverityMinor, SeverityMajor, SeverityCritical, SeverityBlocker}
}

// Actions returns every activity action in declaration order.
func Actions() []ActivityAction {
	return []ActivityAction{
		ActionCreated, ActionUpdated, ActionCommented, ActionAssigned,
		ActionStatusChanged, ActionPriorityChanged, ActionClosed, ActionReopened,
	}
}

var statusLabels = map[Status]string{
	StatusOpen:       "Open",
	StatusInProgress: "In Progress",
	StatusResolved:   "Resolved",
	StatusClosed:     "Closed",
	StatusReopened:   "Reopened",
}

var priorityLabels = map[Priority]string{
	PriorityLow:      "Low",
	PriorityMedium:   "Medium",
	PriorityHigh:     "High",
	PriorityCritical: "Critical",
}

var severityLabels = map[Severity]string{
	SeverityMinor:    "Minor",
	SeverityMajor:    "Major",
	SeverityCritical: "Critical",
	SeverityBlocker:  "Blocker",
}

// IsValidStatus checks if a status is valid
func IsValidStatus(s Status) bool {
	_, ok := statusLabels[s]
	return ok
}

// IsValidPriority checks if a priority is valid
func IsValidPriority(p Priority) bool {
	_, ok := priorityLabels[p]
	return ok
}

// IsValidSeverity checks if a severity is valid
func IsValidSeverity(s Severity) bool {
	_, ok := severityLabels[s]
	return ok
}

// IsValidAction checks if an activity action is valid
func IsValidAction(a ActivityAction) bool {
	for _, v := range Actions() {
		if v == a {
			return true
		}
	}
	return false
}

// Label returns the human-readable name of the status ("In Progress").
// Unknown values are returned unchanged.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Label returns the human-readable name of the priority.
func (p Priority) Label() string {
	if l, ok := priorityLabels[p]; ok {
		return l
	}
	return string(p)
}

// Label returns the human-readable name of the severity.
func (s Severity) Label() string {
	if l, ok := severityLabels[s]; ok {
		return l
	}
	return string(s)
}

// IsTerminal reports whether work on an issue in this status is finished.
// Terminal issues are never overdue.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusResolved
}

// OpenStatuses are the statuses counted as outstanding work.
func OpenStatuses() []Status {
	return []Status{StatusOpen, StatusInProgress, StatusReopened}
}

// User is an account known to the identity provider.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// FullName returns "First Last", falling back to the username.
func (u *User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}

// Principal returns the acting identity for this user.
func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Active: u.IsActive, IsAdministrator: u.IsAdmin}
}

// Principal is the authenticated actor making a request.
type Principal struct {
	ID              string
	Active          bool
	IsAdministrator bool
}

// Project groups issues and owns membership.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	MemberIDs   []string  `json:"member_ids"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasMember reports whether userID is the creator or in the member set.
// The creator is always a member even when absent from MemberIDs.
func (p *Project) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	if p.CreatedBy == userID {
		return true
	}
	for _, id := range p.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Issue is a unit of tracked work inside a project.
type Issue struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	Severity       Severity   `json:"severity"`
	DueDate        *time.Time `json:"due_date"`
	EstimatedHours *float64   `json:"estimated_hours"`
	ReporterID     string     `json:"reporter_id"`
	AssigneeID     string     `json:"assignee_id"`
	WatcherIDs     []string   `json:"watcher_ids"`
	LabelIDs       []string   `json:"label_ids"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsOverdue reports whether the issue is past due at instant now.
// An issue is overdue iff it has a due date strictly before now and its
// status is not terminal.
func (i *Issue) IsOverdue(now time.Time) bool {
	return IsOverdue(i.DueDate, i.Status, now)
}

// IsOverdue is the single definition of overdue used by every view.
func IsOverdue(due *time.Time, status Status, now time.Time) bool {
	if due == nil || status.IsTerminal() {
		return false
	}
	return due.Before(now)
}

// Comment is a message on an issue, optionally replying to another comment.
type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	AuthorID  string    `json:"author_id"`
	ParentID  string    `json:"parent_id"`
	Content   string    `json:"content"`
	IsEdited  bool      `json:"is_edited"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Label is a global tag that can be attached to issues.
type Label struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// IssueLabel records who attached a label to an issue.
type IssueLabel struct {
	IssueID string    `json:"issue_id"`
	LabelID string    `json:"label_id"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// Attachment is file metadata; the bytes live in blob storage under BlobKey.
type Attachment struct {
	ID         string    `json:"id"`
	IssueID    string    `json:"issue_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"file_size"`
	BlobKey    string    `json:"blob_key"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Activity is an immutable audit record of a tracked mutation.
type Activity struct {
	ID          string         `json:"id"`
	Action      ActivityAction `json:"action"`
	Description string         `json:"description"`
	UserID      string         `json:"user_id"`
	IssueID     string         `json:"issue_id"`
	ProjectID   string         `json:"project_id"`
	CreatedAt   time.Time      `json:"created_at"`
}
