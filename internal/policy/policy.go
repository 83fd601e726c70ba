// Package policy decides whether a principal may read, update or delete an
// entity. Every function here is pure: callers load the entity and the
// relationships it needs, and nothing is read from or written to storage.
package policy

import (
	"github.com/marcus/tracker/internal/models"
)

// Operation is the kind of access being requested.
type Operation string

const (
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Decision is the result of a policy check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Target is an entity together with the relationships its rules depend on.
type Target interface {
	target()
}

// ProjectTarget is a project access target.
type ProjectTarget struct {
	Project *models.Project
}

// IssueTarget is an issue access target. Project must be the issue's project.
type IssueTarget struct {
	Issue   *models.Issue
	Project *models.Project
}

// CommentTarget is a comment access target.
type CommentTarget struct {
	Comment *models.Comment
}

// LabelTarget is a label access target. Labels are global.
type LabelTarget struct{}

// AttachmentTarget is an attachment access target; Issue and Project are
// the attachment's parents.
type AttachmentTarget struct {
	Attachment *models.Attachment
	Issue      *models.Issue
	Project    *models.Project
}

func (ProjectTarget) target()    {}
func (IssueTarget) target()      {}
func (CommentTarget) target()    {}
func (LabelTarget) target()      {}
func (AttachmentTarget) target() {}

// Decide evaluates op on t for p.
func Decide(p models.Principal, op Operation, t Target) Decision {
	if p.ID == "" || !p.Active {
		return deny("principal is not authenticated")
	}
	if op == OpRead {
		return allow()
	}

	switch t := t.(type) {
	case ProjectTarget:
		return decideProject(p, op, t.Project)
	case IssueTarget:
		return decideIssue(p, t.Issue, t.Project)
	case CommentTarget:
		return decideComment(p, t.Comment)
	case LabelTarget:
		return decideLabel(p)
	case AttachmentTarget:
		return decideAttachment(p, t)
	default:
		return deny("unknown target")
	}
}

// Allowed is shorthand for Decide(...).Allowed.
func Allowed(p models.Principal, op Operation, t Target) bool {
	return Decide(p, op, t).Allowed
}

func decideProject(p models.Principal, op Operation, project *models.Project) Decision {
	if project == nil {
		return deny("project missing")
	}
	if op == OpDelete {
		if project.CreatedBy == p.ID {
			return allow()
		}
		return deny("only the project creator may delete it")
	}
	if project.HasMember(p.ID) {
		return allow()
	}
	return deny("not a project member")
}

// decideIssue OR-combines membership of the issue's project with being a
// participant (reporter or assignee). Either alone grants write access.
func decideIssue(p models.Principal, issue *models.Issue, project *models.Project) Decision {
	if issue == nil {
		return deny("issue missing")
	}
	if IsIssueParticipant(p, issue) {
		return allow()
	}
	if project != nil && project.ID == issue.ProjectID && project.HasMember(p.ID) {
		return allow()
	}
	return deny("not a project member, reporter or assignee")
}

func decideComment(p models.Principal, comment *models.Comment) Decision {
	if comment == nil {
		return deny("comment missing")
	}
	if comment.AuthorID == p.ID {
		return allow()
	}
	return deny("only the author may change a comment")
}

func decideLabel(p models.Principal) Decision {
	if p.IsAdministrator {
		return allow()
	}
	return deny("labels are managed by administrators")
}

func decideAttachment(p models.Principal, t AttachmentTarget) Decision {
	if t.Attachment == nil {
		return deny("attachment missing")
	}
	if t.Attachment.UploadedBy == p.ID {
		return allow()
	}
	return decideIssue(p, t.Issue, t.Project)
}

// IsIssueParticipant reports whether p reported or is assigned to issue.
func IsIssueParticipant(p models.Principal, issue *models.Issue) bool {
	if p.ID == "" || issue == nil {
		return false
	}
	return issue.ReporterID == p.ID || (issue.AssigneeID != "" && issue.AssigneeID == p.ID)
}

// CanViewProjectAnalytics reports whether p may see a project's analytics.
// Unlike plain reads this requires membership.
func CanViewProjectAnalytics(p models.Principal, project *models.Project) bool {
	if p.ID == "" || !p.Active || project == nil {
		return false
	}
	return project.HasMember(p.ID)
}
