package service

import (
	"context"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/activity"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/policy"
)

// IssueInput is the payload for creating an issue.
type IssueInput struct {
	Title          string
	Description    string
	Status         models.Status
	Priority       models.Priority
	Severity       models.Severity
	DueDate        *time.Time
	EstimatedHours *float64
	AssigneeID     string
	LabelIDs       []string
	WatcherIDs     []string
}

// IssueDetail is an issue with the derived values shown to clients.
type IssueDetail struct {
	models.Issue
	ProjectName   string
	CommentsCount int
	Labels        []models.Label
	IsOverdue     bool
}

// IssueQuery narrows ListIssues.
type IssueQuery struct {
	Status     []models.Status
	Priority   []models.Priority
	Severity   []models.Severity
	AssigneeID string
	Overdue    bool
	Search     string
	OrderBy    string
	Limit      int
}

// CreateIssue creates an issue in an active project with p as reporter and
// records a "created" activity in the same transaction. Any authenticated
// principal may report issues. Unknown assignee, label and watcher IDs are
// ignored.
func (s *Service) CreateIssue(ctx context.Context, p models.Principal, projectID string, in IssueInput) (*IssueDetail, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	project, err := s.db.GetProject(ctx, projectID, false)
	if err != nil {
		return nil, storeErr("create issue", err)
	}

	in.Title = strings.TrimSpace(in.Title)
	if in.Status == "" {
		in.Status = models.StatusOpen
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if in.Severity == "" {
		in.Severity = models.SeverityMinor
	}
	v := &ValidationError{}
	if fe, bad := checkTitle(in.Title); bad {
		v.Fields = append(v.Fields, fe)
	}
	if !models.IsValidStatus(in.Status) {
		v.Add(FieldStatus, "enum", in.Status, "status must be one of open, in_progress, resolved, closed, reopened")
	}
	if !models.IsValidPriority(in.Priority) {
		v.Add(FieldPriority, "enum", in.Priority, "priority must be one of low, medium, high, critical")
	}
	if !models.IsValidSeverity(in.Severity) {
		v.Add(FieldSeverity, "enum", in.Severity, "severity must be one of minor, major, critical, blocker")
	}
	if in.EstimatedHours != nil {
		if fe, bad := checkEstimate(*in.EstimatedHours); bad {
			v.Fields = append(v.Fields, fe)
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := s.Now()
	issue := &models.Issue{
		ProjectID:      project.ID,
		Title:          in.Title,
		Description:    in.Description,
		Status:         in.Status,
		Priority:       in.Priority,
		Severity:       in.Severity,
		EstimatedHours: in.EstimatedHours,
		ReporterID:     p.ID,
		CreatedAt:      now,
	}
	if in.DueDate != nil {
		d := in.DueDate.UTC()
		issue.DueDate = &d
	}
	if in.AssigneeID != "" {
		ok, err := s.db.ExistingUserIDs(ctx, []string{in.AssigneeID})
		if err != nil {
			return nil, storeErr("create issue", err)
		}
		if len(ok) == 1 {
			issue.AssigneeID = in.AssigneeID
		}
	}
	labels, err := s.db.ExistingLabelIDs(ctx, in.LabelIDs)
	if err != nil {
		return nil, storeErr("create issue", err)
	}
	watchers, err := s.db.ExistingUserIDs(ctx, in.WatcherIDs)
	if err != nil {
		return nil, storeErr("create issue", err)
	}

	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		if err := tx.CreateIssue(ctx, issue); err != nil {
			return err
		}
		if err := tx.SetIssueLabels(ctx, issue.ID, labels, p.ID, now); err != nil {
			return err
		}
		if err := tx.SetIssueWatchers(ctx, issue.ID, watchers); err != nil {
			return err
		}
		_, err := s.rec.Record(ctx, tx, activity.Entry{
			Action:      models.ActionCreated,
			Description: activity.Created(issue.Title),
			Principal:   p,
			IssueID:     issue.ID,
			ProjectID:   issue.ProjectID,
			At:          now,
		})
		return err
	})
	if err != nil {
		return nil, storeErr("create issue", err)
	}
	s.log.Info("issue created", "issue", issue.ID, "project", issue.ProjectID, "user", p.ID)
	return s.GetIssue(ctx, p, issue.ID)
}

// GetIssue returns an active issue.
func (s *Service) GetIssue(ctx context.Context, p models.Principal, id string) (*IssueDetail, error) {
	return s.getIssue(ctx, p, id, false)
}

// AdminGetIssue returns an issue even when soft-deleted. Administrators only.
func (s *Service) AdminGetIssue(ctx context.Context, p models.Principal, id string) (*IssueDetail, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	if !p.IsAdministrator {
		return nil, denied(policy.Decision{Reason: "administrators only"})
	}
	return s.getIssue(ctx, p, id, true)
}

func (s *Service) getIssue(ctx context.Context, p models.Principal, id string, includeInactive bool) (*IssueDetail, error) {
	issue, err := s.db.GetIssue(ctx, id, includeInactive)
	if err != nil {
		return nil, storeErr("get issue", err)
	}
	if d := policy.Decide(p, policy.OpRead, policy.IssueTarget{Issue: issue}); !d.Allowed {
		return nil, denied(d)
	}
	out, err := s.details(ctx, []models.Issue{*issue})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// ListIssues returns the active issues of an active project.
func (s *Service) ListIssues(ctx context.Context, p models.Principal, projectID string, q IssueQuery) ([]IssueDetail, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	if _, err := s.db.GetProject(ctx, projectID, false); err != nil {
		return nil, storeErr("list issues", err)
	}

	v := &ValidationError{}
	for _, st := range q.Status {
		if !models.IsValidStatus(st) {
			v.Add(FieldStatus, "enum", st, "unknown status")
		}
	}
	for _, pr := range q.Priority {
		if !models.IsValidPriority(pr) {
			v.Add(FieldPriority, "enum", pr, "unknown priority")
		}
	}
	for _, sv := range q.Severity {
		if !models.IsValidSeverity(sv) {
			v.Add(FieldSeverity, "enum", sv, "unknown severity")
		}
	}
	if q.OrderBy != "" && !db.IsValidIssueOrdering(q.OrderBy) {
		v.Add("ordering", "enum", q.OrderBy, "unknown ordering")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	f := db.IssueFilter{
		ProjectIDs: []string{projectID},
		Status:     q.Status,
		Priority:   q.Priority,
		Severity:   q.Severity,
		AssigneeID: q.AssigneeID,
		Search:     q.Search,
		OrderBy:    q.OrderBy,
		Limit:      q.Limit,
	}
	if q.Overdue {
		now := s.Now()
		f.OverdueAt = &now
	}
	issues, err := s.db.ListIssues(ctx, f)
	if err != nil {
		return nil, storeErr("list issues", err)
	}
	return s.details(ctx, issues)
}

// Details decorates issues with project names, comment counts, labels and
// the overdue flag.
func (s *Service) Details(ctx context.Context, issues []models.Issue) ([]IssueDetail, error) {
	return s.details(ctx, issues)
}

func (s *Service) details(ctx context.Context, issues []models.Issue) ([]IssueDetail, error) {
	out := make([]IssueDetail, len(issues))
	if len(issues) == 0 {
		return out, nil
	}
	ids := make([]string, len(issues))
	var labelIDs []string
	projectNames := map[string]string{}
	for i := range issues {
		ids[i] = issues[i].ID
		labelIDs = append(labelIDs, issues[i].LabelIDs...)
		projectNames[issues[i].ProjectID] = ""
	}
	for pid := range projectNames {
		project, err := s.db.GetProject(ctx, pid, true)
		if err != nil {
			return nil, storeErr("load issue project", err)
		}
		projectNames[pid] = project.Name
	}
	counts, err := s.db.CommentCounts(ctx, ids)
	if err != nil {
		return nil, storeErr("count comments", err)
	}
	labels, err := s.db.GetLabelsByIDs(ctx, labelIDs)
	if err != nil {
		return nil, storeErr("load labels", err)
	}

	now := s.Now()
	for i := range issues {
		d := IssueDetail{
			Issue:         issues[i],
			ProjectName:   projectNames[issues[i].ProjectID],
			CommentsCount: counts[issues[i].ID],
			Labels:        []models.Label{},
			IsOverdue:     issues[i].IsOverdue(now),
		}
		for _, lid := range issues[i].LabelIDs {
			if l, ok := labels[lid]; ok {
				d.Labels = append(d.Labels, *l)
			}
		}
		out[i] = d
	}
	return out, nil
}

// UpdateIssue applies patch to an active issue. Project members, the
// reporter and the assignee may update. A status change records one
// "status_changed" activity in the same transaction.
func (s *Service) UpdateIssue(ctx context.Context, p models.Principal, id string, patch IssuePatch) (*IssueDetail, error) {
	issue, project, err := s.loadIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if d := policy.Decide(p, policy.OpUpdate, policy.IssueTarget{Issue: issue, Project: project}); !d.Allowed {
		return nil, denied(d)
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	before := *issue
	if err := s.applyPatch(ctx, issue, &patch, true); err != nil {
		return nil, err
	}
	now := s.Now()
	issue.UpdatedAt = now

	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return s.writeIssue(ctx, tx, p, &before, issue, &patch, now)
	})
	if err != nil {
		return nil, storeErr("update issue", err)
	}
	return s.GetIssue(ctx, p, id)
}

// applyPatch copies patch onto issue. Referenced users and labels are
// checked against the store. When strict is false an unknown assignee is
// dropped from the patch instead of failing it.
func (s *Service) applyPatch(ctx context.Context, issue *models.Issue, patch *IssuePatch, strict bool) error {
	if patch.AssigneeID.Set && patch.AssigneeID.Value != nil {
		ok, err := s.db.ExistingUserIDs(ctx, []string{*patch.AssigneeID.Value})
		if err != nil {
			return storeErr("check assignee", err)
		}
		if len(ok) == 0 {
			if strict {
				return invalid(FieldAssigneeID, "exists", *patch.AssigneeID.Value, "assignee does not exist")
			}
			patch.AssigneeID = Nullable[string]{}
		}
	}
	if patch.LabelIDs != nil {
		ids, err := s.db.ExistingLabelIDs(ctx, *patch.LabelIDs)
		if err != nil {
			return storeErr("check labels", err)
		}
		patch.LabelIDs = &ids
	}
	if patch.WatcherIDs != nil {
		ids, err := s.db.ExistingUserIDs(ctx, *patch.WatcherIDs)
		if err != nil {
			return storeErr("check watchers", err)
		}
		patch.WatcherIDs = &ids
	}

	if patch.Title != nil {
		issue.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		issue.Description = *patch.Description
	}
	if patch.Status != nil {
		issue.Status = *patch.Status
	}
	if patch.Priority != nil {
		issue.Priority = *patch.Priority
	}
	if patch.Severity != nil {
		issue.Severity = *patch.Severity
	}
	if patch.DueDate.Set {
		issue.DueDate = patch.DueDate.Value
	}
	if patch.EstimatedHours.Set {
		issue.EstimatedHours = patch.EstimatedHours.Value
	}
	if patch.AssigneeID.Set {
		issue.AssigneeID = ""
		if patch.AssigneeID.Value != nil {
			issue.AssigneeID = *patch.AssigneeID.Value
		}
	}
	return nil
}

// writeIssue persists an applied patch and its activity through tx.
func (s *Service) writeIssue(ctx context.Context, tx *db.Queries, p models.Principal, before, after *models.Issue, patch *IssuePatch, now time.Time) error {
	if err := tx.UpdateIssue(ctx, after); err != nil {
		return err
	}
	if patch.LabelIDs != nil {
		if err := tx.SetIssueLabels(ctx, after.ID, *patch.LabelIDs, p.ID, now); err != nil {
			return err
		}
	}
	if patch.WatcherIDs != nil {
		if err := tx.SetIssueWatchers(ctx, after.ID, *patch.WatcherIDs); err != nil {
			return err
		}
	}
	if before.Status != after.Status {
		_, err := s.rec.Record(ctx, tx, activity.Entry{
			Action:      models.ActionStatusChanged,
			Description: activity.StatusChanged(before.Status, after.Status),
			Principal:   p,
			IssueID:     after.ID,
			ProjectID:   after.ProjectID,
			At:          now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteIssue soft-deletes an issue. Comments, labels and activities stay.
func (s *Service) DeleteIssue(ctx context.Context, p models.Principal, id string) error {
	issue, project, err := s.loadIssue(ctx, id)
	if err != nil {
		return err
	}
	if d := policy.Decide(p, policy.OpDelete, policy.IssueTarget{Issue: issue, Project: project}); !d.Allowed {
		return denied(d)
	}
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.SetIssueActive(ctx, id, false, s.Now())
	})
	if err != nil {
		return storeErr("delete issue", err)
	}
	s.log.Info("issue deleted", "issue", id, "user", p.ID)
	return nil
}

// ActivityQuery selects the activities of one project or one issue.
type ActivityQuery struct {
	ProjectID string
	IssueID   string
	Limit     int
}

// DefaultActivityLimit caps activity listings when no limit is given.
const DefaultActivityLimit = 50

// ListActivities returns activities newest first for an active project or
// issue.
func (s *Service) ListActivities(ctx context.Context, p models.Principal, q ActivityQuery) ([]models.Activity, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	f := db.ActivityFilter{Limit: q.Limit}
	if f.Limit <= 0 {
		f.Limit = DefaultActivityLimit
	}
	switch {
	case q.IssueID != "":
		if _, err := s.db.GetIssue(ctx, q.IssueID, false); err != nil {
			return nil, storeErr("list activities", err)
		}
		f.IssueID = q.IssueID
	case q.ProjectID != "":
		if _, err := s.db.GetProject(ctx, q.ProjectID, false); err != nil {
			return nil, storeErr("list activities", err)
		}
		f.ProjectIDs = []string{q.ProjectID}
	default:
		return nil, invalid("project_id", "required", nil, "a project or issue is required")
	}
	acts, err := s.db.ListActivities(ctx, f)
	if err != nil {
		return nil, storeErr("list activities", err)
	}
	return acts, nil
}
