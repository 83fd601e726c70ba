package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/models"
)

const issueColumns = `i.id, i.project_id, i.title, i.description, i.status, i.priority, i.severity,
	i.due_date, i.estimated_hours, i.reporter_id, i.assignee_id, i.is_active, i.created_at, i.updated_at`

func scanIssue(row interface{ Scan(...any) error }) (*models.Issue, error) {
	var (
		issue    models.Issue
		due      sql.NullTime
		estimate sql.NullFloat64
		assignee sql.NullString
	)
	err := row.Scan(&issue.ID, &issue.ProjectID, &issue.Title, &issue.Description,
		&issue.Status, &issue.Priority, &issue.Severity, &due, &estimate,
		&issue.ReporterID, &assignee, &issue.IsActive, &issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if due.Valid {
		t := due.Time.UTC()
		issue.DueDate = &t
	}
	if estimate.Valid {
		h := estimate.Float64
		issue.EstimatedHours = &h
	}
	issue.AssigneeID = assignee.String
	return &issue, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateIssue inserts an issue. Watchers and labels are written separately
// with SetIssueWatchers and SetIssueLabels.
func (q *Queries) CreateIssue(ctx context.Context, issue *models.Issue) error {
	id, err := generateID(issueIDPrefix)
	if err != nil {
		return fmt.Errorf("generate issue id: %w", err)
	}
	issue.ID = id
	issue.IsActive = true
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	issue.UpdatedAt = issue.CreatedAt

	_, err = q.q.ExecContext(ctx,
		`INSERT INTO issues (id, project_id, title, description, status, priority, severity,
			due_date, estimated_hours, reporter_id, assignee_id, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		issue.ID, issue.ProjectID, issue.Title, issue.Description,
		string(issue.Status), string(issue.Priority), string(issue.Severity),
		nullTime(issue.DueDate), nullFloat(issue.EstimatedHours),
		issue.ReporterID, nullString(issue.AssigneeID), issue.CreatedAt, issue.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

// GetIssue returns an issue with watchers and labels loaded. Inactive issues
// are reported as not found unless includeInactive is set.
func (q *Queries) GetIssue(ctx context.Context, id string, includeInactive bool) (*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues i WHERE i.id = ?`
	if !includeInactive {
		query += ` AND i.is_active = 1`
	}
	issue, err := scanIssue(q.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	issues := []models.Issue{*issue}
	if err := q.loadIssueRelations(ctx, issues); err != nil {
		return nil, err
	}
	return &issues[0], nil
}

// UpdateIssue writes every mutable column of issue. Reporter, project and
// created_at are never written.
func (q *Queries) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE issues SET title = ?, description = ?, status = ?, priority = ?, severity = ?,
			due_date = ?, estimated_hours = ?, assignee_id = ?, updated_at = ?
		 WHERE id = ?`,
		issue.Title, issue.Description, string(issue.Status), string(issue.Priority), string(issue.Severity),
		nullTime(issue.DueDate), nullFloat(issue.EstimatedHours), nullString(issue.AssigneeID),
		issue.UpdatedAt, issue.ID)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("issue %s: %w", issue.ID, ErrNotFound)
	}
	return nil
}

// SetIssueActive flips the soft-delete flag. Comments and activities are
// left untouched.
func (q *Queries) SetIssueActive(ctx context.Context, id string, active bool, now time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE issues SET is_active = ?, updated_at = ? WHERE id = ?`, active, now, id)
	if err != nil {
		return fmt.Errorf("set issue active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetIssueWatchers replaces the watcher set of an issue.
func (q *Queries) SetIssueWatchers(ctx context.Context, issueID string, userIDs []string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM issue_watchers WHERE issue_id = ?`, issueID); err != nil {
		return fmt.Errorf("clear issue watchers: %w", err)
	}
	for _, uid := range dedupe(userIDs) {
		if _, err := q.q.ExecContext(ctx,
			`INSERT INTO issue_watchers (issue_id, user_id) VALUES (?, ?)`, issueID, uid); err != nil {
			return fmt.Errorf("add issue watcher: %w", err)
		}
	}
	return nil
}

// loadIssueRelations fills WatcherIDs and LabelIDs for every issue in place.
func (q *Queries) loadIssueRelations(ctx context.Context, issues []models.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	ids := make([]string, len(issues))
	index := make(map[string]int, len(issues))
	for i := range issues {
		ids[i] = issues[i].ID
		index[issues[i].ID] = i
		issues[i].WatcherIDs = []string{}
		issues[i].LabelIDs = []string{}
	}
	in := placeholders(len(ids))
	args := stringArgs(ids)

	rows, err := q.q.QueryContext(ctx,
		`SELECT issue_id, user_id FROM issue_watchers WHERE issue_id IN (`+in+`) ORDER BY user_id`, args...)
	if err != nil {
		return fmt.Errorf("load issue watchers: %w", err)
	}
	for rows.Next() {
		var iid, uid string
		if err := rows.Scan(&iid, &uid); err != nil {
			rows.Close()
			return fmt.Errorf("scan issue watcher: %w", err)
		}
		issues[index[iid]].WatcherIDs = append(issues[index[iid]].WatcherIDs, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load issue watchers: iterate: %w", err)
	}

	rows, err = q.q.QueryContext(ctx,
		`SELECT issue_id, label_id FROM issue_labels WHERE issue_id IN (`+in+`) ORDER BY added_at, label_id`, args...)
	if err != nil {
		return fmt.Errorf("load issue labels: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var iid, lid string
		if err := rows.Scan(&iid, &lid); err != nil {
			return fmt.Errorf("scan issue label: %w", err)
		}
		issues[index[iid]].LabelIDs = append(issues[index[iid]].LabelIDs, lid)
	}
	return rows.Err()
}

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	ProjectIDs      []string // empty means every project
	Status          []models.Status
	Priority        []models.Priority
	Severity        []models.Severity
	AssigneeID      string
	Search          string     // case-insensitive substring of title or description
	OverdueAt       *time.Time // only issues overdue at this instant
	IncludeInactive bool
	OrderBy         string // see issueOrderings; default "-created_at"
	Limit           int
}

const priorityRank = `CASE i.priority WHEN 'low' THEN 0 WHEN 'medium' THEN 1 WHEN 'high' THEN 2 WHEN 'critical' THEN 3 ELSE 4 END`

var issueOrderings = map[string]string{
	"created_at":  "i.created_at ASC, i.id ASC",
	"-created_at": "i.created_at DESC, i.id DESC",
	"updated_at":  "i.updated_at ASC, i.id ASC",
	"-updated_at": "i.updated_at DESC, i.id DESC",
	"priority":    priorityRank + " ASC, i.created_at DESC, i.id DESC",
	"-priority":   priorityRank + " DESC, i.created_at DESC, i.id DESC",
	"due_date":    "i.due_date IS NULL, i.due_date ASC, i.id ASC",
	"-due_date":   "i.due_date IS NULL, i.due_date DESC, i.id DESC",
}

// IsValidIssueOrdering reports whether ListIssues understands the ordering key.
func IsValidIssueOrdering(key string) bool {
	_, ok := issueOrderings[key]
	return ok
}

// ListIssues returns issues matching the filter with relations loaded.
func (q *Queries) ListIssues(ctx context.Context, f IssueFilter) ([]models.Issue, error) {
	var conds []string
	var args []any

	if !f.IncludeInactive {
		conds = append(conds, "i.is_active = 1")
	}
	if f.ProjectIDs != nil {
		ids := dedupe(f.ProjectIDs)
		if len(ids) == 0 {
			return []models.Issue{}, nil
		}
		conds = append(conds, "i.project_id IN ("+placeholders(len(ids))+")")
		args = append(args, stringArgs(ids)...)
	}
	if len(f.Status) > 0 {
		conds = append(conds, "i.status IN ("+placeholders(len(f.Status))+")")
		for _, s := range f.Status {
			args = append(args, string(s))
		}
	}
	if len(f.Priority) > 0 {
		conds = append(conds, "i.priority IN ("+placeholders(len(f.Priority))+")")
		for _, p := range f.Priority {
			args = append(args, string(p))
		}
	}
	if len(f.Severity) > 0 {
		conds = append(conds, "i.severity IN ("+placeholders(len(f.Severity))+")")
		for _, s := range f.Severity {
			args = append(args, string(s))
		}
	}
	if f.AssigneeID != "" {
		conds = append(conds, "i.assignee_id = ?")
		args = append(args, f.AssigneeID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		conds = append(conds, `(fold(i.title) LIKE ? ESCAPE '\' OR fold(i.description) LIKE ? ESCAPE '\')`)
		pat := likePattern(s)
		args = append(args, pat, pat)
	}
	if f.OverdueAt != nil {
		conds = append(conds, "i.due_date IS NOT NULL AND i.due_date < ? AND i.status NOT IN ('closed', 'resolved')")
		args = append(args, f.OverdueAt.UTC())
	}

	query := `SELECT ` + issueColumns + ` FROM issues i`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	order, ok := issueOrderings[f.OrderBy]
	if !ok {
		order = issueOrderings["-created_at"]
	}
	query += " ORDER BY " + order
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	var issues []models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		if f.OverdueAt != nil && !issue.IsOverdue(*f.OverdueAt) {
			continue
		}
		issues = append(issues, *issue)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list issues: iterate: %w", err)
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	if err := q.loadIssueRelations(ctx, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// CommentCounts returns the number of comments on each issue ID.
func (q *Queries) CommentCounts(ctx context.Context, issueIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(issueIDs))
	issueIDs = dedupe(issueIDs)
	if len(issueIDs) == 0 {
		return out, nil
	}
	rows, err := q.q.QueryContext(ctx,
		`SELECT issue_id, COUNT(*) FROM comments WHERE issue_id IN (`+placeholders(len(issueIDs))+`) GROUP BY issue_id`,
		stringArgs(issueIDs)...)
	if err != nil {
		return nil, fmt.Errorf("comment counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan comment count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// ArchiveClosedIssues soft-deletes active closed issues not updated since
// cutoff and returns how many were archived. With dryRun it only counts.
func (q *Queries) ArchiveClosedIssues(ctx context.Context, cutoff time.Time, dryRun bool, now time.Time) (int, error) {
	if dryRun {
		var n int
		err := q.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM issues WHERE is_active = 1 AND status = 'closed' AND updated_at < ?`,
			cutoff.UTC()).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count closed issues: %w", err)
		}
		return n, nil
	}
	res, err := q.q.ExecContext(ctx,
		`UPDATE issues SET is_active = 0, updated_at = ?
		 WHERE is_active = 1 AND status = 'closed' AND updated_at < ?`, now.UTC(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("archive closed issues: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
