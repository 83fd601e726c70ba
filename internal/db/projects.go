package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/models"
)

const projectColumns = `p.id, p.name, p.description, p.created_by, p.is_active, p.created_at, p.updated_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	p := &models.Project{}
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProject inserts a project and its member set.
func (q *Queries) CreateProject(ctx context.Context, p *models.Project) error {
	id, err := generateID(projectIDPrefix)
	if err != nil {
		return fmt.Errorf("generate project id: %w", err)
	}
	p.ID = id
	p.IsActive = true
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	_, err = q.q.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, created_by, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return q.SetProjectMembers(ctx, p.ID, p.MemberIDs)
}

// GetProject returns a project with its member set. Inactive projects are
// reported as not found unless includeInactive is set.
func (q *Queries) GetProject(ctx context.Context, id string, includeInactive bool) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects p WHERE p.id = ?`
	if !includeInactive {
		query += ` AND p.is_active = 1`
	}
	p, err := scanProject(q.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	members, err := q.projectMembers(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.MemberIDs = members[p.ID]
	return p, nil
}

// UpdateProject writes name, description and updated_at, and replaces the
// member set when replaceMembers is true.
func (q *Queries) UpdateProject(ctx context.Context, p *models.Project, replaceMembers bool) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if replaceMembers {
		return q.SetProjectMembers(ctx, p.ID, p.MemberIDs)
	}
	return nil
}

// SetProjectActive flips the soft-delete flag. It never touches issues.
func (q *Queries) SetProjectActive(ctx context.Context, id string, active bool, now time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE projects SET is_active = ?, updated_at = ? WHERE id = ?`, active, now, id)
	if err != nil {
		return fmt.Errorf("set project active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetProjectMembers replaces the member set of a project.
func (q *Queries) SetProjectMembers(ctx context.Context, projectID string, userIDs []string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("clear project members: %w", err)
	}
	now := time.Now().UTC()
	for _, uid := range dedupe(userIDs) {
		if _, err := q.q.ExecContext(ctx,
			`INSERT INTO project_members (project_id, user_id, added_at) VALUES (?, ?, ?)`,
			projectID, uid, now); err != nil {
			return fmt.Errorf("add project member: %w", err)
		}
	}
	return nil
}

func (q *Queries) projectMembers(ctx context.Context, projectIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(projectIDs))
	if len(projectIDs) == 0 {
		return out, nil
	}
	rows, err := q.q.QueryContext(ctx,
		`SELECT project_id, user_id FROM project_members
		 WHERE project_id IN (`+placeholders(len(projectIDs))+`)
		 ORDER BY added_at, user_id`, stringArgs(projectIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid, uid string
		if err := rows.Scan(&pid, &uid); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		out[pid] = append(out[pid], uid)
	}
	return out, rows.Err()
}

// ProjectFilter narrows ListProjects.
type ProjectFilter struct {
	MemberOf        string // creator or member
	Search          string // case-insensitive substring of name or description
	IncludeInactive bool
	Limit           int
	OrderBy         string // "created_at", "-created_at" (default), "name", "-name"
}

var projectOrderings = map[string]string{
	"created_at":  "p.created_at ASC, p.id ASC",
	"-created_at": "p.created_at DESC, p.id DESC",
	"name":        "p.name ASC, p.id ASC",
	"-name":       "p.name DESC, p.id DESC",
}

// ListProjects returns projects matching the filter with member sets loaded.
func (q *Queries) ListProjects(ctx context.Context, f ProjectFilter) ([]models.Project, error) {
	var conds []string
	var args []any

	if !f.IncludeInactive {
		conds = append(conds, "p.is_active = 1")
	}
	if f.MemberOf != "" {
		conds = append(conds, `(p.created_by = ? OR EXISTS (
			SELECT 1 FROM project_members m WHERE m.project_id = p.id AND m.user_id = ?))`)
		args = append(args, f.MemberOf, f.MemberOf)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		conds = append(conds, `(fold(p.name) LIKE ? ESCAPE '\' OR fold(p.description) LIKE ? ESCAPE '\')`)
		pat := likePattern(s)
		args = append(args, pat, pat)
	}

	query := `SELECT ` + projectColumns + ` FROM projects p`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	order, ok := projectOrderings[f.OrderBy]
	if !ok {
		order = projectOrderings["-created_at"]
	}
	query += " ORDER BY " + order
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	var ids []string
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: iterate: %w", err)
	}

	members, err := q.projectMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		projects[i].MemberIDs = members[projects[i].ID]
	}
	return projects, nil
}

// MemberProjectIDs returns the IDs of active projects where userID is the
// creator or a member.
func (q *Queries) MemberProjectIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT p.id FROM projects p
		 WHERE p.is_active = 1 AND (p.created_by = ? OR EXISTS (
			SELECT 1 FROM project_members m WHERE m.project_id = p.id AND m.user_id = ?))
		 ORDER BY p.created_at DESC, p.id DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("member project ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ProjectIssueCounts holds per-project counts of active issues.
type ProjectIssueCounts struct {
	Total int
	Open  int
}

// IssueCountsByProject returns active issue counts for each project ID.
func (q *Queries) IssueCountsByProject(ctx context.Context, projectIDs []string) (map[string]ProjectIssueCounts, error) {
	out := make(map[string]ProjectIssueCounts, len(projectIDs))
	projectIDs = dedupe(projectIDs)
	if len(projectIDs) == 0 {
		return out, nil
	}
	rows, err := q.q.QueryContext(ctx,
		`SELECT project_id, COUNT(*), SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END)
		 FROM issues WHERE is_active = 1 AND project_id IN (`+placeholders(len(projectIDs))+`)
		 GROUP BY project_id`, stringArgs(projectIDs)...)
	if err != nil {
		return nil, fmt.Errorf("issue counts by project: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		var c ProjectIssueCounts
		if err := rows.Scan(&pid, &c.Total, &c.Open); err != nil {
			return nil, fmt.Errorf("scan issue counts: %w", err)
		}
		out[pid] = c
	}
	return out, rows.Err()
}
