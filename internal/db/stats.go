package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/tracker/internal/models"
)

// CountActiveIssues returns the number of active issues in projectIDs.
func (q *Queries) CountActiveIssues(ctx context.Context, projectIDs []string) (int, error) {
	projectIDs = dedupe(projectIDs)
	if len(projectIDs) == 0 {
		return 0, nil
	}
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issues WHERE is_active = 1 AND project_id IN (`+placeholders(len(projectIDs))+`)`,
		stringArgs(projectIDs)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active issues: %w", err)
	}
	return n, nil
}

// CountAssignedOpen returns the number of active issues assigned to userID
// whose status is open, in progress or reopened.
func (q *Queries) CountAssignedOpen(ctx context.Context, userID string) (int, error) {
	open := models.OpenStatuses()
	args := []any{userID}
	for _, s := range open {
		args = append(args, string(s))
	}
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issues
		 WHERE is_active = 1 AND assignee_id = ? AND status IN (`+placeholders(len(open))+`)`,
		args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assigned issues: %w", err)
	}
	return n, nil
}

// CountOverdue returns the number of active issues in projectIDs that are
// overdue at now. The decision is made by models.IsOverdue for every
// candidate row.
func (q *Queries) CountOverdue(ctx context.Context, projectIDs []string, now time.Time) (int, error) {
	projectIDs = dedupe(projectIDs)
	if len(projectIDs) == 0 {
		return 0, nil
	}
	rows, err := q.q.QueryContext(ctx,
		`SELECT due_date, status FROM issues
		 WHERE is_active = 1 AND due_date IS NOT NULL AND project_id IN (`+placeholders(len(projectIDs))+`)`,
		stringArgs(projectIDs)...)
	if err != nil {
		return 0, fmt.Errorf("count overdue: %w", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var due sql.NullTime
		var status models.Status
		if err := rows.Scan(&due, &status); err != nil {
			return 0, fmt.Errorf("scan overdue candidate: %w", err)
		}
		if !due.Valid {
			continue
		}
		d := due.Time
		if models.IsOverdue(&d, status, now) {
			n++
		}
	}
	return n, rows.Err()
}

// StatusCounts returns active issue counts per status for a project. Every
// status is present, zero-valued when no issue has it.
func (q *Queries) StatusCounts(ctx context.Context, projectID string) (map[models.Status]int, error) {
	out := make(map[models.Status]int)
	for _, s := range models.Statuses() {
		out[s] = 0
	}
	rows, err := q.q.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM issues WHERE is_active = 1 AND project_id = ? GROUP BY status`, projectID)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s models.Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[s] = n
	}
	return out, rows.Err()
}

// PriorityCounts returns active issue counts per priority for a project.
// Every priority is present.
func (q *Queries) PriorityCounts(ctx context.Context, projectID string) (map[models.Priority]int, error) {
	out := make(map[models.Priority]int)
	for _, p := range models.Priorities() {
		out[p] = 0
	}
	rows, err := q.q.QueryContext(ctx,
		`SELECT priority, COUNT(*) FROM issues WHERE is_active = 1 AND project_id = ? GROUP BY priority`, projectID)
	if err != nil {
		return nil, fmt.Errorf("priority counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.Priority
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, fmt.Errorf("scan priority count: %w", err)
		}
		out[p] = n
	}
	return out, rows.Err()
}

// Contributor is one row of a project's contributor ranking.
type Contributor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Reported int    `json:"reported"`
	Assigned int    `json:"assigned"`
	Total    int    `json:"total"`
}

// TopContributors ranks users by issues reported plus issues assigned among
// the project's active issues. Ties are broken by user ID.
func (q *Queries) TopContributors(ctx context.Context, projectID string, limit int) ([]Contributor, error) {
	query := `SELECT u.id, u.username, SUM(x.reported), SUM(x.assigned), SUM(x.reported) + SUM(x.assigned) AS total
		FROM (
			SELECT reporter_id AS user_id, 1 AS reported, 0 AS assigned
			FROM issues WHERE is_active = 1 AND project_id = ?
			UNION ALL
			SELECT assignee_id, 0, 1
			FROM issues WHERE is_active = 1 AND project_id = ? AND assignee_id IS NOT NULL
		) x
		JOIN users u ON u.id = x.user_id
		GROUP BY u.id, u.username
		ORDER BY total DESC, u.id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := q.q.QueryContext(ctx, query, projectID, projectID)
	if err != nil {
		return nil, fmt.Errorf("top contributors: %w", err)
	}
	defer rows.Close()
	out := []Contributor{}
	for rows.Next() {
		var c Contributor
		if err := rows.Scan(&c.UserID, &c.Username, &c.Reported, &c.Assigned, &c.Total); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
