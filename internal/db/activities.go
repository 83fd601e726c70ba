package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/models"
)

const activityColumns = `id, action, description, user_id, issue_id, project_id, created_at`

// InsertActivity appends an activity row. Activities are never updated.
func (q *Queries) InsertActivity(ctx context.Context, a *models.Activity) error {
	id, err := generateID(activityIDPrefix)
	if err != nil {
		return fmt.Errorf("generate activity id: %w", err)
	}
	a.ID = id
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO activities (id, action, description, user_id, issue_id, project_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Action), a.Description, a.UserID, a.IssueID, a.ProjectID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ActivityFilter narrows ListActivities. Empty fields match everything.
type ActivityFilter struct {
	ProjectIDs []string // nil means every project; empty non-nil means none
	IssueID    string
	Action     models.ActivityAction
	Limit      int
}

// ListActivities returns activities newest first. Rows with equal
// timestamps come back in reverse insertion order.
func (q *Queries) ListActivities(ctx context.Context, f ActivityFilter) ([]models.Activity, error) {
	var conds []string
	var args []any
	if f.ProjectIDs != nil {
		ids := dedupe(f.ProjectIDs)
		if len(ids) == 0 {
			return []models.Activity{}, nil
		}
		conds = append(conds, "project_id IN ("+placeholders(len(ids))+")")
		args = append(args, stringArgs(ids)...)
	}
	if f.IssueID != "" {
		conds = append(conds, "issue_id = ?")
		args = append(args, f.IssueID)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(f.Action))
	}

	query := `SELECT ` + activityColumns + ` FROM activities`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()
	out := []models.Activity{}
	for rows.Next() {
		var a models.Activity
		if err := rows.Scan(&a.ID, &a.Action, &a.Description, &a.UserID, &a.IssueID, &a.ProjectID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteActivitiesBefore purges activities older than cutoff. Only the
// maintenance command calls it. With dryRun it only counts.
func (q *Queries) DeleteActivitiesBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int, error) {
	if dryRun {
		var n int
		if err := q.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activities WHERE created_at < ?`, cutoff.UTC()).Scan(&n); err != nil {
			return 0, fmt.Errorf("count old activities: %w", err)
		}
		return n, nil
	}
	res, err := q.q.ExecContext(ctx, `DELETE FROM activities WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old activities: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
