package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/models"
)

const labelColumns = `id, name, color, description, created_at`

func scanLabel(row interface{ Scan(...any) error }) (*models.Label, error) {
	var l models.Label
	if err := row.Scan(&l.ID, &l.Name, &l.Color, &l.Description, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLabel inserts a label. A duplicate name fails with a UNIQUE
// constraint error; see IsUniqueViolation.
func (q *Queries) CreateLabel(ctx context.Context, l *models.Label) error {
	id, err := generateID(labelIDPrefix)
	if err != nil {
		return fmt.Errorf("generate label id: %w", err)
	}
	l.ID = id
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO labels (id, name, color, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Color, l.Description, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert label: %w", err)
	}
	return nil
}

// GetLabel returns the label with the given ID.
func (q *Queries) GetLabel(ctx context.Context, id string) (*models.Label, error) {
	l, err := scanLabel(q.q.QueryRowContext(ctx, `SELECT `+labelColumns+` FROM labels WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("label %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get label: %w", err)
	}
	return l, nil
}

// UpdateLabel writes name, color and description.
func (q *Queries) UpdateLabel(ctx context.Context, l *models.Label) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE labels SET name = ?, color = ?, description = ? WHERE id = ?`,
		l.Name, l.Color, l.Description, l.ID)
	if err != nil {
		return fmt.Errorf("update label: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("label %s: %w", l.ID, ErrNotFound)
	}
	return nil
}

// DeleteLabel removes a label and, through the cascade, its issue links.
func (q *Queries) DeleteLabel(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM labels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("label %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListLabels returns labels ordered by name, optionally filtered by a
// case-insensitive name substring.
func (q *Queries) ListLabels(ctx context.Context, search string) ([]models.Label, error) {
	query := `SELECT ` + labelColumns + ` FROM labels`
	var args []any
	if s := strings.TrimSpace(search); s != "" {
		query += ` WHERE fold(name) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(s))
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()
	labels := []models.Label{}
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, *l)
	}
	return labels, rows.Err()
}

// GetLabelsByIDs returns the labels with the given IDs keyed by ID.
func (q *Queries) GetLabelsByIDs(ctx context.Context, ids []string) (map[string]*models.Label, error) {
	ids = dedupe(ids)
	out := make(map[string]*models.Label, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+labelColumns+` FROM labels WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get labels: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out[l.ID] = l
	}
	return out, rows.Err()
}

// ExistingLabelIDs filters ids down to known labels, preserving order.
func (q *Queries) ExistingLabelIDs(ctx context.Context, ids []string) ([]string, error) {
	labels, err := q.GetLabelsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, id := range dedupe(ids) {
		if _, ok := labels[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// SetIssueLabels replaces the label set of an issue. Links that survive keep
// their original added_by and added_at.
func (q *Queries) SetIssueLabels(ctx context.Context, issueID string, labelIDs []string, addedBy string, now time.Time) error {
	labelIDs = dedupe(labelIDs)
	if len(labelIDs) == 0 {
		if _, err := q.q.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id = ?`, issueID); err != nil {
			return fmt.Errorf("clear issue labels: %w", err)
		}
		return nil
	}
	args := append([]any{issueID}, stringArgs(labelIDs)...)
	if _, err := q.q.ExecContext(ctx,
		`DELETE FROM issue_labels WHERE issue_id = ? AND label_id NOT IN (`+placeholders(len(labelIDs))+`)`,
		args...); err != nil {
		return fmt.Errorf("prune issue labels: %w", err)
	}
	for _, lid := range labelIDs {
		if _, err := q.q.ExecContext(ctx,
			`INSERT INTO issue_labels (issue_id, label_id, added_by, added_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(issue_id, label_id) DO NOTHING`,
			issueID, lid, addedBy, now.UTC()); err != nil {
			return fmt.Errorf("add issue label: %w", err)
		}
	}
	return nil
}

// ListIssueLabels returns the label links of an issue, oldest first.
func (q *Queries) ListIssueLabels(ctx context.Context, issueID string) ([]models.IssueLabel, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT issue_id, label_id, added_by, added_at FROM issue_labels
		 WHERE issue_id = ? ORDER BY added_at, label_id`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list issue labels: %w", err)
	}
	defer rows.Close()
	links := []models.IssueLabel{}
	for rows.Next() {
		var l models.IssueLabel
		if err := rows.Scan(&l.IssueID, &l.LabelID, &l.AddedBy, &l.AddedAt); err != nil {
			return nil, fmt.Errorf("scan issue label: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
