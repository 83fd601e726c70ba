package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/models"
)

const commentColumns = `c.id, c.issue_id, c.author_id, c.parent_id, c.content, c.is_edited, c.created_at, c.updated_at`

func scanComment(row interface{ Scan(...any) error }) (*models.Comment, error) {
	var c models.Comment
	var parent sql.NullString
	err := row.Scan(&c.ID, &c.IssueID, &c.AuthorID, &parent, &c.Content, &c.IsEdited, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ParentID = parent.String
	return &c, nil
}

func (q *Queries) scanComments(rows *sql.Rows) ([]models.Comment, error) {
	defer rows.Close()
	comments := []models.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

// CreateComment inserts a comment.
func (q *Queries) CreateComment(ctx context.Context, c *models.Comment) error {
	id, err := generateID(commentIDPrefix)
	if err != nil {
		return fmt.Errorf("generate comment id: %w", err)
	}
	c.ID = id
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	c.IsEdited = false

	_, err = q.q.ExecContext(ctx,
		`INSERT INTO comments (id, issue_id, author_id, parent_id, content, is_edited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		c.ID, c.IssueID, c.AuthorID, nullString(c.ParentID), c.Content, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// GetComment returns the comment with the given ID.
func (q *Queries) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	c, err := scanComment(q.q.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments c WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

// UpdateComment writes content, is_edited and updated_at.
func (q *Queries) UpdateComment(ctx context.Context, c *models.Comment) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE comments SET content = ?, is_edited = ?, updated_at = ? WHERE id = ?`,
		c.Content, c.IsEdited, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("comment %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

// DeleteComment removes a comment. Replies are removed by the foreign key cascade.
func (q *Queries) DeleteComment(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListComments returns every comment on an issue, oldest first.
func (q *Queries) ListComments(ctx context.Context, issueID string) ([]models.Comment, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments c WHERE c.issue_id = ? ORDER BY c.created_at ASC, c.id ASC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	comments, err := q.scanComments(rows)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// SearchComments returns comments whose content contains text
// (case-insensitive), restricted to active issues in projectIDs, newest first.
func (q *Queries) SearchComments(ctx context.Context, projectIDs []string, text string, limit int) ([]models.Comment, error) {
	projectIDs = dedupe(projectIDs)
	text = strings.TrimSpace(text)
	if len(projectIDs) == 0 || text == "" {
		return []models.Comment{}, nil
	}
	args := append([]any{likePattern(text)}, stringArgs(projectIDs)...)
	query := `SELECT ` + commentColumns + ` FROM comments c
		JOIN issues i ON i.id = c.issue_id
		WHERE fold(c.content) LIKE ? ESCAPE '\'
		  AND i.is_active = 1
		  AND i.project_id IN (` + placeholders(len(projectIDs)) + `)
		ORDER BY c.created_at DESC, c.id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search comments: %w", err)
	}
	comments, err := q.scanComments(rows)
	if err != nil {
		return nil, fmt.Errorf("search comments: %w", err)
	}
	return comments, nil
}
