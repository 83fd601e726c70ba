package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/tracker/internal/models"
)

const attachmentColumns = `id, issue_id, filename, file_size, blob_key, uploaded_by, uploaded_at`

func scanAttachment(row interface{ Scan(...any) error }) (*models.Attachment, error) {
	var a models.Attachment
	if err := row.Scan(&a.ID, &a.IssueID, &a.Filename, &a.Size, &a.BlobKey, &a.UploadedBy, &a.UploadedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAttachment inserts attachment metadata. The bytes must already be
// stored under a.BlobKey.
func (q *Queries) CreateAttachment(ctx context.Context, a *models.Attachment) error {
	id, err := generateID(attachmentIDPrefix)
	if err != nil {
		return fmt.Errorf("generate attachment id: %w", err)
	}
	a.ID = id
	if a.UploadedAt.IsZero() {
		a.UploadedAt = time.Now().UTC()
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO attachments (id, issue_id, filename, file_size, blob_key, uploaded_by, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.IssueID, a.Filename, a.Size, a.BlobKey, a.UploadedBy, a.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// GetAttachment returns the attachment with the given ID.
func (q *Queries) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	a, err := scanAttachment(q.q.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

// ListAttachments returns the attachments of an issue, newest first.
func (q *Queries) ListAttachments(ctx context.Context, issueID string) ([]models.Attachment, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE issue_id = ? ORDER BY uploaded_at DESC, id DESC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()
	out := []models.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteAttachment removes attachment metadata.
func (q *Queries) DeleteAttachment(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	return nil
}
