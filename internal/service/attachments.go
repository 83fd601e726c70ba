package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/marcus/tracker/internal/blob"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/policy"
)

// ErrNoBlobStore is returned by attachment operations when the service was
// built without a blob store.
var ErrNoBlobStore = errors.New("attachment storage is not configured")

// UploadAttachment stores r in blob storage and records its metadata on an
// active issue. The blob is removed again if the metadata write fails.
func (s *Service) UploadAttachment(ctx context.Context, p models.Principal, issueID, filename string, r io.Reader) (*models.Attachment, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	issue, err := s.db.GetIssue(ctx, issueID, false)
	if err != nil {
		return nil, storeErr("upload attachment", err)
	}
	name := blob.SafeName(filename)
	if filename == "" {
		return nil, invalid("file", "required", filename, "a file is required")
	}
	if utf8.RuneCountInString(name) > models.FilenameMax {
		return nil, invalid("file", "max_length", name, "filename must be at most 255 characters")
	}

	key, size, err := s.blobs.Put(ctx, name, r)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	a := &models.Attachment{
		IssueID:    issue.ID,
		Filename:   name,
		Size:       size,
		BlobKey:    key,
		UploadedBy: p.ID,
		UploadedAt: s.Now(),
	}
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.CreateAttachment(ctx, a)
	})
	if err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.log.Warn("remove orphaned blob", "key", key, "err", derr)
		}
		return nil, storeErr("upload attachment", err)
	}
	return a, nil
}

// ListAttachments returns the attachments of an active issue, newest first.
func (s *Service) ListAttachments(ctx context.Context, p models.Principal, issueID string) ([]models.Attachment, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	if _, err := s.db.GetIssue(ctx, issueID, false); err != nil {
		return nil, storeErr("list attachments", err)
	}
	out, err := s.db.ListAttachments(ctx, issueID)
	if err != nil {
		return nil, storeErr("list attachments", err)
	}
	return out, nil
}

// OpenAttachment returns the attachment metadata and a reader for its bytes.
func (s *Service) OpenAttachment(ctx context.Context, p models.Principal, id string) (*models.Attachment, io.ReadCloser, error) {
	if err := requireActive(p); err != nil {
		return nil, nil, err
	}
	if s.blobs == nil {
		return nil, nil, ErrNoBlobStore
	}
	a, err := s.db.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, storeErr("open attachment", err)
	}
	rc, err := s.blobs.Open(ctx, a.BlobKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil, fmt.Errorf("open attachment: %w", ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open attachment: %w", err)
	}
	return a, rc, nil
}

// DeleteAttachment removes an attachment. The uploader and anyone allowed to
// update the issue may delete it. A blob that cannot be removed is logged
// and left behind.
func (s *Service) DeleteAttachment(ctx context.Context, p models.Principal, id string) error {
	a, err := s.db.GetAttachment(ctx, id)
	if err != nil {
		return storeErr("delete attachment", err)
	}
	issue, err := s.db.GetIssue(ctx, a.IssueID, true)
	if err != nil {
		return storeErr("delete attachment", err)
	}
	project, err := s.db.GetProject(ctx, issue.ProjectID, true)
	if err != nil {
		return storeErr("delete attachment", err)
	}
	target := policy.AttachmentTarget{Attachment: a, Issue: issue, Project: project}
	if d := policy.Decide(p, policy.OpDelete, target); !d.Allowed {
		return denied(d)
	}
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.DeleteAttachment(ctx, id)
	})
	if err != nil {
		return storeErr("delete attachment", err)
	}
	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, a.BlobKey); err != nil {
			s.log.Warn("remove attachment blob", "attachment", id, "key", a.BlobKey, "err", err)
		}
	}
	return nil
}
