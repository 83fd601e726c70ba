package service

import (
	"context"
	"strings"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/policy"
)

// CommentNode is a comment with its direct replies, oldest first.
type CommentNode struct {
	models.Comment
	Replies []CommentNode
}

// CreateComment adds a comment to an active issue. A parent, when given,
// must be a comment on the same issue.
func (s *Service) CreateComment(ctx context.Context, p models.Principal, issueID, content, parentID string) (*models.Comment, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	issue, err := s.db.GetIssue(ctx, issueID, false)
	if err != nil {
		return nil, storeErr("create comment", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content", "required", content, "content is required")
	}
	if parentID != "" {
		parent, err := s.db.GetComment(ctx, parentID)
		if err != nil {
			if isNotFound(err) {
				return nil, invalid("parent_id", "exists", parentID, "parent comment does not exist")
			}
			return nil, storeErr("create comment", err)
		}
		if parent.IssueID != issue.ID {
			return nil, invalid("parent_id", "same_issue", parentID, "parent comment belongs to a different issue")
		}
	}

	c := &models.Comment{
		IssueID:   issue.ID,
		AuthorID:  p.ID,
		ParentID:  parentID,
		Content:   content,
		CreatedAt: s.Now(),
	}
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.CreateComment(ctx, c)
	})
	if err != nil {
		return nil, storeErr("create comment", err)
	}
	return c, nil
}

// GetComment returns a comment by ID.
func (s *Service) GetComment(ctx context.Context, p models.Principal, id string) (*models.Comment, error) {
	c, err := s.db.GetComment(ctx, id)
	if err != nil {
		return nil, storeErr("get comment", err)
	}
	if d := policy.Decide(p, policy.OpRead, policy.CommentTarget{Comment: c}); !d.Allowed {
		return nil, denied(d)
	}
	return c, nil
}

// UpdateComment replaces the content of a comment. Only the author may edit;
// a changed content marks the comment edited.
func (s *Service) UpdateComment(ctx context.Context, p models.Principal, id, content string) (*models.Comment, error) {
	c, err := s.db.GetComment(ctx, id)
	if err != nil {
		return nil, storeErr("update comment", err)
	}
	if d := policy.Decide(p, policy.OpUpdate, policy.CommentTarget{Comment: c}); !d.Allowed {
		return nil, denied(d)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content", "required", content, "content is required")
	}
	if content != c.Content {
		c.Content = content
		c.IsEdited = true
	}
	c.UpdatedAt = s.Now()
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.UpdateComment(ctx, c)
	})
	if err != nil {
		return nil, storeErr("update comment", err)
	}
	return c, nil
}

// DeleteComment removes a comment and its replies. Only the author may delete.
func (s *Service) DeleteComment(ctx context.Context, p models.Principal, id string) error {
	c, err := s.db.GetComment(ctx, id)
	if err != nil {
		return storeErr("delete comment", err)
	}
	if d := policy.Decide(p, policy.OpDelete, policy.CommentTarget{Comment: c}); !d.Allowed {
		return denied(d)
	}
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.DeleteComment(ctx, id)
	})
	if err != nil {
		return storeErr("delete comment", err)
	}
	return nil
}

// ListComments returns the comment tree of an active issue. Top-level
// comments and replies are both oldest first.
func (s *Service) ListComments(ctx context.Context, p models.Principal, issueID string) ([]CommentNode, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	if _, err := s.db.GetIssue(ctx, issueID, false); err != nil {
		return nil, storeErr("list comments", err)
	}
	comments, err := s.db.ListComments(ctx, issueID)
	if err != nil {
		return nil, storeErr("list comments", err)
	}
	return buildTree(comments), nil
}

func buildTree(comments []models.Comment) []CommentNode {
	children := make(map[string][]models.Comment)
	known := make(map[string]bool, len(comments))
	for _, c := range comments {
		known[c.ID] = true
	}
	var roots []models.Comment
	for _, c := range comments {
		if c.ParentID != "" && known[c.ParentID] {
			children[c.ParentID] = append(children[c.ParentID], c)
			continue
		}
		roots = append(roots, c)
	}
	var build func(c models.Comment) CommentNode
	build = func(c models.Comment) CommentNode {
		n := CommentNode{Comment: c, Replies: []CommentNode{}}
		for _, child := range children[c.ID] {
			n.Replies = append(n.Replies, build(child))
		}
		return n
	}
	out := make([]CommentNode, 0, len(roots))
	for _, c := range roots {
		out = append(out, build(c))
	}
	return out
}
