package service

import (
	"context"
	"encoding/json"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/policy"
)

// BulkResult reports what a bulk update changed.
type BulkResult struct {
	UpdatedCount int
	Issues       []IssueDetail
}

// BulkUpdateIssues applies the same field changes to many issues.
//
// The batch is best effort, not atomic. Each ID is handled on its own, in
// input order with duplicates removed: missing or inactive issues and issues
// p may not update are skipped without error, and every applied update
// (with its status activity) commits in its own transaction. A failure on
// one item is logged and the loop moves on, so a crash mid-batch leaves the
// items already processed committed.
//
// Only BulkFields are read from raw. Protected and unknown names are
// ignored; a field with an invalid value is dropped and the remaining
// fields still apply. The call fails only when ids or the usable patch is
// empty.
func (s *Service) BulkUpdateIssues(ctx context.Context, p models.Principal, ids []string, raw map[string]json.RawMessage) (*BulkResult, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	v := &ValidationError{}
	if len(ids) == 0 {
		v.Add("issue_ids", "required", nil, "issue_ids is required")
	}
	if len(raw) == 0 {
		v.Add("updates", "required", nil, "updates is required")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	patch, dropped := DecodeIssuePatch(raw, BulkFields)
	for _, fe := range dropped.Fields {
		s.log.Warn("bulk update: dropping invalid field", "field", fe.Field, "value", fe.Value, "reason", fe.Message)
	}
	if patch.IsEmpty() {
		return nil, invalid("updates", "no_fields", nil, "updates contains no applicable fields")
	}

	res := &BulkResult{Issues: []IssueDetail{}}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		updated, ok := s.bulkApply(ctx, p, id, patch)
		if !ok {
			continue
		}
		res.UpdatedCount++
		res.Issues = append(res.Issues, *updated)
	}
	s.log.Info("bulk update", "user", p.ID, "requested", len(ids), "updated", res.UpdatedCount)
	return res, nil
}

// bulkApply updates one issue and reports whether it changed.
func (s *Service) bulkApply(ctx context.Context, p models.Principal, id string, patch IssuePatch) (*IssueDetail, bool) {
	issue, project, err := s.loadIssue(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			s.log.Warn("bulk update: load failed", "issue", id, "err", err)
		}
		return nil, false
	}
	if !policy.Allowed(p, policy.OpUpdate, policy.IssueTarget{Issue: issue, Project: project}) {
		return nil, false
	}

	item := patch
	before := *issue
	if err := s.applyPatch(ctx, issue, &item, false); err != nil {
		s.log.Warn("bulk update: apply failed", "issue", id, "err", err)
		return nil, false
	}
	if item.IsEmpty() {
		return nil, false
	}
	now := s.Now()
	issue.UpdatedAt = now

	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return s.writeIssue(ctx, tx, p, &before, issue, &item, now)
	})
	if err != nil {
		s.log.Warn("bulk update: write failed", "issue", id, "err", err)
		return nil, false
	}

	out, err := s.details(ctx, []models.Issue{*issue})
	if err != nil {
		// Committed already; report it without the decorations.
		s.log.Warn("bulk update: reload failed", "issue", id, "err", err)
		return &IssueDetail{Issue: *issue, Labels: []models.Label{}, IsOverdue: issue.IsOverdue(now)}, true
	}
	return &out[0], true
}
