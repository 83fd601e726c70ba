package service

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/policy"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// LabelInput is the payload for creating a label.
type LabelInput struct {
	Name        string
	Color       string
	Description string
}

// LabelPatch lists the label fields an update changes.
type LabelPatch struct {
	Name        *string
	Color       *string
	Description *string
}

func validateLabel(l *models.Label) error {
	v := &ValidationError{}
	n := utf8.RuneCountInString(l.Name)
	switch {
	case n == 0:
		v.Add("name", "required", l.Name, "name is required")
	case n > models.LabelNameMax:
		v.Add("name", "max_length", l.Name, "name must be at most 50 characters")
	}
	if !hexColor.MatchString(l.Color) {
		v.Add("color", "format", l.Color, "color must look like #rrggbb")
	}
	return v.Err()
}

func duplicateLabel(name string) error {
	return invalid("name", "unique", name, "a label with this name already exists")
}

// CreateLabel creates a global label. Administrators only.
func (s *Service) CreateLabel(ctx context.Context, p models.Principal, in LabelInput) (*models.Label, error) {
	if d := policy.Decide(p, policy.OpUpdate, policy.LabelTarget{}); !d.Allowed {
		return nil, denied(d)
	}
	l := &models.Label{
		Name:        strings.TrimSpace(in.Name),
		Color:       strings.TrimSpace(in.Color),
		Description: in.Description,
		CreatedAt:   s.Now(),
	}
	if l.Color == "" {
		l.Color = models.DefaultLabelHex
	}
	if err := validateLabel(l); err != nil {
		return nil, err
	}
	err := s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.CreateLabel(ctx, l)
	})
	if db.IsUniqueViolation(err) {
		return nil, duplicateLabel(l.Name)
	}
	if err != nil {
		return nil, storeErr("create label", err)
	}
	return l, nil
}

// GetLabel returns a label by ID.
func (s *Service) GetLabel(ctx context.Context, p models.Principal, id string) (*models.Label, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	l, err := s.db.GetLabel(ctx, id)
	if err != nil {
		return nil, storeErr("get label", err)
	}
	return l, nil
}

// ListLabels returns labels ordered by name.
func (s *Service) ListLabels(ctx context.Context, p models.Principal, search string) ([]models.Label, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	labels, err := s.db.ListLabels(ctx, search)
	if err != nil {
		return nil, storeErr("list labels", err)
	}
	return labels, nil
}

// UpdateLabel applies patch to a label. Administrators only.
func (s *Service) UpdateLabel(ctx context.Context, p models.Principal, id string, patch LabelPatch) (*models.Label, error) {
	if d := policy.Decide(p, policy.OpUpdate, policy.LabelTarget{}); !d.Allowed {
		return nil, denied(d)
	}
	l, err := s.db.GetLabel(ctx, id)
	if err != nil {
		return nil, storeErr("update label", err)
	}
	if patch.Name != nil {
		l.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Color != nil {
		l.Color = strings.TrimSpace(*patch.Color)
	}
	if patch.Description != nil {
		l.Description = *patch.Description
	}
	if err := validateLabel(l); err != nil {
		return nil, err
	}
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.UpdateLabel(ctx, l)
	})
	if db.IsUniqueViolation(err) {
		return nil, duplicateLabel(l.Name)
	}
	if err != nil {
		return nil, storeErr("update label", err)
	}
	return l, nil
}

// DeleteLabel removes a label and detaches it from every issue.
// Administrators only.
func (s *Service) DeleteLabel(ctx context.Context, p models.Principal, id string) error {
	if d := policy.Decide(p, policy.OpDelete, policy.LabelTarget{}); !d.Allowed {
		return denied(d)
	}
	err := s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.DeleteLabel(ctx, id)
	})
	if err != nil {
		return storeErr("delete label", err)
	}
	return nil
}
