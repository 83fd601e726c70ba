// Package activity appends the immutable audit trail of tracked mutations.
//
// A Recorder always writes through the transaction of the mutation it
// documents: if the insert fails the caller returns the error and the whole
// transaction rolls back, so an entity change is never visible without its
// activity row (or the reverse). The recorder does not check permissions;
// callers authorize before they mutate.
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
)

// Entry describes one activity to append.
type Entry struct {
	Action      models.ActivityAction
	Description string
	Principal   models.Principal
	IssueID     string
	ProjectID   string
	At          time.Time
}

// Recorder appends activities inside a caller-owned transaction.
type Recorder interface {
	Record(ctx context.Context, tx *db.Queries, e Entry) (*models.Activity, error)
}

// SQLRecorder writes activities to the activities table.
type SQLRecorder struct{}

// NewRecorder returns the default store-backed recorder.
func NewRecorder() *SQLRecorder {
	return &SQLRecorder{}
}

// Record validates the entry and inserts it through tx.
func (SQLRecorder) Record(ctx context.Context, tx *db.Queries, e Entry) (*models.Activity, error) {
	if !models.IsValidAction(e.Action) {
		return nil, fmt.Errorf("record activity: unknown action %q", e.Action)
	}
	if e.IssueID == "" || e.ProjectID == "" || e.Principal.ID == "" {
		return nil, fmt.Errorf("record activity: issue, project and user are required")
	}
	a := &models.Activity{
		Action:      e.Action,
		Description: e.Description,
		UserID:      e.Principal.ID,
		IssueID:     e.IssueID,
		ProjectID:   e.ProjectID,
		CreatedAt:   e.At.UTC(),
	}
	if err := tx.InsertActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("record activity: %w", err)
	}
	return a, nil
}

// Created describes the creation of an issue.
func Created(title string) string {
	return `Created issue "` + strings.TrimSpace(title) + `"`
}

// StatusChanged describes a status transition using display labels.
func StatusChanged(from, to models.Status) string {
	return fmt.Sprintf("Changed status from %s to %s", from.Label(), to.Label())
}

// PriorityChanged describes a priority transition using display labels.
func PriorityChanged(from, to models.Priority) string {
	return fmt.Sprintf("Changed priority from %s to %s", from.Label(), to.Label())
}

// Assigned describes an assignee change. An empty name means unassigned.
func Assigned(name string) string {
	if name == "" {
		return "Removed assignee"
	}
	return "Assigned to " + name
}
