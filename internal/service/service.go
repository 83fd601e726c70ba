// Package service applies authorized mutations to projects, issues and their
// dependents. Every single-entity write and the activity it produces share
// one transaction; reads go straight to the store.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcus/tracker/internal/activity"
	"github.com/marcus/tracker/internal/blob"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/policy"
)

// Options configures a Service. Zero values select the defaults.
type Options struct {
	Recorder activity.Recorder
	Blobs    blob.Store
	Now      func() time.Time
	Logger   *slog.Logger
}

// Service is the mutation entry point used by the HTTP layer and the CLI.
type Service struct {
	db    *db.DB
	rec   activity.Recorder
	blobs blob.Store
	now   func() time.Time
	log   *slog.Logger
}

// New returns a Service backed by database.
func New(database *db.DB, opts Options) *Service {
	s := &Service{
		db:    database,
		rec:   opts.Recorder,
		blobs: opts.Blobs,
		now:   opts.Now,
		log:   opts.Logger,
	}
	if s.rec == nil {
		s.rec = activity.NewRecorder()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// DB exposes the underlying store for read-only collaborators.
func (s *Service) DB() *db.DB {
	return s.db
}

// requireActive rejects principals that policy would deny everything.
func requireActive(p models.Principal) error {
	if d := policy.Decide(p, policy.OpRead, policy.LabelTarget{}); !d.Allowed {
		return denied(d)
	}
	return nil
}

// loadIssue returns an active issue together with its project. The project
// is loaded even when inactive because membership rules still apply.
func (s *Service) loadIssue(ctx context.Context, id string) (*models.Issue, *models.Project, error) {
	issue, err := s.db.GetIssue(ctx, id, false)
	if err != nil {
		return nil, nil, storeErr("load issue", err)
	}
	project, err := s.db.GetProject(ctx, issue.ProjectID, true)
	if err != nil {
		return nil, nil, storeErr("load issue project", err)
	}
	return issue, project, nil
}
