// Package aggregate computes read-only views from current state: the
// dashboard, project analytics and global search. Nothing here is cached or
// materialized; every call queries the store.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/policy"
	"github.com/marcus/tracker/internal/service"
)

// Result caps.
const (
	DashboardActivities = 10
	AnalyticsActivities = 20
	TopContributors     = 10
	SearchProjects      = 10
	SearchIssues        = 20
	SearchComments      = 15
	MinQueryLength      = 3
)

// Engine runs aggregate queries against the store.
type Engine struct {
	db  *db.DB
	now func() time.Time
}

// New returns an Engine. A nil now uses time.Now.
func New(database *db.DB, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{db: database, now: now}
}

// Dashboard is the per-principal overview.
type Dashboard struct {
	TotalProjects    int
	TotalIssues      int
	AssignedIssues   int
	OverdueIssues    int
	RecentActivities []models.Activity
}

// Dashboard counts the principal's projects and their active issues, the
// open issues assigned to the principal, the overdue issues in those
// projects, and lists the latest activities there.
func (e *Engine) Dashboard(ctx context.Context, p models.Principal) (*Dashboard, error) {
	if !policy.Allowed(p, policy.OpRead, policy.LabelTarget{}) {
		return nil, service.ErrForbidden
	}
	projectIDs, err := e.db.MemberProjectIDs(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	if projectIDs == nil {
		projectIDs = []string{}
	}
	now := e.now().UTC()
	out := &Dashboard{TotalProjects: len(projectIDs)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.db.CountActiveIssues(gctx, projectIDs)
		out.TotalIssues = n
		return err
	})
	g.Go(func() error {
		n, err := e.db.CountAssignedOpen(gctx, p.ID)
		out.AssignedIssues = n
		return err
	})
	g.Go(func() error {
		n, err := e.db.CountOverdue(gctx, projectIDs, now)
		out.OverdueIssues = n
		return err
	})
	g.Go(func() error {
		acts, err := e.db.ListActivities(gctx, db.ActivityFilter{ProjectIDs: projectIDs, Limit: DashboardActivities})
		out.RecentActivities = acts
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	return out, nil
}

// Analytics is the statistical view of one project.
type Analytics struct {
	ProjectID            string
	ProjectName          string
	TotalIssues          int
	StatusDistribution   map[models.Status]int
	PriorityDistribution map[models.Priority]int
	OverdueIssues        int
	RecentActivities     []models.Activity
	TopContributors      []db.Contributor
}

// ProjectAnalytics returns analytics for an active project. Only the
// creator and members may see them.
func (e *Engine) ProjectAnalytics(ctx context.Context, p models.Principal, projectID string) (*Analytics, error) {
	project, err := e.db.GetProject(ctx, projectID, false)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("project analytics: %w", service.ErrNotFound)
		}
		return nil, fmt.Errorf("project analytics: %w", err)
	}
	if !policy.CanViewProjectAnalytics(p, project) {
		return nil, fmt.Errorf("%w: not a project member", service.ErrForbidden)
	}

	now := e.now().UTC()
	ids := []string{project.ID}
	out := &Analytics{ProjectID: project.ID, ProjectName: project.Name}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.db.CountActiveIssues(gctx, ids)
		out.TotalIssues = n
		return err
	})
	g.Go(func() error {
		m, err := e.db.StatusCounts(gctx, project.ID)
		out.StatusDistribution = m
		return err
	})
	g.Go(func() error {
		m, err := e.db.PriorityCounts(gctx, project.ID)
		out.PriorityDistribution = m
		return err
	})
	g.Go(func() error {
		n, err := e.db.CountOverdue(gctx, ids, now)
		out.OverdueIssues = n
		return err
	})
	g.Go(func() error {
		acts, err := e.db.ListActivities(gctx, db.ActivityFilter{ProjectIDs: ids, Limit: AnalyticsActivities})
		out.RecentActivities = acts
		return err
	})
	g.Go(func() error {
		top, err := e.db.TopContributors(gctx, project.ID, TopContributors)
		out.TopContributors = top
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("project analytics: %w", err)
	}
	return out, nil
}

// SearchResults holds capped matches per entity kind.
//
// TotalResults is the sum of the three capped result sizes, not the number
// of matches in the store.
type SearchResults struct {
	Query        string
	Projects     []models.Project
	Issues       []models.Issue
	Comments     []models.Comment
	TotalResults int
}

// Search finds projects, issues and comments containing query
// (case-insensitive) within the projects the principal created or belongs
// to. The trimmed query must be at least three characters.
func (e *Engine) Search(ctx context.Context, p models.Principal, query string) (*SearchResults, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		v := &service.ValidationError{}
		v.Add("q", "min_length", query, "search query must be at least 3 characters")
		return nil, v
	}
	if !policy.Allowed(p, policy.OpRead, policy.LabelTarget{}) {
		return nil, service.ErrForbidden
	}
	projectIDs, err := e.db.MemberProjectIDs(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if projectIDs == nil {
		projectIDs = []string{}
	}

	out := &SearchResults{Query: query}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		projects, err := e.db.ListProjects(gctx, db.ProjectFilter{MemberOf: p.ID, Search: query, Limit: SearchProjects})
		out.Projects = projects
		return err
	})
	g.Go(func() error {
		issues, err := e.db.ListIssues(gctx, db.IssueFilter{ProjectIDs: projectIDs, Search: query, Limit: SearchIssues})
		out.Issues = issues
		return err
	})
	g.Go(func() error {
		comments, err := e.db.SearchComments(gctx, projectIDs, query, SearchComments)
		out.Comments = comments
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if out.Projects == nil {
		out.Projects = []models.Project{}
	}
	out.TotalResults = len(out.Projects) + len(out.Issues) + len(out.Comments)
	return out, nil
}
