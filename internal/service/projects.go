package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/policy"
)

// ProjectInput is the payload for creating a project.
type ProjectInput struct {
	Name        string
	Description string
	MemberIDs   []string
}

// ProjectPatch lists the fields an update changes. Nil fields are kept.
type ProjectPatch struct {
	Name        *string
	Description *string
	MemberIDs   *[]string // replaces the member set
}

// ProjectSummary is a project with its active issue counts.
type ProjectSummary struct {
	models.Project
	IssuesCount     int
	OpenIssuesCount int
}

// ProjectQuery narrows ListProjects.
type ProjectQuery struct {
	Mine    bool // only projects the principal created or belongs to
	Search  string
	OrderBy string
}

func validateProjectName(v *ValidationError, name string) {
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		v.Add("name", "required", name, "name is required")
	case n < models.ProjectNameMin:
		v.Add("name", "min_length", name, "name must be at least 3 characters")
	case n > models.ProjectNameMax:
		v.Add("name", "max_length", name, "name must be at most 200 characters")
	}
}

// CreateProject creates a project owned by p. Unknown or inactive member IDs
// are dropped.
func (s *Service) CreateProject(ctx context.Context, p models.Principal, in ProjectInput) (*ProjectSummary, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	v := &ValidationError{}
	validateProjectName(v, in.Name)
	if err := v.Err(); err != nil {
		return nil, err
	}

	members, err := s.db.ExistingUserIDs(ctx, in.MemberIDs)
	if err != nil {
		return nil, storeErr("create project", err)
	}
	project := &models.Project{
		Name:        in.Name,
		Description: in.Description,
		CreatedBy:   p.ID,
		MemberIDs:   members,
		CreatedAt:   s.Now(),
	}
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.CreateProject(ctx, project)
	})
	if err != nil {
		return nil, storeErr("create project", err)
	}
	s.log.Info("project created", "project", project.ID, "user", p.ID)
	return s.GetProject(ctx, p, project.ID)
}

// GetProject returns an active project.
func (s *Service) GetProject(ctx context.Context, p models.Principal, id string) (*ProjectSummary, error) {
	return s.getProject(ctx, p, id, false)
}

// AdminGetProject returns a project even when soft-deleted. Administrators only.
func (s *Service) AdminGetProject(ctx context.Context, p models.Principal, id string) (*ProjectSummary, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	if !p.IsAdministrator {
		return nil, denied(policy.Decision{Reason: "administrators only"})
	}
	return s.getProject(ctx, p, id, true)
}

func (s *Service) getProject(ctx context.Context, p models.Principal, id string, includeInactive bool) (*ProjectSummary, error) {
	project, err := s.db.GetProject(ctx, id, includeInactive)
	if err != nil {
		return nil, storeErr("get project", err)
	}
	if d := policy.Decide(p, policy.OpRead, policy.ProjectTarget{Project: project}); !d.Allowed {
		return nil, denied(d)
	}
	out, err := s.summarize(ctx, []models.Project{*project})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// ListProjects returns active projects, newest first by default.
func (s *Service) ListProjects(ctx context.Context, p models.Principal, q ProjectQuery) ([]ProjectSummary, error) {
	if err := requireActive(p); err != nil {
		return nil, err
	}
	f := db.ProjectFilter{Search: q.Search, OrderBy: q.OrderBy}
	if q.Mine {
		f.MemberOf = p.ID
	}
	projects, err := s.db.ListProjects(ctx, f)
	if err != nil {
		return nil, storeErr("list projects", err)
	}
	return s.summarize(ctx, projects)
}

func (s *Service) summarize(ctx context.Context, projects []models.Project) ([]ProjectSummary, error) {
	ids := make([]string, len(projects))
	for i := range projects {
		ids[i] = projects[i].ID
	}
	counts, err := s.db.IssueCountsByProject(ctx, ids)
	if err != nil {
		return nil, storeErr("count project issues", err)
	}
	out := make([]ProjectSummary, len(projects))
	for i := range projects {
		if projects[i].MemberIDs == nil {
			projects[i].MemberIDs = []string{}
		}
		c := counts[projects[i].ID]
		out[i] = ProjectSummary{Project: projects[i], IssuesCount: c.Total, OpenIssuesCount: c.Open}
	}
	return out, nil
}

// UpdateProject applies patch. The creator and members may update.
func (s *Service) UpdateProject(ctx context.Context, p models.Principal, id string, patch ProjectPatch) (*ProjectSummary, error) {
	project, err := s.db.GetProject(ctx, id, false)
	if err != nil {
		return nil, storeErr("update project", err)
	}
	if d := policy.Decide(p, policy.OpUpdate, policy.ProjectTarget{Project: project}); !d.Allowed {
		return nil, denied(d)
	}

	v := &ValidationError{}
	if patch.Name != nil {
		project.Name = strings.TrimSpace(*patch.Name)
		validateProjectName(v, project.Name)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	if patch.Description != nil {
		project.Description = *patch.Description
	}
	if patch.MemberIDs != nil {
		members, err := s.db.ExistingUserIDs(ctx, *patch.MemberIDs)
		if err != nil {
			return nil, storeErr("update project", err)
		}
		project.MemberIDs = members
	}
	project.UpdatedAt = s.Now()

	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.UpdateProject(ctx, project, patch.MemberIDs != nil)
	})
	if err != nil {
		return nil, storeErr("update project", err)
	}
	return s.GetProject(ctx, p, id)
}

// DeleteProject soft-deletes a project. Only the creator may delete; the
// project's issues keep their own active flag.
func (s *Service) DeleteProject(ctx context.Context, p models.Principal, id string) error {
	project, err := s.db.GetProject(ctx, id, false)
	if err != nil {
		return storeErr("delete project", err)
	}
	if d := policy.Decide(p, policy.OpDelete, policy.ProjectTarget{Project: project}); !d.Allowed {
		return denied(d)
	}
	err = s.db.WithTx(ctx, func(tx *db.Queries) error {
		return tx.SetProjectActive(ctx, id, false, s.Now())
	})
	if err != nil {
		return storeErr("delete project", err)
	}
	s.log.Info("project deleted", "project", id, "user", p.ID)
	return nil
}
