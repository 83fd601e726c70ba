package serve

import (
	"net/http"

	"github.com/marcus/tracker/internal/service"
)

// ============================================================================
// /v1/projects
// ============================================================================

// ProjectCreateBody is the JSON body for POST /v1/projects.
type ProjectCreateBody struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"member_ids"`
}

// ProjectUpdateBody is the JSON body for PATCH /v1/projects/{id}. A present
// member_ids replaces the member set.
type ProjectUpdateBody struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	MemberIDs   *[]string `json:"member_ids"`
}

var projectOrderings = map[string]bool{
	"": true, "created_at": true, "-created_at": true, "name": true, "-name": true,
}

// handleListProjects lists active projects. ?my_projects=true narrows to
// projects the caller created or belongs to; ?search= filters by name or
// description; ?ordering= sorts.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ordering := q.Get("ordering")
	if !projectOrderings[ordering] {
		WriteValidation(w, []FieldError{{
			Field:    "ordering",
			Rule:     "enum",
			Value:    ordering,
			Expected: []string{"created_at", "-created_at", "name", "-name"},
			Message:  "unknown ordering",
		}})
		return
	}
	projects, err := s.svc.ListProjects(r.Context(), principal(r), service.ProjectQuery{
		Mine:    q.Get("my_projects") == "true",
		Search:  q.Get("search"),
		OrderBy: ordering,
	})
	if err != nil {
		writeServiceError(w, r, "list projects", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"projects": ProjectsToDTOs(projects)}, http.StatusOK)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body ProjectCreateBody
	if !decodeJSON(w, r, &body) {
		return
	}
	p, err := s.svc.CreateProject(r.Context(), principal(r), service.ProjectInput{
		Name:        body.Name,
		Description: body.Description,
		MemberIDs:   body.MemberIDs,
	})
	if err != nil {
		writeServiceError(w, r, "create project", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"project": ProjectToDTO(p)}, http.StatusCreated)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProject(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get project", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"project": ProjectToDTO(p)}, http.StatusOK)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var body ProjectUpdateBody
	if !decodeJSON(w, r, &body) {
		return
	}
	p, err := s.svc.UpdateProject(r.Context(), principal(r), r.PathValue("id"), service.ProjectPatch{
		Name:        body.Name,
		Description: body.Description,
		MemberIDs:   body.MemberIDs,
	})
	if err != nil {
		writeServiceError(w, r, "update project", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"project": ProjectToDTO(p)}, http.StatusOK)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.DeleteProject(r.Context(), principal(r), id); err != nil {
		writeServiceError(w, r, "delete project", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"deleted": true, "id": id}, http.StatusOK)
}

func (s *Server) handleProjectAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.agg.ProjectAnalytics(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "project analytics", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"analytics": AnalyticsToDTO(a)}, http.StatusOK)
}

func (s *Server) handleProjectActivities(w http.ResponseWriter, r *http.Request) {
	s.listActivities(w, r, service.ActivityQuery{ProjectID: r.PathValue("id")})
}

func (s *Server) handleAdminGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.AdminGetProject(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "admin get project", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"project": ProjectToDTO(p)}, http.StatusOK)
}

// ============================================================================
// Aggregates
// ============================================================================

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.agg.Dashboard(r.Context(), principal(r))
	if err != nil {
		writeServiceError(w, r, "dashboard", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"stats": DashboardToDTO(d)}, http.StatusOK)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.agg.Search(r.Context(), principal(r), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, "search", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"results": SearchToDTO(res)}, http.StatusOK)
}
