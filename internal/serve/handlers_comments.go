package serve

import (
	"net/http"

	"github.com/marcus/tracker/internal/service"
)

// ============================================================================
// Comments
// ============================================================================

// CommentBody is the JSON body for creating or editing a comment. ParentID
// is only read on create.
type CommentBody struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
}

// handleListComments returns the issue's comments as a reply tree.
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	tree, err := s.svc.ListComments(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "list comments", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"comments": CommentTreeToDTOs(tree)}, http.StatusOK)
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var body CommentBody
	if !decodeJSON(w, r, &body) {
		return
	}
	c, err := s.svc.CreateComment(r.Context(), principal(r), r.PathValue("id"), body.Content, body.ParentID)
	if err != nil {
		writeServiceError(w, r, "create comment", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"comment": CommentToDTO(c)}, http.StatusCreated)
}

func (s *Server) handleGetComment(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.GetComment(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get comment", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"comment": CommentToDTO(c)}, http.StatusOK)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var body CommentBody
	if !decodeJSON(w, r, &body) {
		return
	}
	c, err := s.svc.UpdateComment(r.Context(), principal(r), r.PathValue("id"), body.Content)
	if err != nil {
		writeServiceError(w, r, "update comment", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"comment": CommentToDTO(c)}, http.StatusOK)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.DeleteComment(r.Context(), principal(r), id); err != nil {
		writeServiceError(w, r, "delete comment", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"deleted": true, "id": id}, http.StatusOK)
}

// ============================================================================
// Labels
// ============================================================================

// LabelBody is the JSON body for POST /v1/labels and PATCH /v1/labels/{id}.
type LabelBody struct {
	Name        *string `json:"name"`
	Color       *string `json:"color"`
	Description *string `json:"description"`
}

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.svc.ListLabels(r.Context(), principal(r), r.URL.Query().Get("search"))
	if err != nil {
		writeServiceError(w, r, "list labels", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"labels": LabelsToDTOs(labels)}, http.StatusOK)
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var body LabelBody
	if !decodeJSON(w, r, &body) {
		return
	}
	in := service.LabelInput{}
	if body.Name != nil {
		in.Name = *body.Name
	}
	if body.Color != nil {
		in.Color = *body.Color
	}
	if body.Description != nil {
		in.Description = *body.Description
	}
	l, err := s.svc.CreateLabel(r.Context(), principal(r), in)
	if err != nil {
		writeServiceError(w, r, "create label", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"label": LabelToDTO(l)}, http.StatusCreated)
}

func (s *Server) handleUpdateLabel(w http.ResponseWriter, r *http.Request) {
	var body LabelBody
	if !decodeJSON(w, r, &body) {
		return
	}
	l, err := s.svc.UpdateLabel(r.Context(), principal(r), r.PathValue("id"), service.LabelPatch{
		Name:        body.Name,
		Color:       body.Color,
		Description: body.Description,
	})
	if err != nil {
		writeServiceError(w, r, "update label", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"label": LabelToDTO(l)}, http.StatusOK)
}

func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.DeleteLabel(r.Context(), principal(r), id); err != nil {
		writeServiceError(w, r, "delete label", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"deleted": true, "id": id}, http.StatusOK)
}
