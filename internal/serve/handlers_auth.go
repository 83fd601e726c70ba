package serve

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/marcus/tracker/internal/auth"
	"github.com/marcus/tracker/internal/models"
)

const maxJSONBody = 1 << 20

// decodeJSON reads a JSON request body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, ErrValidation, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// ============================================================================
// GET /health
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.CountUsers(r.Context()); err != nil {
		writeServiceError(w, r, "health", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"status": "ok"}, http.StatusOK)
}

// ============================================================================
// /v1/auth
// ============================================================================

// RegisterBody is the JSON body for POST /v1/auth/register.
type RegisterBody struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterBody
	if !decodeJSON(w, r, &body) {
		return
	}
	u, err := s.auth.Register(r.Context(), auth.Registration{
		Username:  body.Username,
		Email:     body.Email,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	})
	if err != nil {
		writeServiceError(w, r, "register", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"user": UserToDTO(u)}, http.StatusCreated)
}

// LoginBody is the JSON body for POST /v1/auth/login.
type LoginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginBody
	if !decodeJSON(w, r, &body) {
		return
	}
	var errs []FieldError
	if strings.TrimSpace(body.Username) == "" {
		errs = append(errs, FieldError{Field: "username", Rule: "required", Message: "username is required"})
	}
	if body.Password == "" {
		errs = append(errs, FieldError{Field: "password", Rule: "required", Message: "password is required"})
	}
	if len(errs) > 0 {
		WriteValidation(w, errs)
		return
	}

	token, u, err := s.auth.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		writeServiceError(w, r, "login", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"token": token, "user": UserToDTO(u)}, http.StatusOK)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(tokenKey).(string)
	if err := s.auth.Logout(r.Context(), token); err != nil {
		writeServiceError(w, r, "logout", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"logged_out": true}, http.StatusOK)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{"user": UserToDTO(currentUser(r))}, http.StatusOK)
}

// ProfileBody is the JSON body for PATCH /v1/auth/profile. Absent fields
// are left unchanged.
type ProfileBody struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body ProfileBody
	if !decodeJSON(w, r, &body) {
		return
	}
	u, err := s.auth.UpdateProfile(r.Context(), principal(r), auth.ProfilePatch{
		Email:     body.Email,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	})
	if err != nil {
		writeServiceError(w, r, "update profile", err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"user": UserToDTO(u)}, http.StatusOK)
}

// ============================================================================
// GET /v1/users
// ============================================================================

// userSource adapts a user list for fuzzy matching on username and name.
type userSource []models.User

func (u userSource) String(i int) string {
	return u[i].Username + " " + u[i].FullName()
}

func (u userSource) Len() int { return len(u) }

// handleListUsers lists active users. With ?q= the list is ranked by fuzzy
// match against username and full name, best first.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, errs := ParseLimit(r.URL.Query().Get("limit"), DefaultLimit)
	if len(errs) > 0 {
		WriteValidation(w, errs)
		return
	}
	all, err := s.db.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, "list users", err)
		return
	}
	active := make(userSource, 0, len(all))
	for _, u := range all {
		if u.IsActive {
			active = append(active, u)
		}
	}

	var users []models.User
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		for _, m := range fuzzy.FindFrom(strings.ToLower(q), active) {
			users = append(users, active[m.Index])
		}
	} else {
		users = active
	}
	if len(users) > limit {
		users = users[:limit]
	}

	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = UserToDTO(&users[i])
	}
	WriteSuccess(w, map[string]interface{}{"users": dtos}, http.StatusOK)
}
