package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
)

type Users interface {
	Register(ctx context.Context, email, name string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// UserHandler exposes registration to the identity provider.
type UserHandler struct {
	users  Users
	logger *slog.Logger
}

func NewUserHandler(users Users, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

type registerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// HandleRegister is get-or-create by email, so a repeated login returns the
// account created the first time.
//
// HTTP: POST /api/users
// REQUEST BODY: {"email": "ada@example.com", "name": "Ada"}
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.users.Register(r.Context(), req.Email, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HTTP: GET /api/users?email=ada@example.com
func (h *UserHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, apperror.ValidationFailed("email", "email query parameter is required"))
		return
	}

	u, err := h.users.GetByEmail(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HTTP: GET /api/users/{userID}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
