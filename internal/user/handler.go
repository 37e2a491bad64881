package user

import (
	"net/http"
	"strconv"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/frahmantamala/meddevice-orders/internal/transport"
	"github.com/go-chi/chi"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, svc ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     svc,
	}
}

// GetCurrentUser handles GET /me
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionInvalidated)
		return
	}

	profile, err := h.Service.GetProfile(r.Context(), principal)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, profile)
}

// AssignRole handles POST /users/{userID}/roles
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionInvalidated)
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		h.WriteAppError(w, internal.NewValidationFieldError("user_id", "user_id must be a positive integer", internal.ErrCodeValidationFailed))
		return
	}

	var dto AssignRoleDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	assignment, err := h.Service.AssignRole(r.Context(), principal, userID, dto)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, assignment)
}
