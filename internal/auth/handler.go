package auth

import (
	"net/http"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/frahmantamala/meddevice-orders/internal/transport"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
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

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, err)
		return
	}

	session, err := h.Service.Authenticate(r.Context(), dto.Identifier, dto.Password)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, session.ToV1())
}

func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	token := h.ExtractTokenFromHeader(r)
	if token == "" {
		h.WriteAppError(w, internal.ErrSessionInvalidated)
		return
	}

	session, err := h.Service.RefreshSession(r.Context(), token)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, session.ToV1())
}

// RequestPasswordReset always answers 202 for well-formed input so callers
// cannot probe which accounts exist.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var dto PasswordResetRequestDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, err)
		return
	}

	if err := h.Service.RequestPasswordReset(r.Context(), dto.Identifier); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the account exists, reset instructions have been sent",
	})
}

func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var dto PasswordResetConfirmDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, err)
		return
	}

	if err := h.Service.ConfirmPasswordReset(r.Context(), dto.Token, dto.NewPassword); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var dto PasswordChangeDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, err)
		return
	}

	if err := h.Service.ChangePassword(r.Context(), dto.Identifier, dto.CurrentPassword, dto.NewPassword); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Authorize answers whether the caller holds a permission. It is a hint for
// clients; each operation still checks on its own.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionInvalidated)
		return
	}

	code := r.URL.Query().Get("permission")
	perm, ok := rbac.ParsePermission(code)
	if !ok {
		h.WriteAppError(w, internal.NewValidationFieldError("permission", "unknown permission code", internal.ErrCodeValidationFailed))
		return
	}

	h.WriteJSON(w, http.StatusOK, AuthorizeResponseV1{
		Permission: string(perm),
		Allowed:    h.Service.Authorize(principal, perm),
	})
}

// AuthMiddleware resolves the bearer token into a principal on every request.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.WriteAppError(w, internal.NewUnauthorizedError("Missing authorization token", internal.ErrCodeSessionInvalidated))
			return
		}

		principal, _, err := h.Service.ResolveSession(r.Context(), token)
		if err != nil {
			h.HandleServiceError(w, r, err)
			return
		}

		ctx := rbac.ContextWithPrincipal(r.Context(), principal)
		ctx = internal.ContextWithUserID(ctx, principal.UserID)
		ctx = logger.With(ctx, "user_id", principal.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
