package order

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

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (rbac.Principal, bool) {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		h.Logger.ErrorContext(r.Context(), "principal not found in context", "path", r.URL.Path)
		h.WriteAppError(w, internal.ErrSessionInvalidated)
		return rbac.Principal{}, false
	}
	return p, true
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var dto CreateOrderDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	created, err := h.Service.CreateOrder(r.Context(), p, dto)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := ListOrdersFilter{Phase: query.Get("phase")}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	if err := filter.Normalize(); err != nil {
		h.WriteAppError(w, err)
		return
	}

	orders, err := h.Service.ListOrders(r.Context(), p, filter)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, OrderListV1{Orders: orders, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	found, err := h.Service.GetOrder(r.Context(), p, chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, found)
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var dto TransitionDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, err)
		return
	}

	orderNumber := chi.URLParam(r, "orderNumber")
	updated, err := h.Service.AttemptTransition(r.Context(), p, orderNumber, Phase(dto.Target), dto.Reason)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	history, err := h.Service.ListTransitions(r.Context(), p, chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"transitions": history})
}

func (h *Handler) AvailableTransitions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	available, err := h.Service.AvailableTransitions(r.Context(), p, chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"transitions": available})
}
