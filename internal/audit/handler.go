package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/frahmantamala/meddevice-orders/internal/transport"
)

type Lister interface {
	List(ctx context.Context, principal rbac.Principal, filter Filter) ([]*Record, int64, error)
}

type ListResponseV1 struct {
	Records  []*Record `json:"records"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

type Handler struct {
	*transport.BaseHandler
	Service Lister
}

func NewHandler(baseHandler *transport.BaseHandler, svc Lister) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     svc,
	}
}

// ListAudit handles GET /audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionInvalidated)
		return
	}

	filter, appErr := parseFilter(r)
	if appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	records, total, err := h.Service.List(r.Context(), principal, filter)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	filter.Normalize()
	h.WriteJSON(w, http.StatusOK, ListResponseV1{
		Records:  records,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

func parseFilter(r *http.Request) (Filter, *internal.AppError) {
	q := r.URL.Query()
	f := Filter{
		Action:   q.Get("action"),
		Table:    q.Get("table"),
		RecordID: q.Get("record_id"),
		Outcome:  q.Get("outcome"),
	}

	if v := q.Get("actor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, invalidParam("actor_id", "actor_id must be an integer")
		}
		f.ActorID = &id
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, invalidParam("since", "since must be an RFC3339 timestamp")
		}
		f.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, invalidParam("until", "until must be an RFC3339 timestamp")
		}
		f.Until = &t
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, invalidParam("page", "page must be an integer")
		}
		f.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, invalidParam("page_size", "page_size must be an integer")
		}
		f.PageSize = n
	}
	return f, nil
}

func invalidParam(field, message string) *internal.AppError {
	return internal.NewValidationFieldError(field, message, internal.ErrCodeValidationFailed)
}
