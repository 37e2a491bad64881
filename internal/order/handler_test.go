package order_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/order"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/frahmantamala/meddevice-orders/internal/transport"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
)

type stubOrderService struct {
	order.ServiceAPI
	gotNumber string
	gotTarget order.Phase
	gotReason string
	err       error
}

func (s *stubOrderService) AttemptTransition(ctx context.Context, p rbac.Principal, orderNumber string, target order.Phase, reason string) (*order.Order, error) {
	s.gotNumber, s.gotTarget, s.gotReason = orderNumber, target, reason
	if s.err != nil {
		return nil, s.err
	}
	return &order.Order{OrderNumber: orderNumber, Phase: target}, nil
}

var _ = Describe("Order Handler", func() {
	var (
		svc    *stubOrderService
		router chi.Router
	)

	BeforeEach(func() {
		svc = &stubOrderService{}
		handler := order.NewHandler(transport.NewBaseHandler(logger.Discard()), svc)
		router = chi.NewRouter()
		router.Post("/orders/{orderNumber}/transitions", handler.TransitionOrder)
	})

	send := func(body string, withPrincipal bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders/ORD-2026-001/transitions", strings.NewReader(body))
		if withPrincipal {
			req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), rbac.Principal{UserID: 4, Roles: []rbac.Role{rbac.RoleQCInspector}}))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	It("passes the path order number, target and reason through", func() {
		rec := send(`{"target_phase":"PRODUCTION","reason":"defect found"}`, true)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(svc.gotNumber).To(Equal("ORD-2026-001"))
		Expect(svc.gotTarget).To(Equal(order.PhaseProduction))
		Expect(svc.gotReason).To(Equal("defect found"))

		var body order.Order
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Phase).To(Equal(order.PhaseProduction))
	})

	It("rejects unknown phases at the boundary", func() {
		rec := send(`{"target_phase":"SHIPPED"}`, true)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(svc.gotNumber).To(BeEmpty())
	})

	DescribeTable("maps workflow errors to statuses",
		func(err error, status int) {
			svc.err = err
			rec := send(`{"target_phase":"PRODUCTION"}`, true)
			Expect(rec.Code).To(Equal(status))
		},
		Entry("invalid transition", internal.ErrInvalidTransition, http.StatusBadRequest),
		Entry("forbidden", internal.ErrForbidden, http.StatusForbidden),
		Entry("dependency failed", internal.ErrDependencyFailed, http.StatusFailedDependency),
		Entry("conflict", internal.ErrTransitionConflict, http.StatusConflict),
		Entry("not found", internal.ErrOrderNotFound, http.StatusNotFound),
		Entry("audit failure", internal.ErrAuditWriteFailed, http.StatusInternalServerError),
	)

	It("requires an authenticated principal", func() {
		rec := send(`{"target_phase":"PRODUCTION"}`, false)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})
})
