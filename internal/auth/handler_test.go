package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/auth"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/frahmantamala/meddevice-orders/internal/transport"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
)

type stubAuthService struct {
	session      *auth.Session
	err          error
	principal    rbac.Principal
	resetCalls   []string
	lastPassword string
}

func (s *stubAuthService) Authenticate(ctx context.Context, identifier, password string) (*auth.Session, error) {
	s.lastPassword = password
	return s.session, s.err
}

func (s *stubAuthService) RefreshSession(ctx context.Context, token string) (*auth.Session, error) {
	return s.session, s.err
}

func (s *stubAuthService) ResolveSession(ctx context.Context, token string) (rbac.Principal, *auth.SessionClaims, error) {
	if s.err != nil {
		return rbac.Principal{}, nil, s.err
	}
	return s.principal, &auth.SessionClaims{}, nil
}

func (s *stubAuthService) RequestPasswordReset(ctx context.Context, identifier string) error {
	s.resetCalls = append(s.resetCalls, identifier)
	return s.err
}

func (s *stubAuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return s.err
}

func (s *stubAuthService) ChangePassword(ctx context.Context, identifier, currentPassword, newPassword string) error {
	return s.err
}

func (s *stubAuthService) Authorize(principal rbac.Principal, permission rbac.Permission) bool {
	return rbac.NewEngine(rbac.DefaultCatalog()).Authorize(principal, permission)
}

func (s *stubAuthService) EffectivePermissions(principal rbac.Principal) []rbac.Permission {
	return rbac.NewEngine(rbac.DefaultCatalog()).EffectivePermissions(principal.Roles)
}

var _ = Describe("Auth Handler", func() {
	var (
		svc     *stubAuthService
		handler *auth.Handler
	)

	BeforeEach(func() {
		svc = &stubAuthService{}
		handler = auth.NewHandler(transport.NewBaseHandler(logger.Discard()), svc)
	})

	decodeError := func(rec *httptest.ResponseRecorder) map[string]interface{} {
		var body map[string]map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body["error"]
	}

	Describe("Login", func() {
		It("returns the session", func() {
			svc.session = &auth.Session{
				Token:       "signed.token.value",
				ExpiresAt:   time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC),
				Principal:   rbac.Principal{UserID: 3, Username: "alice", Roles: []rbac.Role{rbac.RoleSalesRep}},
				Permissions: []rbac.Permission{rbac.PermOrderCreate},
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
				strings.NewReader(`{"identifier":"alice","password":"Vq7#mPz2!rLw9"}`))
			rec := httptest.NewRecorder()

			handler.Login(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var body auth.SessionResponseV1
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Token).To(Equal("signed.token.value"))
			Expect(body.TokenType).To(Equal("Bearer"))
			Expect(body.User.Roles).To(Equal([]string{"SALES_REP"}))
			Expect(body.User.Permissions).To(Equal([]string{"ORDER_CREATE"}))
		})

		It("maps credential errors to 401", func() {
			svc.err = internal.ErrInvalidCredentials
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
				strings.NewReader(`{"identifier":"alice","password":"nope"}`))
			rec := httptest.NewRecorder()

			handler.Login(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeError(rec)["code"]).To(Equal("INVALID_CREDENTIALS"))
		})

		It("rejects a body without a password before calling the service", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
				strings.NewReader(`{"identifier":"alice"}`))
			rec := httptest.NewRecorder()

			handler.Login(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(svc.lastPassword).To(BeEmpty())
		})

		It("rejects unknown fields", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
				strings.NewReader(`{"identifier":"alice","password":"x","admin":true}`))
			rec := httptest.NewRecorder()

			handler.Login(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("RequestPasswordReset", func() {
		It("answers 202 without echoing any token", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/password-reset",
				strings.NewReader(`{"identifier":"someone@example.com"}`))
			rec := httptest.NewRecorder()

			handler.RequestPasswordReset(rec, req)

			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.String()).NotTo(ContainSubstring("token"))
			Expect(svc.resetCalls).To(Equal([]string{"someone@example.com"}))
		})
	})

	Describe("ConfirmPasswordReset", func() {
		It("maps a bad token to 400", func() {
			svc.err = internal.ErrTokenInvalid
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/password-reset/confirm",
				strings.NewReader(`{"token":"abc","new_password":"Hx4$tNb8@kWe6"}`))
			rec := httptest.NewRecorder()

			handler.ConfirmPasswordReset(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeError(rec)["code"]).To(Equal("TOKEN_INVALID"))
		})
	})

	Describe("AuthMiddleware", func() {
		var reached bool
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
			p, ok := rbac.PrincipalFromContext(r.Context())
			Expect(ok).To(BeTrue())
			Expect(internal.UserIDFromContext(r.Context())).To(Equal(p.UserID))
			w.WriteHeader(http.StatusNoContent)
		})

		BeforeEach(func() {
			reached = false
		})

		It("rejects requests without a bearer token", func() {
			rec := httptest.NewRecorder()
			handler.AuthMiddleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(reached).To(BeFalse())
		})

		It("rejects invalidated sessions", func() {
			svc.err = internal.ErrSessionInvalidated
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			req.Header.Set("Authorization", "Bearer stale")
			rec := httptest.NewRecorder()

			handler.AuthMiddleware(next).ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeError(rec)["code"]).To(Equal("SESSION_INVALIDATED"))
		})

		It("puts the resolved principal on the context", func() {
			svc.principal = rbac.Principal{UserID: 9, Username: "wendy", Roles: []rbac.Role{rbac.RoleWarehouse}}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			req.Header.Set("Authorization", "Bearer good")
			rec := httptest.NewRecorder()

			handler.AuthMiddleware(next).ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(reached).To(BeTrue())
		})
	})

	Describe("Authorize", func() {
		It("answers for the caller's roles", func() {
			ctx := rbac.ContextWithPrincipal(context.Background(),
				rbac.Principal{UserID: 9, Roles: []rbac.Role{rbac.RoleWarehouse}})
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/authorize?permission=SHIPPING_DISPATCH", nil).WithContext(ctx)
			rec := httptest.NewRecorder()

			handler.Authorize(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var body auth.AuthorizeResponseV1
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Allowed).To(BeTrue())
		})

		It("rejects unknown permission codes", func() {
			ctx := rbac.ContextWithPrincipal(context.Background(), rbac.Principal{UserID: 9})
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/authorize?permission=FLY", nil).WithContext(ctx)
			rec := httptest.NewRecorder()

			handler.Authorize(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
