package middleware_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/frahmantamala/meddevice-orders/api"
	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/obs"
	"github.com/frahmantamala/meddevice-orders/internal/transport"
	"github.com/frahmantamala/meddevice-orders/internal/transport/middleware"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body.Error.Code
}

var _ = Describe("RequestID", func() {
	It("keeps a caller supplied id", func() {
		var seen string
		h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = middleware.RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		Expect(seen).To(Equal("abc-123"))
		Expect(rec.Header().Get(middleware.RequestIDHeader)).To(Equal("abc-123"))
	})

	It("mints one when absent", func() {
		rec := httptest.NewRecorder()
		middleware.RequestID(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Header().Get(middleware.RequestIDHeader)).To(HaveLen(36))
	})
})

var _ = Describe("ClientIPResolver", func() {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	resolve := func(resolver *middleware.ClientIPResolver, remote string, headers map[string]string) string {
		var seen string
		h := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = internal.ClientIPFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		return seen
	}

	DescribeTable("resolving the caller",
		func(trusted []netip.Prefix, remote string, headers map[string]string, want string) {
			Expect(resolve(middleware.NewClientIPResolver(trusted), remote, headers)).To(Equal(want))
		},
		Entry("socket peer without headers", []netip.Prefix(nil), "192.0.2.4:5123", map[string]string(nil), "192.0.2.4"),
		Entry("forwarded headers from an untrusted peer are ignored", []netip.Prefix(nil), "192.0.2.4:5123",
			map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "203.0.113.10"}, "192.0.2.4"),
		Entry("nearest untrusted hop behind a trusted proxy", proxies, "10.0.0.2:443",
			map[string]string{"X-Forwarded-For": "198.51.100.1, 203.0.113.9, 10.0.0.5"}, "203.0.113.9"),
		Entry("X-Real-IP behind a trusted proxy", proxies, "10.0.0.2:443",
			map[string]string{"X-Real-IP": "203.0.113.10"}, "203.0.113.10"),
		Entry("garbage header falls back to the peer", proxies, "10.0.0.2:443",
			map[string]string{"X-Forwarded-For": strings.Repeat("x", 200)}, "10.0.0.2"),
		Entry("ipv6 peer", []netip.Prefix(nil), "[2001:db8::1]:443", map[string]string(nil), "2001:db8::1"),
	)

	It("keeps the package level middleware peer-only", func() {
		var seen string
		h := middleware.ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = internal.ClientIPFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.4:5123"
		req.Header.Set("X-Forwarded-For", "203.0.113.9")

		h.ServeHTTP(httptest.NewRecorder(), req)

		Expect(seen).To(Equal("192.0.2.4"))
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("answers 500 with the error envelope", func() {
		h := middleware.RecoveryMiddleware(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(errorCode(rec)).To(Equal(string(internal.ErrCodeInternal)))
		Expect(rec.Body.String()).NotTo(ContainSubstring("boom"))
	})
})

var _ = Describe("RateLimiter", func() {
	It("limits each client independently", func() {
		limiter := middleware.NewRateLimiter(0.001, 2, transport.NewBaseHandler(logger.Discard()))
		h := limiter.Middleware(ok)

		from := func(ip string) int {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			req.RemoteAddr = ip + ":4000"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec.Code
		}

		Expect(from("192.0.2.1")).To(Equal(http.StatusOK))
		Expect(from("192.0.2.1")).To(Equal(http.StatusOK))
		Expect(from("192.0.2.1")).To(Equal(http.StatusTooManyRequests))
		Expect(from("192.0.2.2")).To(Equal(http.StatusOK))
	})

	It("cannot be bypassed by rotating forwarding headers", func() {
		limiter := middleware.NewRateLimiter(0.001, 2, transport.NewBaseHandler(logger.Discard()))
		h := middleware.NewClientIPResolver(nil).Middleware(limiter.Middleware(ok))

		allowed := 0
		for i := 0; i < 50; i++ {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			req.RemoteAddr = "192.0.2.1:4000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code == http.StatusOK {
				allowed++
			}
		}

		Expect(allowed).To(Equal(2))
	})
})

var _ = Describe("CORS", func() {
	It("echoes allowed origins only", func() {
		h := middleware.CORS("https://ops.example.com")(ok)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://ops.example.com"))

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("short-circuits preflight requests", func() {
		rec := httptest.NewRecorder()
		middleware.CORS("*")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
		Expect(rec.Code).To(Equal(http.StatusNoContent))
	})
})

var _ = Describe("Metrics", func() {
	It("labels requests with the route pattern", func() {
		m := obs.NewMetrics(prometheus.NewRegistry())
		r := chi.NewRouter()
		r.Use(middleware.Metrics(m))
		r.Get("/orders/{orderNumber}", ok)

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/ORD-2026-001", nil))

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Body.String()).To(ContainSubstring(`route="/orders/{orderNumber}"`))
		Expect(rec.Body.String()).NotTo(ContainSubstring("ORD-2026-001"))
	})
})

var _ = Describe("LoggingMiddleware", func() {
	It("passes the request body through untouched", func() {
		var got string
		h := middleware.LoggingMiddleware(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			got = string(b)
			w.WriteHeader(http.StatusAccepted)
		}))
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"password":"x"}`)))

		Expect(got).To(Equal(`{"password":"x"}`))
		Expect(rec.Code).To(Equal(http.StatusAccepted))
	})
})

var _ = Describe("OpenAPIValidator", func() {
	var h http.Handler

	BeforeEach(func() {
		v, err := middleware.NewOpenAPIValidator(api.OpenAPISpec, transport.NewBaseHandler(logger.Discard()))
		Expect(err).NotTo(HaveOccurred())
		h = v.Middleware(ok)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	It("lets a well formed request through", func() {
		rec := post("/api/v1/auth/login", `{"identifier":"jdoe","password":"secret"}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("rejects a body missing a required property", func() {
		rec := post("/api/v1/orders/ORD-2026-001/transitions", `{"reason":"x"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(rec)).To(Equal(string(internal.ErrCodeValidationFailed)))
	})

	It("rejects a mistyped query parameter", func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=many", nil))
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("ignores routes the document does not describe", func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})
