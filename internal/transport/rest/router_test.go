package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/frahmantamala/meddevice-orders/api"
	"github.com/frahmantamala/meddevice-orders/internal/obs"
	"github.com/frahmantamala/meddevice-orders/internal/transport"
	"github.com/frahmantamala/meddevice-orders/internal/transport/middleware"
	"github.com/frahmantamala/meddevice-orders/internal/transport/rest"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
)

var _ = Describe("Router", func() {
	var (
		router   *chi.Mux
		redisErr error
	)

	BeforeEach(func() {
		redisErr = nil
		base := transport.NewBaseHandler(logger.Discard())
		validator, err := middleware.NewOpenAPIValidator(api.OpenAPISpec, base)
		Expect(err).NotTo(HaveOccurred())

		router = chi.NewRouter()
		rest.RegisterAllRoutes(router, rest.Handlers{
			Health: rest.NewHealthHandler(base, map[string]rest.Checker{
				"postgres": rest.CheckerFunc(func(ctx context.Context) error { return nil }),
				"redis":    rest.CheckerFunc(func(ctx context.Context) error { return redisErr }),
			}),
		}, rest.RouterOptions{
			OpenAPISpec: api.OpenAPISpec,
			Validator:   validator,
			Metrics:     obs.NewMetrics(prometheus.NewRegistry()),
		}, logger.Discard())
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("answers ping", func() {
		Expect(get("/api/v1/ping").Code).To(Equal(http.StatusOK))
	})

	It("reports every dependency as healthy", func() {
		rec := get("/api/v1/health")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var body rest.HealthResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Components).To(HaveKey("postgres"))
		Expect(body.Components).To(HaveKey("redis"))
	})

	It("turns unhealthy when one dependency fails", func() {
		redisErr = errors.New("connection refused")
		rec := get("/api/v1/health")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))

		var body rest.HealthResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Components["redis"].Status).To(Equal(rest.HealthUnhealthy))
		Expect(body.Components["postgres"].Status).To(Equal(rest.HealthHealthy))
	})

	It("serves the OpenAPI document and metrics", func() {
		rec := get("/openapi.yml")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("openapi: 3.0.3"))

		get("/api/v1/ping")
		Expect(get("/metrics").Body.String()).To(ContainSubstring(`route="/api/v1/ping"`))
	})

	It("tags responses with a request id", func() {
		Expect(get("/api/v1/ping").Header().Get(middleware.RequestIDHeader)).NotTo(BeEmpty())
	})
})
