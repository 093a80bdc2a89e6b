package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dgraft/factengine/internal/httpserver"
	"github.com/dgraft/factengine/pkg/cache/circuitbreaker"
)

type fakeHealth struct{ state circuitbreaker.State }

func (f fakeHealth) CircuitBreakerState() circuitbreaker.State { return f.state }

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

var _ = Describe("httpserver", func() {
	It("reports ok with no DB or health checker configured", func() {
		handler := httpserver.New(httpserver.Config{})
		rec := get(handler, "/healthz")

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["status"]).To(Equal("ok"))
	})

	It("reports ok when the database ping succeeds", func() {
		db, mock, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()
		mock.ExpectPing()

		handler := httpserver.New(httpserver.Config{DB: db})
		rec := get(handler, "/healthz")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("reports degraded with 503 when the database ping fails", func() {
		db, mock, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()
		mock.ExpectPing().WillReturnError(sqlErr("connection refused"))

		handler := httpserver.New(httpserver.Config{DB: db})
		rec := get(handler, "/healthz")

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["database_ok"]).To(Equal(false))
	})

	It("reports degraded with 503 when the cache circuit breaker is open", func() {
		handler := httpserver.New(httpserver.Config{Health: fakeHealth{state: circuitbreaker.StateOpen}})
		rec := get(handler, "/healthz")

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["circuit_breaker_state"]).To(Equal("open"))
	})

	It("serves Prometheus exposition format on /metrics", func() {
		handler := httpserver.New(httpserver.Config{})
		rec := get(handler, "/metrics")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("go_goroutines"))
	})
})

type sqlErr string

func (e sqlErr) Error() string { return string(e) }
