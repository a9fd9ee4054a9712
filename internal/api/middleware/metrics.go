// metrics.go — Prometheus HTTP метрики Print Queue.
// Регистрирует метрики: pq_http_requests_total, pq_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pq_http_requests_total",
			Help: "Общее количество HTTP-запросов к Print Queue",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pq_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Print Queue в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет динамические сегменты пути на плейсхолдеры
// для предотвращения взрывного роста кардинальности метрик.
// /api/v1/queue/a1b2c3d4-.../thumbnail → /api/v1/queue/{id}/thumbnail
// /{uuid}/api/download → /{uuid}/api/download
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/queue", "/api/v1/profile":
		return path
	}

	// Записи очереди: /api/v1/queue/{id}[/thumbnail|/override]
	const queuePrefix = "/api/v1/queue/"
	if strings.HasPrefix(path, queuePrefix) {
		switch {
		case strings.HasSuffix(path, "/thumbnail"):
			return "/api/v1/queue/{id}/thumbnail"
		case strings.HasSuffix(path, "/override"):
			return "/api/v1/queue/{id}/override"
		default:
			return "/api/v1/queue/{id}"
		}
	}

	// Маршруты устройства и consumer: первый сегмент — uuid/токен
	rest := strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(rest, '/'); idx > 0 {
		switch rest[idx:] {
		case "/api/version":
			return "/{uuid}/api/version"
		case "/api/files/local":
			return "/{uuid}/api/files/local"
		case "/api/download":
			return "/{uuid}/api/download"
		case "/requestgcode":
			return "/{uuid}/requestgcode"
		}
	}

	return path
}
