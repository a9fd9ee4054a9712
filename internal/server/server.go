// Пакет server — HTTP-сервер Print Queue с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VT-CRO/Workcell-Queue/internal/api/handlers"
	"github.com/VT-CRO/Workcell-Queue/internal/api/middleware"
	"github.com/VT-CRO/Workcell-Queue/internal/config"
)

// Handlers — обработчики, монтируемые на router.
type Handlers struct {
	Health   *handlers.HealthHandler
	Queue    *handlers.QueueHandler
	Profile  *handlers.ProfileHandler
	Device   *handlers.DeviceHandler
	Consumer *handlers.ConsumerHandler
}

// Server — HTTP-сервер Print Queue.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для тестирования без auth).
//
// Аутентификация по маршрутам:
//   - /api/v1/* — JWT (submitter API)
//   - /{uuid}/api/* — routing-токен устройства в пути
//   - /{uuid}/requestgcode — статический consumer-токен в пути
//   - /health/*, /metrics — публичные (Kubernetes, Prometheus)
func New(cfg *config.Config, logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// JWT только на submitter API: маршруты устройства и consumer
	// авторизуются токеном в пути, health/metrics — публичные
	var jwtMiddleware func(http.Handler) http.Handler
	if jwtAuth != nil {
		jwtMiddleware = jwtAuthWithInclusions(jwtAuth, "/api/v1/")
		router.Use(jwtMiddleware)
	}

	// Health и metrics
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Submitter API (JWT)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/profile", h.Profile.Get)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.Queue.List)
			r.Post("/", h.Queue.Upload)
			r.Get("/{id}/thumbnail", h.Queue.Thumbnail)
			r.Delete("/{id}", h.Queue.Delete)
			r.Post("/{id}/override", h.Queue.ToggleOverride)
		})
	})

	// Маршруты устройства и consumer: один параметр {uuid},
	// маршрутизация по хвосту пути
	router.Route("/{uuid}", func(r chi.Router) {
		r.Get("/api/version", h.Device.Version)
		r.Post("/api/files/local", h.Device.UploadLocal)
		r.Get("/api/download", h.Device.Download)
		r.Get("/requestgcode", h.Consumer.RequestGcode)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// jwtAuthWithInclusions оборачивает JWTAuth.Middleware(), применяя его
// только к путям с указанными префиксами. Остальные маршруты
// авторизуются собственными механизмами (токен в пути) или публичны.
func jwtAuthWithInclusions(jwtAuth *middleware.JWTAuth, includePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range includePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					jwtMiddleware(next).ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
