// Package api exposes predictions and KRA sync over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/vnmchuo/race-predictor/internal/auth"
)

func NewRouter(h *Handler, authMiddleware auth.Middleware, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{auth.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)
	r.Get("/api/v1/predictions/{raceID}", h.HandleGetPredictions)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/api/v1/predictions", h.HandleCreatePrediction)
		r.Delete("/api/v1/predictions/{raceID}/cache", h.HandleInvalidateCache)
		r.Post("/api/v1/kra/sync", h.HandleSync)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("chi_request_id", chimiddleware.GetReqID(r.Context())))
		})
	}
}
