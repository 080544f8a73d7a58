package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"github.com/molpadia/molpastory/internal/saga"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StorySaga creates and removes stories across the blob store and the database.
type StorySaga interface {
	Create(ctx context.Context, in saga.Input) (*saga.Result, error)
	Remove(ctx context.Context, storyID string) error
}

type Config struct {
	JWTSecret      string
	MaxRequestSize int64 // Upper bound of a multipart creation request in bytes.
}

type appHandler struct {
	fn     func(http.ResponseWriter, *http.Request) error
	logger *zap.Logger
}

func (h appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.fn(w, r); err != nil {
		if e, ok := err.(*AppError); ok {
			h.logger.Debug("Request rejected", zap.String("path", r.URL.Path), zap.Int("code", e.Code), zap.String("message", e.Message))
			replyJSON(w, e, e.Code)
			return
		}
		h.logger.Error("Request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		replyJSON(w, &AppError{http.StatusInternalServerError, "Internal server error"}, http.StatusInternalServerError)
	}
}

// Register API endpoints to the router.
func SetupRoutes(r *mux.Router, stories repository.StoryRepository, sagas StorySaga, cfg Config, logger *zap.Logger) {
	logger = logger.Named("API")
	c := &controller{stories: stories, saga: sagas, maxRequestSize: cfg.MaxRequestSize, logger: logger}

	r.Methods("GET").Path("/metrics").Handler(promhttp.Handler())

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(authenticate(cfg.JWTSecret, logger))
	api.Methods("POST").Path("/stories").Handler(c.handle(c.createStory))
	api.Methods("GET").Path("/stories").Handler(c.handle(c.listStories))
	api.Methods("GET").Path("/stories/{id}").Handler(c.handle(c.getStory))
	api.Methods("DELETE").Path("/stories/{id}").Handler(c.handle(c.deleteStory))
}
