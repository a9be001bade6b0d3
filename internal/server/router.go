package server

import (
	"net/http"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/api/handlers"
	"github.com/cloo-solutions/docuchat/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	AuthValidator   middleware.AuthValidator
	ChatHandler     *handlers.ChatHandler
	TrainHandler    *handlers.TrainHandler
	EventHandler    *handlers.EventHandler
	QuizHandler     *handlers.QuizHandler
	DocumentHandler *handlers.DocumentHandler
	UploadHandler   *handlers.UploadHandler
	AuthHandler     *handlers.AuthHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 64 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", cfg.DocumentHandler.List)
			r.Get("/{slug}", cfg.DocumentHandler.Get)
			r.Post("/{slug}/train", cfg.TrainHandler.Train)
			r.Get("/{slug}/events", cfg.EventHandler.List)
			r.Post("/{slug}/quiz", cfg.QuizHandler.Generate)
			r.Get("/{slug}/quiz", cfg.QuizHandler.Get)
		})

		r.Post("/chat", cfg.ChatHandler.Ask)
		r.Post("/chat/stream", cfg.ChatHandler.Stream)

		r.Post("/uploads", cfg.UploadHandler.Init)
		r.Delete("/uploads", cfg.UploadHandler.Abandon)

		r.Post("/grants", cfg.AuthHandler.Grant)
	})

	r.Post("/apikeys", cfg.AuthHandler.CreateAPIKey)

	return r
}
