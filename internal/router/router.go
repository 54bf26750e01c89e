package router

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"roofscale-backend/internal/handlers"
	"roofscale-backend/internal/middleware"
	"roofscale-backend/internal/websocket"
)

type Deps struct {
	SessionAuth     *middleware.SessionAuth
	Pages           *handlers.Pages
	SessionHandler  *handlers.SessionHandler
	AnalysisHandler *handlers.AnalysisHandler
	Hub             *websocket.Hub
	Static          fs.FS
	SubmitLimiter   *middleware.RateLimiter
	FrontendURL     string
	Logger          *zap.Logger
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.FrontendURL))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// ──── Page & Assets ────
	r.Get("/", d.Pages.Home)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(d.Static))))

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Sessions (public) ────
		r.Post("/sessions", d.SessionHandler.Create)

		// ──── Stateless Analysis ────
		r.With(d.SubmitLimiter.Middleware).Post("/analyses", d.AnalysisHandler.Analyze)

		// ──── Conversation ────
		r.Route("/session", func(r chi.Router) {
			r.Use(d.SessionAuth.Middleware)
			r.Get("/", d.SessionHandler.State)
			r.Put("/location", d.SessionHandler.SetLocation)
			r.Get("/messages", d.SessionHandler.Messages)
			r.With(d.SubmitLimiter.Middleware).Post("/messages", d.SessionHandler.Submit)
		})

		// ──── WebSocket ────
		r.Get("/ws", d.Hub.HandleWebSocket)
	})

	return r
}
