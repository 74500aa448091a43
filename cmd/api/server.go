package main

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/PaulBabatuyi/pairchat/internal/auth"
	"github.com/PaulBabatuyi/pairchat/internal/chat"
	"github.com/PaulBabatuyi/pairchat/internal/config"
	"github.com/PaulBabatuyi/pairchat/internal/media"
	"github.com/PaulBabatuyi/pairchat/internal/middleware"
	"github.com/PaulBabatuyi/pairchat/internal/realtime"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// application holds the collaborators every handler needs.
type application struct {
	cfg      *config.Config
	log      *zap.Logger
	svc      *chat.Service
	hub      *realtime.Hub
	tokens   *auth.JWTManager
	files    *media.Store
	limiter  *middleware.LimiterStore
	upgrader websocket.Upgrader
}

func newApplication(cfg *config.Config, log *zap.Logger, svc *chat.Service, hub *realtime.Hub,
	tokens *auth.JWTManager, files *media.Store, limiter *middleware.LimiterStore) *application {
	app := &application{
		cfg:     cfg,
		log:     log,
		svc:     svc,
		hub:     hub,
		tokens:  tokens,
		files:   files,
		limiter: limiter,
	}
	app.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.FrontendURL),
	}
	return app
}

// routes builds the HTTP surface.
func (app *application) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(app.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.cfg.FrontendURL,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("pairchat API is running\n"))
	})
	r.Get("/healthz", app.healthz)
	r.Get("/uploads/{filename}", app.serveUpload)
	r.Get("/ws", app.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(app.limiter, app.rateLimited))
				r.Post("/register", app.register)
				r.Post("/login", app.login)
			})
			r.With(app.requireAuth).Get("/me", app.me)
		})

		r.Group(func(r chi.Router) {
			r.Use(app.requireAuth)

			r.Get("/users", app.listUsers)

			r.Get("/conversations", app.listConversations)
			r.Post("/conversations", app.createConversation)

			r.Get("/messages/{conversationID}", app.listMessages)
			r.Post("/messages/{conversationID}", app.sendMessage)
			r.Post("/messages/{conversationID}/upload", app.sendMediaMessage)

			r.Post("/upload", app.upload)
			r.Post("/upload/multi", app.uploadMulti)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		app.writeError(w, r, apperr.NotFound("route not found"))
	})
	return r
}

func (app *application) rateLimited(w http.ResponseWriter, r *http.Request) {
	app.writeError(w, r, apperr.RateLimited("too many requests, try again later"))
}

// originChecker allows websocket upgrades from the configured frontends. A
// "*" entry or a request without Origin (non browser clients) is accepted.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	allowAll := false
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			set[n] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		n, ok := normalizeOrigin(origin)
		return ok && set[n]
	}
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
