package httpapi

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/dkravtsov/authd/internal/server/auth"
	"github.com/dkravtsov/authd/internal/server/config"
)

// NewRouter assembles the HTTP surface: recovery and CORS on everything,
// bearer-token resolution and caller metadata on the API, and a per-client
// rate limit on the credential endpoints.
func NewRouter(cfg *config.Config, tokens *auth.TokenService, authHandler *AuthHandler) http.Handler {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(corsHandler())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/auth", func(api chi.Router) {
		api.Use(BearerAuth(tokens))
		api.Use(CallerMetadata(hostname))
		api.Use(NewRateLimitMiddleware(cfg.LoginRatePerSecond, cfg.LoginRateBurst).Handler)

		api.Post("/login", authHandler.Login)
		api.Post("/refresh", authHandler.Refresh)
		api.Post("/logout", authHandler.Logout)
	})

	return r
}

func corsHandler() func(http.Handler) http.Handler {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		MaxAge:           3600,
		AllowCredentials: false,
	})
	return handler.Handler
}
