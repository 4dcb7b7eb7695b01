package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/teamvault/internal/auth"
	"github.com/org/teamvault/internal/crypto"
	"github.com/org/teamvault/internal/directory"
	"github.com/org/teamvault/internal/mail"
	"github.com/org/teamvault/internal/secret"
	"github.com/org/teamvault/internal/sharing"
	"github.com/org/teamvault/internal/storage"
)

const version = "1.0.0"

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	SessionTTL  time.Duration
}

// Server is the API server.
type Server struct {
	store     storage.Backend
	sessions  *auth.SessionService
	directory *directory.Service
	secrets   *secret.Service
	cfg       Config
	httpSrv   *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Backend, cipher *crypto.Cipher, mailer mail.Mailer, cfg Config) *Server {
	shareEng := sharing.NewEngine(store)
	return &Server{
		store:     store,
		sessions:  auth.NewSessionService(store, cfg.SessionTTL),
		directory: directory.NewService(store, mailer),
		secrets:   secret.NewService(store, cipher, shareEng),
		cfg:       cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler(s.store))

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Get("/v1/users/check-owner", s.CheckOwnerHandler)
		r.Post("/v1/users/register-first-user", s.RegisterFirstUserHandler)
		r.Post("/v1/users/accept-invite", s.AcceptInviteHandler)
		r.Post("/v1/auth/login", s.LoginHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.sessions))

		// Sessions
		r.Post("/v1/auth/logout", s.LogoutHandler)
		r.Get("/v1/auth/me", s.MeHandler)

		// Directory
		r.Get("/v1/users/roles", s.RolesHandler)
		r.Post("/v1/users/invite", s.InviteHandler)
		r.Get("/v1/users/pending-invites", s.PendingInvitesHandler)
		r.Get("/v1/users/team", s.TeamListHandler)
		r.Patch("/v1/users/team/{id}", s.TeamUpdateHandler)
		r.Delete("/v1/users/team/{id}", s.TeamDeactivateHandler)

		// Secrets
		r.Post("/v1/secrets", s.SecretCreateHandler)
		r.Get("/v1/secrets", s.SecretListHandler)
		r.Get("/v1/secrets/{id}", s.SecretGetHandler)
		r.Patch("/v1/secrets/{id}", s.SecretUpdateHandler)
		r.Delete("/v1/secrets/{id}", s.SecretDeleteHandler)
		r.Put("/v1/secrets/{id}/share", s.SecretShareHandler)
		r.Get("/v1/secrets/{id}/share", s.SecretSharesHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
