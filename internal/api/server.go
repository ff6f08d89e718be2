package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/drawhub/canvas-relay/internal/auth"
	"github.com/drawhub/canvas-relay/internal/config"
	"github.com/drawhub/canvas-relay/internal/database"
	"github.com/drawhub/canvas-relay/internal/server"
)

// RelayApp is the HTTP face of the relay: the websocket upgrade endpoint plus
// health and stats. Credential issuance and room CRUD live in peer services.
type RelayApp struct {
	log            *log.Logger
	db             database.CanvasRepository
	mux            *http.Server
	rs             *server.RelayServer
	verifier       *auth.TokenVerifier
	allowedOrigins []string
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, rs *server.RelayServer, db database.CanvasRepository, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		db:             db,
		rs:             rs,
		verifier:       auth.NewTokenVerifier(cfg.SigningKey),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthz)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
