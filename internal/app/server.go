package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/retava/chatdesk/internal/api/handlers"
	appMiddleware "github.com/retava/chatdesk/internal/api/middlewares"
	"github.com/retava/chatdesk/internal/config"
	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/pkg/logger"
	"github.com/retava/chatdesk/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, log *logger.Logger, store core.Store, conversations *services.ConversationService, ai *services.AIService, messenger core.Messenger) *Server {
	webhookHandler := handlers.NewWebhookHandler(conversations, ai, messenger, log, cfg.WhatsAppVerifyToken)
	agentHandler := handlers.NewAgentHandler(store, conversations, messenger, log, cfg.JWTSecret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// WhatsApp webhook
	r.Get("/webhook", webhookHandler.Verify)
	r.Post("/webhook", webhookHandler.Receive)

	// Agent console
	r.Route("/api", func(api chi.Router) {
		api.Post("/agents/login", agentHandler.Login)

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
			protected.Get("/sessions/escalated", agentHandler.ListEscalated)
			protected.Get("/sessions/{sessionID}/messages", agentHandler.SessionMessages)
			protected.Post("/sessions/{sessionID}/reply", agentHandler.Reply)
			protected.Post("/sessions/{sessionID}/resolve", agentHandler.Resolve)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Fatal("server error", "error", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
