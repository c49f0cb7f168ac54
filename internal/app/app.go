package app

import (
	"context"
	"fmt"
	"time"

	"github.com/retava/chatdesk/internal/config"
	"github.com/retava/chatdesk/internal/core"
	db "github.com/retava/chatdesk/internal/core/database"
	"github.com/retava/chatdesk/internal/core/llm"
	"github.com/retava/chatdesk/internal/core/messaging"
	"github.com/retava/chatdesk/internal/pkg/logger"
	"github.com/retava/chatdesk/internal/services"
)

// App holds every long-lived component. Everything is constructed once here
// and injected; there are no package-level singletons.
type App struct {
	Store    core.Store
	Embedder *llm.GeminiEmbedder
	LLM      *llm.GeminiLLM
	Server   *Server
	Log      *logger.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	store, err := db.NewStoreClient(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store init: %w", err)
	}
	log.Info("database initialized and ready")

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embedder init: %w", err)
	}

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("llm init: %w", err)
	}

	whatsapp := messaging.NewWhatsAppClient(cfg)

	resolver := services.NewProductResolver(store, embedder, log)
	knowledge := services.NewKnowledgeRetriever(store, log)
	conversations := services.NewConversationService(store, log, time.Duration(cfg.LockTTLSeconds)*time.Second)
	ai := services.NewAIService(resolver, knowledge, llmProvider, store, log, cfg.CompanyName)

	server := NewServer(cfg, log, store, conversations, ai, whatsapp)

	return &App{
		Store:    store,
		Embedder: embedder,
		LLM:      llmProvider,
		Server:   server,
		Log:      log,
	}, nil
}

func (a *App) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.LLM != nil {
		_ = a.LLM.Close()
	}
}
