package core

import (
	"context"
	"time"

	"github.com/retava/chatdesk/internal/models"
)

// Store defines all persistence operations the services need. It abstracts
// Postgres/pgvector so higher layers never depend on a specific DB.
// Not-found is represented as (nil, nil) for single-row lookups.
type Store interface {
	// Customers
	GetCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	TouchCustomer(ctx context.Context, phone string) error
	UpdateCustomerState(ctx context.Context, phone, state string, needsHuman *bool) error
	UpdateCustomerLanguage(ctx context.Context, phone, language string) error

	// Messages
	InsertMessage(ctx context.Context, m *models.Message) error
	ListRecentMessages(ctx context.Context, customerID string, limit int) ([]models.Message, error)
	ListSessionMessages(ctx context.Context, sessionID string) ([]models.Message, error)

	// Sessions
	GetOngoingSession(ctx context.Context, customerID string, since time.Time) (*models.Session, error)
	GetSessionByID(ctx context.Context, id string) (*models.Session, error)
	CreateSession(ctx context.Context, s *models.Session) error
	IncrementSessionCounters(ctx context.Context, sessionID string, customerDelta, aiDelta int) error
	UpdateSessionStatus(ctx context.Context, sessionID, status string, summary *string) error
	SetSessionHumanMode(ctx context.Context, sessionID string, humanMode bool) error
	ListSessionsByStatus(ctx context.Context, status string, limit int) ([]models.Session, error)

	// Products
	SearchProductsExact(ctx context.Context, query string, limit int) ([]models.Product, error)
	GetProductsByCodes(ctx context.Context, codes []string) ([]models.Product, error)
	SearchProductsFullText(ctx context.Context, query string, limit int) ([]models.Product, error)
	SearchProductsSubstring(ctx context.Context, query string, limit int) ([]models.Product, error)
	SampleProducts(ctx context.Context, limit int) ([]models.Product, error)
	SearchProductsByEmbedding(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]models.Product, error)

	// Product aliases
	FindActiveAliases(ctx context.Context, query string) ([]models.ProductAlias, error)
	IncrementAliasUsage(ctx context.Context, aliasID string) error

	// Knowledge base
	SearchKnowledge(ctx context.Context, query, category string, limit int) ([]models.KnowledgeEntry, error)
	IncrementKnowledgeUsage(ctx context.Context, entryID string) error

	// Session locks
	GetSessionLock(ctx context.Context, phone string) (*models.SessionLock, error)
	AcquireSessionLock(ctx context.Context, phone string, ttl time.Duration) (bool, error)
	ReleaseSessionLock(ctx context.Context, phone string) error

	// Agents
	GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error)
	CreateAgent(ctx context.Context, a *models.Agent) error

	Close() error
}

// EmbeddingProvider turns texts into fixed-length float vectors.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatTurn is one prior utterance handed to the model as history.
type ChatTurn struct {
	Role    string // "user" or "model"
	Content string
}

// LLMProvider generates a reply from a system prompt, ordered history, and
// the current user message.
type LLMProvider interface {
	Complete(ctx context.Context, systemPrompt string, history []ChatTurn, userMessage string) (string, error)
}

// Messenger sends outbound text to a customer over the messaging platform.
type Messenger interface {
	SendText(ctx context.Context, phone, text string) error
}
