package services

import (
	"context"
	"time"

	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/models"
)

// fakeStore implements core.Store with overridable function fields. Any
// hook left nil behaves as an empty store.
type fakeStore struct {
	getCustomerByPhone        func(ctx context.Context, phone string) (*models.Customer, error)
	getCustomerByID           func(ctx context.Context, id string) (*models.Customer, error)
	createCustomer            func(ctx context.Context, c *models.Customer) error
	touchCustomer             func(ctx context.Context, phone string) error
	updateCustomerState       func(ctx context.Context, phone, state string, needsHuman *bool) error
	updateCustomerLanguage    func(ctx context.Context, phone, language string) error
	insertMessage             func(ctx context.Context, m *models.Message) error
	listRecentMessages        func(ctx context.Context, customerID string, limit int) ([]models.Message, error)
	listSessionMessages       func(ctx context.Context, sessionID string) ([]models.Message, error)
	getOngoingSession         func(ctx context.Context, customerID string, since time.Time) (*models.Session, error)
	getSessionByID            func(ctx context.Context, id string) (*models.Session, error)
	createSession             func(ctx context.Context, s *models.Session) error
	incrementSessionCounters  func(ctx context.Context, sessionID string, customerDelta, aiDelta int) error
	updateSessionStatus       func(ctx context.Context, sessionID, status string, summary *string) error
	setSessionHumanMode       func(ctx context.Context, sessionID string, humanMode bool) error
	listSessionsByStatus      func(ctx context.Context, status string, limit int) ([]models.Session, error)
	searchProductsExact       func(ctx context.Context, query string, limit int) ([]models.Product, error)
	getProductsByCodes        func(ctx context.Context, codes []string) ([]models.Product, error)
	searchProductsFullText    func(ctx context.Context, query string, limit int) ([]models.Product, error)
	searchProductsSubstring   func(ctx context.Context, query string, limit int) ([]models.Product, error)
	sampleProducts            func(ctx context.Context, limit int) ([]models.Product, error)
	searchProductsByEmbedding func(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]models.Product, error)
	findActiveAliases         func(ctx context.Context, query string) ([]models.ProductAlias, error)
	incrementAliasUsage       func(ctx context.Context, aliasID string) error
	searchKnowledge           func(ctx context.Context, query, category string, limit int) ([]models.KnowledgeEntry, error)
	incrementKnowledgeUsage   func(ctx context.Context, entryID string) error
	getSessionLock            func(ctx context.Context, phone string) (*models.SessionLock, error)
	acquireSessionLock        func(ctx context.Context, phone string, ttl time.Duration) (bool, error)
	releaseSessionLock        func(ctx context.Context, phone string) error
	getAgentByEmail           func(ctx context.Context, email string) (*models.Agent, error)
	createAgent               func(ctx context.Context, a *models.Agent) error
}

var _ core.Store = (*fakeStore)(nil)

func (f *fakeStore) GetCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	if f.getCustomerByPhone != nil {
		return f.getCustomerByPhone(ctx, phone)
	}
	return nil, nil
}

func (f *fakeStore) GetCustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	if f.getCustomerByID != nil {
		return f.getCustomerByID(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	if f.createCustomer != nil {
		return f.createCustomer(ctx, c)
	}
	return nil
}

func (f *fakeStore) TouchCustomer(ctx context.Context, phone string) error {
	if f.touchCustomer != nil {
		return f.touchCustomer(ctx, phone)
	}
	return nil
}

func (f *fakeStore) UpdateCustomerState(ctx context.Context, phone, state string, needsHuman *bool) error {
	if f.updateCustomerState != nil {
		return f.updateCustomerState(ctx, phone, state, needsHuman)
	}
	return nil
}

func (f *fakeStore) UpdateCustomerLanguage(ctx context.Context, phone, language string) error {
	if f.updateCustomerLanguage != nil {
		return f.updateCustomerLanguage(ctx, phone, language)
	}
	return nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, m *models.Message) error {
	if f.insertMessage != nil {
		return f.insertMessage(ctx, m)
	}
	return nil
}

func (f *fakeStore) ListRecentMessages(ctx context.Context, customerID string, limit int) ([]models.Message, error) {
	if f.listRecentMessages != nil {
		return f.listRecentMessages(ctx, customerID, limit)
	}
	return nil, nil
}

func (f *fakeStore) ListSessionMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if f.listSessionMessages != nil {
		return f.listSessionMessages(ctx, sessionID)
	}
	return nil, nil
}

func (f *fakeStore) GetOngoingSession(ctx context.Context, customerID string, since time.Time) (*models.Session, error) {
	if f.getOngoingSession != nil {
		return f.getOngoingSession(ctx, customerID, since)
	}
	return nil, nil
}

func (f *fakeStore) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	if f.getSessionByID != nil {
		return f.getSessionByID(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, s *models.Session) error {
	if f.createSession != nil {
		return f.createSession(ctx, s)
	}
	return nil
}

func (f *fakeStore) IncrementSessionCounters(ctx context.Context, sessionID string, customerDelta, aiDelta int) error {
	if f.incrementSessionCounters != nil {
		return f.incrementSessionCounters(ctx, sessionID, customerDelta, aiDelta)
	}
	return nil
}

func (f *fakeStore) UpdateSessionStatus(ctx context.Context, sessionID, status string, summary *string) error {
	if f.updateSessionStatus != nil {
		return f.updateSessionStatus(ctx, sessionID, status, summary)
	}
	return nil
}

func (f *fakeStore) SetSessionHumanMode(ctx context.Context, sessionID string, humanMode bool) error {
	if f.setSessionHumanMode != nil {
		return f.setSessionHumanMode(ctx, sessionID, humanMode)
	}
	return nil
}

func (f *fakeStore) ListSessionsByStatus(ctx context.Context, status string, limit int) ([]models.Session, error) {
	if f.listSessionsByStatus != nil {
		return f.listSessionsByStatus(ctx, status, limit)
	}
	return nil, nil
}

func (f *fakeStore) SearchProductsExact(ctx context.Context, query string, limit int) ([]models.Product, error) {
	if f.searchProductsExact != nil {
		return f.searchProductsExact(ctx, query, limit)
	}
	return nil, nil
}

func (f *fakeStore) GetProductsByCodes(ctx context.Context, codes []string) ([]models.Product, error) {
	if f.getProductsByCodes != nil {
		return f.getProductsByCodes(ctx, codes)
	}
	return nil, nil
}

func (f *fakeStore) SearchProductsFullText(ctx context.Context, query string, limit int) ([]models.Product, error) {
	if f.searchProductsFullText != nil {
		return f.searchProductsFullText(ctx, query, limit)
	}
	return nil, nil
}

func (f *fakeStore) SearchProductsSubstring(ctx context.Context, query string, limit int) ([]models.Product, error) {
	if f.searchProductsSubstring != nil {
		return f.searchProductsSubstring(ctx, query, limit)
	}
	return nil, nil
}

func (f *fakeStore) SampleProducts(ctx context.Context, limit int) ([]models.Product, error) {
	if f.sampleProducts != nil {
		return f.sampleProducts(ctx, limit)
	}
	return nil, nil
}

func (f *fakeStore) SearchProductsByEmbedding(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]models.Product, error) {
	if f.searchProductsByEmbedding != nil {
		return f.searchProductsByEmbedding(ctx, vec, minSimilarity, limit)
	}
	return nil, nil
}

func (f *fakeStore) FindActiveAliases(ctx context.Context, query string) ([]models.ProductAlias, error) {
	if f.findActiveAliases != nil {
		return f.findActiveAliases(ctx, query)
	}
	return nil, nil
}

func (f *fakeStore) IncrementAliasUsage(ctx context.Context, aliasID string) error {
	if f.incrementAliasUsage != nil {
		return f.incrementAliasUsage(ctx, aliasID)
	}
	return nil
}

func (f *fakeStore) SearchKnowledge(ctx context.Context, query, category string, limit int) ([]models.KnowledgeEntry, error) {
	if f.searchKnowledge != nil {
		return f.searchKnowledge(ctx, query, category, limit)
	}
	return nil, nil
}

func (f *fakeStore) IncrementKnowledgeUsage(ctx context.Context, entryID string) error {
	if f.incrementKnowledgeUsage != nil {
		return f.incrementKnowledgeUsage(ctx, entryID)
	}
	return nil
}

func (f *fakeStore) GetSessionLock(ctx context.Context, phone string) (*models.SessionLock, error) {
	if f.getSessionLock != nil {
		return f.getSessionLock(ctx, phone)
	}
	return nil, nil
}

func (f *fakeStore) AcquireSessionLock(ctx context.Context, phone string, ttl time.Duration) (bool, error) {
	if f.acquireSessionLock != nil {
		return f.acquireSessionLock(ctx, phone, ttl)
	}
	return true, nil
}

func (f *fakeStore) ReleaseSessionLock(ctx context.Context, phone string) error {
	if f.releaseSessionLock != nil {
		return f.releaseSessionLock(ctx, phone)
	}
	return nil
}

func (f *fakeStore) GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error) {
	if f.getAgentByEmail != nil {
		return f.getAgentByEmail(ctx, email)
	}
	return nil, nil
}

func (f *fakeStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	if f.createAgent != nil {
		return f.createAgent(ctx, a)
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeEmbedder returns a fixed vector, or an error when set.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

// fakeLLM returns a canned reply and records what it was asked.
type fakeLLM struct {
	reply        string
	err          error
	systemPrompt string
	userMessage  string
	history      []core.ChatTurn
}

func (f *fakeLLM) Complete(_ context.Context, systemPrompt string, history []core.ChatTurn, userMessage string) (string, error) {
	f.systemPrompt = systemPrompt
	f.history = history
	f.userMessage = userMessage
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}
