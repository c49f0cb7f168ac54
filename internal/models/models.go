package models

import (
	"time"
)

// Message direction and sender values stored in the messages table.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"

	SenderCustomer = "customer"
	SenderAI       = "ai"
	SenderHuman    = "human"
)

// Session resolution states. A session leaves "ongoing" exactly once.
const (
	SessionOngoing   = "ongoing"
	SessionResolved  = "resolved"
	SessionEscalated = "escalated"
	SessionAbandoned = "abandoned"
)

// StateAwaitingHuman is the customer conversation state set on escalation.
const StateAwaitingHuman = "awaiting_human"

// Customer represents one unique sender identity, keyed by phone number.
type Customer struct {
	ID                string    `db:"id" json:"id"`
	Phone             string    `db:"phone" json:"phone"`
	Name              string    `db:"name" json:"name"`
	ConversationState string    `db:"conversation_state" json:"conversation_state"`
	NeedsHuman        bool      `db:"needs_human" json:"needs_human"`
	PreferredLanguage *string   `db:"preferred_language" json:"preferred_language,omitempty"`
	LastActiveAt      time.Time `db:"last_active_at" json:"last_active_at"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Message is a single inbound or outbound utterance. Rows are append-only.
type Message struct {
	ID             string    `db:"id" json:"id"`
	CustomerID     string    `db:"customer_id" json:"customer_id"`
	SessionID      string    `db:"session_id" json:"session_id"`
	Content        string    `db:"content" json:"content"`
	Direction      string    `db:"direction" json:"direction"` // incoming | outgoing
	Sender         string    `db:"sender" json:"sender"`       // customer | ai | human
	ResponseTimeMs *int64    `db:"response_time_ms" json:"response_time_ms,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Session is a bounded conversation window for one customer.
type Session struct {
	ID               string     `db:"id" json:"id"`
	CustomerID       string     `db:"customer_id" json:"customer_id"`
	StartedAt        time.Time  `db:"started_at" json:"started_at"`
	EndedAt          *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	HumanMode        bool       `db:"human_mode" json:"human_mode"`
	CustomerMsgCount int        `db:"customer_msg_count" json:"customer_msg_count"`
	AIMsgCount       int        `db:"ai_msg_count" json:"ai_msg_count"`
	ResolutionStatus string     `db:"resolution_status" json:"resolution_status"`
	Summary          *string    `db:"summary" json:"summary,omitempty"`
}

// Product is one catalog item. Code is the stable external reference;
// the embedding is derived from SearchText and may be absent.
type Product struct {
	ID         string    `db:"id" json:"id"`
	Code       string    `db:"code" json:"code"`
	NameEN     string    `db:"name_en" json:"name_en"`
	NameZH     string    `db:"name_zh" json:"name_zh"`
	Size       string    `db:"size" json:"size"`
	Packaging  string    `db:"packaging" json:"packaging"`
	Price      float64   `db:"price" json:"price"`
	SearchText string    `db:"search_text" json:"search_text"`
	Embedding  []float32 `db:"embedding" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ProductAlias maps an alternate name to a product code. Many aliases may
// point at one code; inactive aliases are excluded from matching.
type ProductAlias struct {
	ID          string    `db:"id" json:"id"`
	Alias       string    `db:"alias" json:"alias"`
	ProductCode string    `db:"product_code" json:"product_code"`
	Active      bool      `db:"active" json:"active"`
	UsageCount  int       `db:"usage_count" json:"usage_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// KnowledgeEntry is a canned Q&A pair used to ground the model prompt.
type KnowledgeEntry struct {
	ID         string    `db:"id" json:"id"`
	Question   string    `db:"question" json:"question"`
	Answer     string    `db:"answer" json:"answer"`
	Category   string    `db:"category" json:"category"`
	Active     bool      `db:"active" json:"active"`
	UsageCount int       `db:"usage_count" json:"usage_count"`
	Confidence *float64  `db:"confidence" json:"confidence,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SessionLock is a short-lived advisory lock keyed by phone. At most one
// unexpired lock exists per phone.
type SessionLock struct {
	Phone      string    `db:"phone" json:"phone"`
	AcquiredAt time.Time `db:"acquired_at" json:"acquired_at"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
	Locked     bool      `db:"locked" json:"locked"`
}

// Expired reports whether the lock's expiry has passed at the given instant.
func (l *SessionLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Agent is a human support agent with access to the console endpoints.
type Agent struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
