package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/models"
	"github.com/retava/chatdesk/internal/pkg/logger"
)

const (
	// SessionWindow bounds how long an ongoing session is considered current.
	SessionWindow = 24 * time.Hour

	// DefaultLockTTL is the session-lock lifetime; expiry is the safety net
	// against a crash without release, not a sliding refresh.
	DefaultLockTTL = 30 * time.Second

	historyLimit = 10
)

// ConversationContext is what the orchestrator gets to work with for one
// inbound event.
type ConversationContext struct {
	Customer       *models.Customer
	RecentMessages []models.Message
	CurrentSession *models.Session
}

// ConversationService owns customer/session lifecycle, message persistence,
// and the store-backed advisory lock keyed by phone number.
type ConversationService struct {
	store   core.Store
	log     *logger.Logger
	lockTTL time.Duration
}

func NewConversationService(store core.Store, log *logger.Logger, lockTTL time.Duration) *ConversationService {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &ConversationService{store: store, log: log, lockTTL: lockTTL}
}

// GetOrCreateCustomer is an idempotent lookup-or-insert. On a hit it bumps
// last_active_at; on a miss it creates the row.
func (s *ConversationService) GetOrCreateCustomer(ctx context.Context, phone, name string) (*models.Customer, error) {
	customer, err := s.store.GetCustomerByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	if customer != nil {
		if err := s.store.TouchCustomer(ctx, phone); err != nil {
			s.log.Warn("touch customer failed", "phone", phone, "error", err)
		}
		return customer, nil
	}

	now := time.Now()
	customer = &models.Customer{
		ID:                uuid.NewString(),
		Phone:             phone,
		Name:              name,
		ConversationState: "new",
		LastActiveAt:      now,
		CreatedAt:         now,
	}
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return customer, nil
}

// GetOrCreateSession returns the customer's sole ongoing session started
// within the last 24 hours, creating a fresh one when none exists.
func (s *ConversationService) GetOrCreateSession(ctx context.Context, customer *models.Customer) (*models.Session, error) {
	since := time.Now().Add(-SessionWindow)
	session, err := s.store.GetOngoingSession(ctx, customer.ID, since)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if session != nil {
		return session, nil
	}

	session = &models.Session{
		ID:               uuid.NewString(),
		CustomerID:       customer.ID,
		StartedAt:        time.Now(),
		ResolutionStatus: models.SessionOngoing,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// SaveIncomingMessage appends a customer message and bumps the session's
// customer counter.
func (s *ConversationService) SaveIncomingMessage(ctx context.Context, customer *models.Customer, session *models.Session, content string) (*models.Message, error) {
	return s.saveMessage(ctx, customer, session, content, models.DirectionIncoming, models.SenderCustomer, nil)
}

// SaveOutgoingMessage appends an AI reply with its response latency and
// bumps the session's AI counter.
func (s *ConversationService) SaveOutgoingMessage(ctx context.Context, customer *models.Customer, session *models.Session, content string, responseTimeMs int64) (*models.Message, error) {
	return s.saveMessage(ctx, customer, session, content, models.DirectionOutgoing, models.SenderAI, &responseTimeMs)
}

// SaveHumanMessage appends an agent-authored outbound message.
func (s *ConversationService) SaveHumanMessage(ctx context.Context, customer *models.Customer, session *models.Session, content string) (*models.Message, error) {
	return s.saveMessage(ctx, customer, session, content, models.DirectionOutgoing, models.SenderHuman, nil)
}

func (s *ConversationService) saveMessage(ctx context.Context, customer *models.Customer, session *models.Session, content, direction, sender string, latency *int64) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.NewString(),
		CustomerID:     customer.ID,
		SessionID:      session.ID,
		Content:        content,
		Direction:      direction,
		Sender:         sender,
		ResponseTimeMs: latency,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	customerDelta, aiDelta := 0, 0
	if sender == models.SenderCustomer {
		customerDelta = 1
	} else if sender == models.SenderAI {
		aiDelta = 1
	}
	if customerDelta > 0 || aiDelta > 0 {
		if err := s.store.IncrementSessionCounters(ctx, session.ID, customerDelta, aiDelta); err != nil {
			s.log.Warn("session counter increment failed", "session_id", session.ID, "error", err)
		}
	}
	return msg, nil
}

// BuildContext assembles the customer, their last 10 messages in
// chronological order, and the current session.
func (s *ConversationService) BuildContext(ctx context.Context, customer *models.Customer) (*ConversationContext, error) {
	messages, err := s.store.ListRecentMessages(ctx, customer.ID, historyLimit)
	if err != nil {
		s.log.Warn("recent messages lookup failed", "customer_id", customer.ID, "error", err)
		messages = nil
	}

	session, err := s.GetOrCreateSession(ctx, customer)
	if err != nil {
		return nil, err
	}

	return &ConversationContext{
		Customer:       customer,
		RecentMessages: messages,
		CurrentSession: session,
	}, nil
}

// UpdateState tags the customer's conversation state after a turn.
func (s *ConversationService) UpdateState(ctx context.Context, phone, state string, needsHuman *bool) error {
	return s.store.UpdateCustomerState(ctx, phone, state, needsHuman)
}

// UpdateLanguage persists a changed language preference.
func (s *ConversationService) UpdateLanguage(ctx context.Context, phone, language string) error {
	return s.store.UpdateCustomerLanguage(ctx, phone, language)
}

// Escalate hands the conversation to a human: flags the customer, marks the
// session escalated, and flips it into human mode.
func (s *ConversationService) Escalate(ctx context.Context, customer *models.Customer, session *models.Session, reason string) error {
	needsHuman := true
	if err := s.store.UpdateCustomerState(ctx, customer.Phone, models.StateAwaitingHuman, &needsHuman); err != nil {
		return fmt.Errorf("flag customer for escalation: %w", err)
	}
	if session != nil {
		if err := s.store.UpdateSessionStatus(ctx, session.ID, models.SessionEscalated, &reason); err != nil {
			s.log.Warn("session escalation update failed", "session_id", session.ID, "error", err)
		}
		if err := s.store.SetSessionHumanMode(ctx, session.ID, true); err != nil {
			s.log.Warn("session human mode update failed", "session_id", session.ID, "error", err)
		}
	}
	s.log.Info("conversation escalated", "phone", customer.Phone, "reason", reason)
	return nil
}

// EndSession moves a session to a terminal status with an optional summary.
func (s *ConversationService) EndSession(ctx context.Context, sessionID, status string, summary *string) error {
	switch status {
	case models.SessionResolved, models.SessionEscalated, models.SessionAbandoned:
	default:
		return fmt.Errorf("invalid terminal session status %q", status)
	}
	return s.store.UpdateSessionStatus(ctx, sessionID, status, summary)
}

// CheckProtection reports whether an unexpired lock is held for the phone.
// An expired lock counts as absent and is cleared lazily.
func (s *ConversationService) CheckProtection(ctx context.Context, phone string) (bool, error) {
	lock, err := s.store.GetSessionLock(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("lock lookup: %w", err)
	}
	if lock == nil {
		return false, nil
	}
	if lock.Expired(time.Now()) {
		if err := s.store.ReleaseSessionLock(ctx, phone); err != nil {
			s.log.Warn("stale lock cleanup failed", "phone", phone, "error", err)
		}
		return false, nil
	}
	return lock.Locked, nil
}

// CreateProtection acquires the advisory lock for the phone. Returns false
// when another delivery already holds an unexpired lock.
func (s *ConversationService) CreateProtection(ctx context.Context, phone string) (bool, error) {
	return s.store.AcquireSessionLock(ctx, phone, s.lockTTL)
}

// ReleaseProtection frees the lock. Must run on every exit path of
// processing; expiry covers the crash case.
func (s *ConversationService) ReleaseProtection(ctx context.Context, phone string) {
	if err := s.store.ReleaseSessionLock(ctx, phone); err != nil {
		s.log.Warn("lock release failed", "phone", phone, "error", err)
	}
}
