package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/models"
	"github.com/retava/chatdesk/internal/pkg/logger"
	"github.com/retava/chatdesk/internal/services"
)

// AgentHandler serves the human-agent console: login, escalated session
// review, manual replies, and session resolution. Resolving a session is
// the path that reverses an escalation.
type AgentHandler struct {
	store         core.Store
	conversations *services.ConversationService
	messenger     core.Messenger
	log           *logger.Logger
	jwtSecret     string
}

func NewAgentHandler(store core.Store, conversations *services.ConversationService, messenger core.Messenger, log *logger.Logger, jwtSecret string) *AgentHandler {
	return &AgentHandler{
		store:         store,
		conversations: conversations,
		messenger:     messenger,
		log:           log,
		jwtSecret:     jwtSecret,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AgentHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	agent, err := h.store.GetAgentByEmail(r.Context(), req.Email)
	if err != nil || agent == nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	claims := jwt.MapClaims{
		"agent_id": agent.ID,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte(h.jwtSecret))
	if err != nil {
		http.Error(w, "token generation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

// ListEscalated returns sessions waiting for a human.
func (h *AgentHandler) ListEscalated(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessionsByStatus(r.Context(), models.SessionEscalated, 50)
	if err != nil {
		h.log.Error("escalated session list failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"sessions": sessions})
}

// SessionMessages returns the full transcript of one session.
func (h *AgentHandler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.store.GetSessionByID(r.Context(), sessionID)
	if err != nil || session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	messages, err := h.store.ListSessionMessages(r.Context(), sessionID)
	if err != nil {
		h.log.Error("session transcript lookup failed", "session_id", sessionID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"session": session, "messages": messages})
}

type replyRequest struct {
	Text string `json:"text"`
}

// Reply sends an agent-authored message to the session's customer and
// persists it as a human-sender message.
func (h *AgentHandler) Reply(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	session, customer, ok := h.loadSessionCustomer(w, r, sessionID)
	if !ok {
		return
	}

	if err := h.messenger.SendText(r.Context(), customer.Phone, req.Text); err != nil {
		h.log.Error("agent reply send failed", "session_id", sessionID, "error", err)
		http.Error(w, "send failed", http.StatusBadGateway)
		return
	}
	if _, err := h.conversations.SaveHumanMessage(r.Context(), customer, session, req.Text); err != nil {
		h.log.Error("agent reply persist failed", "session_id", sessionID, "error", err)
	}
	writeJSON(w, map[string]string{"status": "sent"})
}

type resolveRequest struct {
	Summary string `json:"summary"`
}

// Resolve closes an escalated session and clears the customer's
// needs-human flag.
func (h *AgentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req resolveRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	session, customer, ok := h.loadSessionCustomer(w, r, sessionID)
	if !ok {
		return
	}

	var summary *string
	if req.Summary != "" {
		summary = &req.Summary
	}
	if err := h.conversations.EndSession(r.Context(), session.ID, models.SessionResolved, summary); err != nil {
		h.log.Error("session resolve failed", "session_id", sessionID, "error", err)
		http.Error(w, "resolve failed", http.StatusInternalServerError)
		return
	}

	needsHuman := false
	if err := h.conversations.UpdateState(r.Context(), customer.Phone, "resolved", &needsHuman); err != nil {
		h.log.Warn("customer state reset failed", "phone", customer.Phone, "error", err)
	}
	writeJSON(w, map[string]string{"status": "resolved"})
}

func (h *AgentHandler) loadSessionCustomer(w http.ResponseWriter, r *http.Request, sessionID string) (*models.Session, *models.Customer, bool) {
	session, err := h.store.GetSessionByID(r.Context(), sessionID)
	if err != nil || session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, nil, false
	}

	customer, err := h.store.GetCustomerByID(r.Context(), session.CustomerID)
	if err != nil || customer == nil {
		http.Error(w, "customer not found", http.StatusNotFound)
		return nil, nil, false
	}
	return session, customer, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
