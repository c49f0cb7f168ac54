package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/core/messaging"
	"github.com/retava/chatdesk/internal/pkg/logger"
	"github.com/retava/chatdesk/internal/services"
)

const processTimeout = 60 * time.Second

// WebhookHandler is the inbound gateway: it parses WhatsApp webhook
// deliveries, enforces the per-phone session lock, and drives the response
// pipeline. The transport is acked before processing starts, so everything
// past the ack is observable only through persisted state and logs.
type WebhookHandler struct {
	conversations *services.ConversationService
	ai            *services.AIService
	messenger     core.Messenger
	log           *logger.Logger
	verifyToken   string
}

func NewWebhookHandler(conversations *services.ConversationService, ai *services.AIService, messenger core.Messenger, log *logger.Logger, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		conversations: conversations,
		ai:            ai,
		messenger:     messenger,
		log:           log,
		verifyToken:   verifyToken,
	}
}

// Verify answers the WhatsApp subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// Receive accepts a webhook delivery, acks immediately, and processes the
// message in the background. Malformed or message-less payloads are acked
// too; WhatsApp retries on anything else.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload messaging.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.log.Warn("webhook payload decode failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	incoming, ok := messaging.ParseIncoming(&payload)
	w.WriteHeader(http.StatusOK)
	if !ok {
		return
	}

	go h.process(incoming)
}

func (h *WebhookHandler) process(incoming *messaging.IncomingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	log := h.log.With("phone", incoming.From, "message_id", incoming.MessageID)

	locked, err := h.conversations.CheckProtection(ctx, incoming.From)
	if err != nil {
		log.Error("lock check failed", "error", err)
		return
	}
	if locked {
		// Duplicate or near-simultaneous delivery; drop silently.
		log.Debug("dropping duplicate delivery, lock held")
		return
	}

	acquired, err := h.conversations.CreateProtection(ctx, incoming.From)
	if err != nil {
		log.Error("lock acquire failed", "error", err)
		return
	}
	if !acquired {
		log.Debug("dropping duplicate delivery, lost lock race")
		return
	}
	defer h.conversations.ReleaseProtection(ctx, incoming.From)

	started := time.Now()

	customer, err := h.conversations.GetOrCreateCustomer(ctx, incoming.From, incoming.Name)
	if err != nil {
		log.Error("customer resolution failed", "error", err)
		return
	}

	convCtx, err := h.conversations.BuildContext(ctx, customer)
	if err != nil {
		log.Error("context build failed", "error", err)
		return
	}

	if _, err := h.conversations.SaveIncomingMessage(ctx, customer, convCtx.CurrentSession, incoming.Text); err != nil {
		log.Error("inbound message persist failed", "error", err)
	}

	resp := h.ai.Process(ctx, incoming.Text, convCtx)

	latency := time.Since(started).Milliseconds()
	if _, err := h.conversations.SaveOutgoingMessage(ctx, customer, convCtx.CurrentSession, resp.Text, latency); err != nil {
		log.Error("outbound message persist failed", "error", err)
	}

	if err := h.messenger.SendText(ctx, incoming.From, resp.Text); err != nil {
		log.Error("reply send failed", "error", err)
	}

	if resp.RequiresHuman {
		if err := h.conversations.Escalate(ctx, customer, convCtx.CurrentSession, "intent: "+resp.Intent); err != nil {
			log.Error("escalation failed", "error", err)
		}
	} else if resp.Intent != services.IntentError {
		if err := h.conversations.UpdateState(ctx, customer.Phone, resp.Intent, nil); err != nil {
			log.Warn("state update failed", "error", err)
		}
	}

	log.Info("message processed",
		"intent", resp.Intent,
		"confidence", resp.Confidence,
		"requires_human", resp.RequiresHuman,
		"latency_ms", latency,
		"search_status", resp.Metadata["productSearchStatus"],
	)
}
