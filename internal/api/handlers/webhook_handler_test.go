package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/retava/chatdesk/internal/pkg/logger"
)

func newVerifyHandler(token string) *WebhookHandler {
	return NewWebhookHandler(nil, nil, nil, logger.NewNop(), token)
}

func TestVerifyHandshake(t *testing.T) {
	h := newVerifyHandler("secret-token")

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=challenge-42", nil)
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "challenge-42", rec.Body.String())
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	h := newVerifyHandler("secret-token")

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=x", nil)
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVerifyRejectsWrongMode(t *testing.T) {
	h := newVerifyHandler("secret-token")

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=unsubscribe&hub.verify_token=secret-token&hub.challenge=x", nil)
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiveAcksMalformedPayload(t *testing.T) {
	h := newVerifyHandler("secret-token")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json at all"))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	// Anything other than 200 makes WhatsApp retry the delivery.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReceiveAcksStatusCallback(t *testing.T) {
	h := newVerifyHandler("secret-token")

	body := `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.x","status":"delivered"}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
