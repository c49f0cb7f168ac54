package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/retava/chatdesk/internal/config"
	"github.com/retava/chatdesk/internal/core"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppClient sends text messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	phoneID    string
}

func NewWhatsAppClient(cfg *config.Config) *WhatsAppClient {
	return &WhatsAppClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		token:      cfg.WhatsAppToken,
		phoneID:    cfg.WhatsAppPhoneID,
	}
}

// WithBaseURL overrides the Graph API endpoint. Used in tests.
func (c *WhatsAppClient) WithBaseURL(baseURL string) *WhatsAppClient {
	c.baseURL = baseURL
	return c
}

type sendTextRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// SendText delivers one outbound text message to the given phone number.
func (c *WhatsAppClient) SendText(ctx context.Context, phone, text string) error {
	payload := sendTextRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             textBody{Body: text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

var _ core.Messenger = (*WhatsAppClient)(nil)

// IncomingMessage is the normalized shape the gateway hands to the pipeline.
type IncomingMessage struct {
	From      string
	Name      string
	Text      string
	MessageID string
	Type      string
}

// WebhookPayload mirrors the slice of the WhatsApp Cloud webhook body the
// gateway consumes. Everything else in the payload is ignored.
type WebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseIncoming extracts the first text message from a webhook payload.
// The second return is false when the payload carries no usable message
// (status callbacks, media types, empty batches).
func ParseIncoming(p *WebhookPayload) (*IncomingMessage, bool) {
	if p == nil {
		return nil, false
	}
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			if len(v.Messages) == 0 {
				continue
			}
			m := v.Messages[0]
			if m.Type != "text" || m.Text.Body == "" {
				continue
			}
			in := &IncomingMessage{
				From:      m.From,
				Text:      m.Text.Body,
				MessageID: m.ID,
				Type:      m.Type,
			}
			if len(v.Contacts) > 0 {
				in.Name = v.Contacts[0].Profile.Name
			}
			return in, true
		}
	}
	return nil, false
}
