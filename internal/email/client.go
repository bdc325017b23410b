// Package email sends transactional messages through the Resend HTTP API:
// single sends for reminders and downgrade notices, and chunked batch sends
// for unlock deliveries, all routed through the shared retry client.
package email

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/microcosm-cc/bluemonday"

	"github.com/afterword/heartbeat/internal/retryhttp"
)

const (
	batchLimit        = 100
	defaultResendBase = "https://api.resend.com"

	// unsubscribeHeader is the fixed mailto List-Unsubscribe value sent on
	// every outbound email (no List-Unsubscribe-Post header is sent).
	unsubscribeHeader = "<mailto:afterword.app@gmail.com?subject=Unsubscribe>"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Client sends email through Resend.
type Client struct {
	apiKey   string
	from     string
	baseURL  string
	http     *retryhttp.Client
	sanitize *bluemonday.Policy
}

// New creates a Client. fromEmail is wrapped in a display name ("Afterword
// <fromEmail>") as Resend expects in the `from` field.
func New(apiKey, fromEmail string, http *retryhttp.Client) *Client {
	return &Client{
		apiKey:   apiKey,
		from:     fmt.Sprintf("Afterword <%s>", fromEmail),
		baseURL:  defaultResendBase,
		http:     http,
		sanitize: bluemonday.StrictPolicy(),
	}
}

// SetBaseURL overrides the Resend API base URL, for pointing a Client at a
// test server. Production callers never need this; New already defaults to
// the real Resend endpoint.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// SanitizeText strips any HTML from a user-controlled string (sender_name,
// entry title) before it is interpolated into an HTML email body.
func (c *Client) SanitizeText(s string) string {
	return c.sanitize.Sanitize(s)
}

type resendMessage struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text,omitempty"`
	HTML    string            `json:"html,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *Client) toResendMessage(msg Message) resendMessage {
	return resendMessage{
		From:    c.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
		Headers: map[string]string{
			"List-Unsubscribe": unsubscribeHeader,
		},
	}
}

// Send delivers a single message, carrying idempotencyKey as the
// Idempotency-Key header if non-empty.
func (c *Client) Send(ctx context.Context, msg Message, idempotencyKey string) error {
	body, err := json.Marshal(c.toResendMessage(msg))
	if err != nil {
		return fmt.Errorf("encode email message: %w", err)
	}

	resp, err := c.http.PostJSON(ctx, c.baseURL+"/emails", body, idempotencyKey, c.authHeaders())
	if err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("resend returned status %d for %s: %s", resp.StatusCode, msg.To, resp.Body)
	}
	return nil
}

// SendBatch delivers msgs via the batch endpoint, chunked at 100 messages
// per call. idempotencyKeyBase is used as-is for a single chunk; when more
// than one chunk is required, "-<chunk_index>" is appended to each chunk's
// key. A failed chunk aborts the remaining chunks; the caller is
// responsible for releasing any entry locks on error.
func (c *Client) SendBatch(ctx context.Context, msgs []Message, idempotencyKeyBase string) error {
	if len(msgs) == 0 {
		return nil
	}

	chunks := chunkMessages(msgs, batchLimit)
	multiChunk := len(chunks) > 1

	for i, chunk := range chunks {
		key := idempotencyKeyBase
		if multiChunk {
			key = fmt.Sprintf("%s-%d", idempotencyKeyBase, i)
		}

		payload := make([]resendMessage, len(chunk))
		for j, m := range chunk {
			payload[j] = c.toResendMessage(m)
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode email batch chunk %d: %w", i, err)
		}

		resp, err := c.http.PostJSON(ctx, c.baseURL+"/emails/batch", body, key, c.authHeaders())
		if err != nil {
			return fmt.Errorf("send email batch chunk %d: %w", i, err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("resend batch returned status %d for chunk %d: %s", resp.StatusCode, i, resp.Body)
		}
	}
	return nil
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func chunkMessages(msgs []Message, size int) [][]Message {
	var chunks [][]Message
	for i := 0; i < len(msgs); i += size {
		end := i + size
		if end > len(msgs) {
			end = len(msgs)
		}
		chunks = append(chunks, msgs[i:end])
	}
	return chunks
}
