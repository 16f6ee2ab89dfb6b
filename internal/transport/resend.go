package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultResendURL = "https://api.resend.com"

// ResendConfig contains Resend API settings
type ResendConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Resend sends through the Resend HTTP API.
type Resend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewResend creates a Resend transport
func NewResend(cfg ResendConfig) *Resend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultResendURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Resend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (r *Resend) Name() string { return "resend" }

type resendEmail struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []Tag             `json:"tags,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

type resendError struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// Send posts the message to /emails and returns the Resend email id.
func (r *Resend) Send(ctx context.Context, msg *Message) (string, error) {
	if err := validate(msg); err != nil {
		return "", err
	}

	body := resendEmail{
		From:    formatAddress(msg.FromName, msg.From),
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
		Headers: msg.Headers,
		Tags:    sanitizeTags(msg.Tags),
	}

	var resp resendResponse
	if err := r.request(ctx, http.MethodPost, "/emails", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &SendError{Temporary: true, Message: "resend returned no email id"}
	}
	return resp.ID, nil
}

// request performs an HTTP request to the Resend API
func (r *Resend) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &SendError{Temporary: true, Message: fmt.Sprintf("do request: %v", err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		temporary := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		var errResp resendError
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Message == "" {
			return &SendError{Temporary: temporary, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
		}
		return &SendError{Temporary: temporary, Message: fmt.Sprintf("resend error %d: %s", resp.StatusCode, errResp.Message)}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// sanitizeTags keeps tag names and values within the provider's allowed
// alphabet (ASCII letters, digits, underscore and dash).
func sanitizeTags(tags []Tag) []Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		name := sanitizeTagValue(t.Name)
		if name == "" {
			continue
		}
		out = append(out, Tag{Name: name, Value: sanitizeTagValue(t.Value)})
	}
	return out
}

func sanitizeTagValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
