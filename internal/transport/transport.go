// Package transport delivers rendered campaign messages through an email provider.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Tag is a provider-side message tag.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a fully rendered outbound email.
type Message struct {
	From     string
	FromName string
	ReplyTo  string
	To       string
	ToName   string
	Subject  string
	HTML     string
	Text     string
	Tags     []Tag
	Headers  map[string]string
}

// Transport sends one message and returns the provider's correlation id.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *Message) (string, error)
}

// SendError represents a send failure with retry classification
type SendError struct {
	Temporary bool
	Message   string
	Err       error
}

func (e *SendError) Error() string {
	return e.Message
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsTemporaryError reports whether a send may succeed on retry.
func IsTemporaryError(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Temporary
	}
	return true
}

func validate(msg *Message) error {
	if msg.To == "" {
		return &SendError{Message: "recipient is required"}
	}
	if msg.From == "" {
		return &SendError{Message: "sender is required"}
	}
	if msg.Subject == "" {
		return &SendError{Message: "subject is required"}
	}
	return nil
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

// LogTransport only logs messages. It is meant for development and dry runs.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a dry-run transport
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Name() string { return "log" }

// Send logs the message and returns a random correlation id.
func (t *LogTransport) Send(ctx context.Context, msg *Message) (string, error) {
	if err := validate(msg); err != nil {
		return "", err
	}
	id := uuid.New().String()
	t.logger.Info("dry-run send",
		"id", id,
		"to", msg.To,
		"subject", msg.Subject,
		"tags", msg.Tags,
		"html_bytes", len(msg.HTML),
	)
	return id, nil
}
