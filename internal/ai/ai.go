// Package ai generates campaign content (subject lines, email bodies) and
// classifies leads into personas using a large language model.
package ai

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNotConfigured is returned by a nil or disabled completer.
	ErrNotConfigured = errors.New("ai provider not configured")

	// ErrInvalidResponse means the model answered with something unusable.
	ErrInvalidResponse = errors.New("invalid ai response")
)

// Role of a chat message
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single-shot completion request.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completer returns the text of a model completion.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

var (
	codeFence  = regexp.MustCompile("```(?:json)?\\n?|\\n?```")
	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// cleanJSON strips markdown code fences and returns the outermost JSON object
// found in the model output.
func cleanJSON(content string) string {
	s := strings.TrimSpace(codeFence.ReplaceAllString(content, ""))
	if m := jsonObject.FindString(s); m != "" {
		return m
	}
	return s
}
