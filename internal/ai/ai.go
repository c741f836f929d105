// Package ai drafts email replies with a large language model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jarrod-lowe/rally-relay/internal/inbound"
	"github.com/jarrod-lowe/rally-relay/internal/settings"
)

// Error types for generation.
var (
	ErrNotConfigured = errors.New("provider not configured")
	ErrUpstream      = errors.New("upstream error")
	ErrEmptyReply    = errors.New("empty reply")
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MinUploadBytes is the smallest attachment forwarded to the model.
const MinUploadBytes = 5000

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string
	Content string
}

// File is an attachment offered to the model, base64 encoded.
type File struct {
	Filename string
	MIME     string
	Content  string
	Size     int64
}

// Request is everything needed to draft one reply.
type Request struct {
	MessageID      string
	Payload        *inbound.Payload
	Settings       settings.Effective
	History        []Turn
	NormalizedText string
	RequestContext string
	Files          []File
}

// Response is the outcome of a generation.
type Response struct {
	Summary         string
	Reply           string
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
	CachedTokens    int
	Duration        time.Duration
	UploadDuration  time.Duration
	Extracted       map[string]any
	ResponseID      string
}

// Generator drafts a reply.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Router sends each request to the provider that serves its model.
type Router struct {
	openAI  Generator
	bedrock Generator
}

// NewRouter creates a new Router. Either provider may be nil.
func NewRouter(openAI, bedrock Generator) *Router {
	return &Router{openAI: openAI, bedrock: bedrock}
}

// Generate implements Generator.
func (r *Router) Generate(ctx context.Context, req Request) (*Response, error) {
	g := r.openAI
	if IsBedrockModel(req.Settings.Model) {
		g = r.bedrock
	}
	if g == nil {
		return nil, fmt.Errorf("%w: no provider for model %q", ErrNotConfigured, req.Settings.Model)
	}
	return g.Generate(ctx, req)
}

// IsBedrockModel reports whether a model id names a Bedrock Claude model.
func IsBedrockModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"anthropic.", "us.anthropic.", "eu.anthropic.", "apac.anthropic.", "global.anthropic.", "claude"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// uploadable filters files down to those worth sending to the model.
func uploadable(files []File) []File {
	var out []File
	for _, f := range files {
		if f.Size >= MinUploadBytes && f.Content != "" {
			out = append(out, f)
		}
	}
	return out
}
