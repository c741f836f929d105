// Package summary produces the one-line summary stored with each AI reply.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	// DefaultModelID is the default Bedrock model for summarization.
	DefaultModelID = "anthropic.claude-haiku-4-5-20251001-v1:0"
	// DefaultMaxLength is the default maximum summary length in characters.
	DefaultMaxLength = 256
	// maxReplyInput is the maximum reply runes sent to the model.
	maxReplyInput = 4000
	// anthropicVersion is the required API version for Claude on Bedrock.
	anthropicVersion = "bedrock-2023-05-31"
)

// Summarizer generates a short summary of a drafted reply.
type Summarizer interface {
	Summarize(ctx context.Context, subject, sender, reply string) (string, error)
}

// BedrockInvoker abstracts Bedrock model invocation for dependency inversion.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config holds configuration for the summarizer.
type Config struct {
	ModelID   string
	MaxLength int
}

// BedrockSummarizer summarizes replies via Amazon Bedrock Claude models.
type BedrockSummarizer struct {
	client    BedrockInvoker
	modelID   string
	maxLength int
}

// NewBedrockSummarizer creates a new BedrockSummarizer.
func NewBedrockSummarizer(client BedrockInvoker, cfg Config) *BedrockSummarizer {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &BedrockSummarizer{
		client:    client,
		modelID:   modelID,
		maxLength: maxLength,
	}
}

// claudeRequest is the Claude Messages API request format for Bedrock.
type claudeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const promptTemplate = `Summarize this email reply in one short phrase.

- Describe the answer given or the action promised
- Maximum 100 characters. Be specific, not vague.
- Output ONLY the summary phrase. No quotes, no preamble.

Subject: %s
To: %s
---
%s`

// Summarize generates a short summary of a reply.
func (s *BedrockSummarizer) Summarize(ctx context.Context, subject, sender, reply string) (string, error) {
	if runes := []rune(reply); len(runes) > maxReplyInput {
		reply = string(runes[:maxReplyInput])
	}

	reqBody, err := json.Marshal(claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        s.maxLength,
		Messages: []message{
			{Role: "user", Content: fmt.Sprintf(promptTemplate, subject, sender, reply)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	modelID := s.modelID
	output, err := s.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId: &modelID,
		Body:    reqBody,
	})
	if err != nil {
		return "", fmt.Errorf("invoke model: %w", err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(resp.Content) == 0 {
		return "", nil
	}

	return truncateAtWordBoundary(strings.TrimSpace(resp.Content[0].Text), s.maxLength), nil
}

// FirstParagraph returns the reply's first non-empty paragraph on one line,
// truncated to maxLen at a word boundary.
func FirstParagraph(reply string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	normalized := strings.ReplaceAll(reply, "\r\n", "\n")
	for _, para := range strings.Split(normalized, "\n\n") {
		line := strings.Join(strings.Fields(para), " ")
		if line != "" {
			return truncateAtWordBoundary(line, maxLen)
		}
	}
	return ""
}

// truncateAtWordBoundary truncates text to maxLen characters at a word boundary,
// appending "..." if truncated.
func truncateAtWordBoundary(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}

	// Reserve space for "..."
	cutoff := maxLen - 3
	if cutoff <= 0 {
		return text[:maxLen]
	}

	lastSpace := strings.LastIndex(text[:cutoff], " ")
	if lastSpace > 0 {
		return text[:lastSpace] + "..."
	}

	return text[:cutoff] + "..."
}
