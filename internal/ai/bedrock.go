package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	// anthropicVersion is the required API version for Claude on Bedrock.
	anthropicVersion = "bedrock-2023-05-31"
	// maxInlineImageBytes is the largest image sent inline to Claude.
	maxInlineImageBytes = 3_750_000
)

// BedrockInvoker abstracts Bedrock model invocation for dependency inversion.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock drafts replies with Claude models on Amazon Bedrock.
type Bedrock struct {
	client BedrockInvoker
}

// NewBedrock creates a new Bedrock provider.
func NewBedrock(client BedrockInvoker) *Bedrock {
	return &Bedrock{client: client}
}

// claudeRequest is the Claude Messages API request format for Bedrock.
type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// claudeResponse is the Claude Messages API response format.
type claudeResponse struct {
	ID         string        `json:"id"`
	Content    []claudeBlock `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      struct {
		InputTokens          int `json:"input_tokens"`
		OutputTokens         int `json:"output_tokens"`
		CacheReadInputTokens int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// Generate implements Generator.
func (b *Bedrock) Generate(ctx context.Context, req Request) (*Response, error) {
	turns := conversation(req.History, UserPrompt(req))
	messages := make([]claudeMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, claudeMessage{
			Role:    t.Role,
			Content: []claudeBlock{{Type: "text", Text: t.Content}},
		})
	}
	if n := len(messages); n > 0 {
		messages[n-1].Content = append(messages[n-1].Content, imageBlocks(req.Files)...)
	}

	reqBody, err := json.Marshal(claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.Settings.MaxOutputTokens,
		System:           req.Settings.SystemPrompt,
		Messages:         messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	modelID := req.Settings.Model
	start := time.Now()
	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId: &modelID,
		Body:    reqBody,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invoke model: %v", ErrUpstream, err)
	}
	duration := time.Since(start)

	var resp claudeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, fmt.Errorf("%w: stop reason %s", ErrEmptyReply, resp.StopReason)
	}

	reply, summary, extracted := parseReply(text.String())
	return &Response{
		Summary:      summary,
		Reply:        reply,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CachedTokens: resp.Usage.CacheReadInputTokens,
		Duration:     duration,
		Extracted:    extracted,
		ResponseID:   resp.ID,
	}, nil
}

// imageBlocks converts image attachments Claude accepts inline.
func imageBlocks(files []File) []claudeBlock {
	var blocks []claudeBlock
	for _, f := range uploadable(files) {
		mediaType := strings.ToLower(f.MIME)
		switch mediaType {
		case "image/png", "image/jpeg", "image/gif", "image/webp":
		default:
			continue
		}
		if f.Size > maxInlineImageBytes {
			continue
		}
		blocks = append(blocks, claudeBlock{
			Type: "image",
			Source: &claudeSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      f.Content,
			},
		})
	}
	return blocks
}
