package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Logger  *slog.Logger
}

// OpenAI drafts replies with the OpenAI Responses API.
type OpenAI struct {
	apiKey  string
	apiBase string
	client  HTTPDoer
	logger  *slog.Logger
}

// NewOpenAI creates a new OpenAI client.
func NewOpenAI(client HTTPDoer, cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultOpenAIBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		client:  client,
		logger:  cfg.Logger,
	}
}

type responsesRequest struct {
	Model           string            `json:"model"`
	Instructions    string            `json:"instructions,omitempty"`
	Input           []inputMessage    `json:"input"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
	Reasoning       *reasoningConfig  `json:"reasoning,omitempty"`
	Text            *textConfig       `json:"text,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Store           bool              `json:"store"`
}

type inputMessage struct {
	Role    string         `json:"role"`
	Content []contentInput `json:"content"`
}

type contentInput struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

type reasoningConfig struct {
	Effort string `json:"effort"`
}

type textConfig struct {
	Verbosity string `json:"verbosity"`
}

type responsesResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output []outputItem   `json:"output"`
	Usage  responsesUsage `json:"usage"`
	Error  *apiError      `json:"error"`
}

type outputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content []outputContent `json:"content"`
}

type outputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesUsage struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	InputTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
	OutputTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type fileResponse struct {
	ID string `json:"id"`
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key missing", ErrNotConfigured)
	}

	uploadStart := time.Now()
	var parts []contentInput
	files := uploadable(req.Files)
	for _, f := range files {
		id, err := o.uploadFile(ctx, f)
		if err != nil {
			o.logger.WarnContext(ctx, "Failed to upload attachment to model",
				slog.String("message_id", req.MessageID),
				slog.String("filename", f.Filename),
				slog.String("error", err.Error()),
			)
			continue
		}
		kind := "input_file"
		if strings.HasPrefix(strings.ToLower(f.MIME), "image/") {
			kind = "input_image"
		}
		parts = append(parts, contentInput{Type: kind, FileID: id})
	}
	var uploadDuration time.Duration
	if len(files) > 0 {
		uploadDuration = time.Since(uploadStart)
	}

	body := responsesRequest{
		Model:           req.Settings.Model,
		Instructions:    req.Settings.SystemPrompt,
		Input:           buildInput(req.History, UserPrompt(req), parts),
		MaxOutputTokens: req.Settings.MaxOutputTokens,
		Metadata:        map[string]string{"message_id": req.MessageID},
		Store:           true,
	}
	if supportsReasoning(req.Settings.Model) {
		body.Reasoning = &reasoningConfig{Effort: req.Settings.ReasoningEffort}
		body.Text = &textConfig{Verbosity: req.Settings.Verbosity}
	}

	start := time.Now()
	var out responsesResponse
	if err := o.postJSON(ctx, "/responses", body, &out); err != nil {
		return nil, err
	}
	duration := time.Since(start)

	if out.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrUpstream, out.Error.Code, out.Error.Message)
	}

	text := outputText(out.Output)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: response %s status %s", ErrEmptyReply, out.ID, out.Status)
	}

	reply, summary, extracted := parseReply(text)
	o.logger.InfoContext(ctx, "Reply generated",
		slog.String("message_id", req.MessageID),
		slog.String("model", req.Settings.Model),
		slog.String("response_id", out.ID),
		slog.Int("input_tokens", out.Usage.InputTokens),
		slog.Int("output_tokens", out.Usage.OutputTokens),
	)

	return &Response{
		Summary:         summary,
		Reply:           reply,
		InputTokens:     out.Usage.InputTokens,
		OutputTokens:    out.Usage.OutputTokens,
		ReasoningTokens: out.Usage.OutputTokensDetails.ReasoningTokens,
		CachedTokens:    out.Usage.InputTokensDetails.CachedTokens,
		Duration:        duration,
		UploadDuration:  uploadDuration,
		Extracted:       extracted,
		ResponseID:      out.ID,
	}, nil
}

// buildInput converts the conversation to Responses API input messages.
// File parts are attached to the final user message.
func buildInput(history []Turn, prompt string, files []contentInput) []inputMessage {
	turns := conversation(history, prompt)
	input := make([]inputMessage, 0, len(turns))
	for i, t := range turns {
		kind := "input_text"
		if t.Role == RoleAssistant {
			kind = "output_text"
		}
		msg := inputMessage{
			Role:    t.Role,
			Content: []contentInput{{Type: kind, Text: t.Content}},
		}
		if i == len(turns)-1 {
			msg.Content = append(msg.Content, files...)
		}
		input = append(input, msg)
	}
	return input
}

func outputText(items []outputItem) string {
	var b strings.Builder
	for _, item := range items {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				b.WriteString(c.Text)
			}
		}
	}
	return b.String()
}

// supportsReasoning reports whether a model accepts reasoning and verbosity options.
func supportsReasoning(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "gpt-5") || strings.HasPrefix(m, "o1") ||
		strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}

// uploadFile stores an attachment in the provider file store and returns its id.
func (o *OpenAI) uploadFile(ctx context.Context, f File) (string, error) {
	data, err := base64.StdEncoding.DecodeString(f.Content)
	if err != nil {
		return "", fmt.Errorf("decode attachment: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "user_data"); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", f.Filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	var out fileResponse
	if err := o.do(httpReq, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: file upload returned no id", ErrUpstream)
	}
	return out.ID, nil
}

func (o *OpenAI) postJSON(ctx context.Context, path string, in, out any) error {
	jsonBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	return o.do(httpReq, out)
}

func (o *OpenAI) do(httpReq *http.Request, out any) error {
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: openai request: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: openai %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	return nil
}
