package ai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// mockInvoker implements BedrockInvoker for testing.
type mockInvoker struct {
	invokeFunc func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

func (m *mockInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return m.invokeFunc(ctx, params, optFns...)
}

func claudeOutput(t *testing.T, text string) *bedrockruntime.InvokeModelOutput {
	t.Helper()
	var resp claudeResponse
	resp.ID = "msg_bdrk_1"
	resp.Content = []claudeBlock{{Type: "text", Text: text}}
	resp.Usage.InputTokens = 900
	resp.Usage.OutputTokens = 80
	resp.Usage.CacheReadInputTokens = 100
	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &bedrockruntime.InvokeModelOutput{Body: body}
}

func TestBedrock_Generate(t *testing.T) {
	var captured claudeRequest
	invoker := &mockInvoker{
		invokeFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			if *params.ModelId != "us.anthropic.claude-sonnet-4-5-20250929-v1:0" {
				t.Errorf("model ID = %q", *params.ModelId)
			}
			if err := json.Unmarshal(params.Body, &captured); err != nil {
				t.Fatalf("failed to parse request body: %v", err)
			}
			return claudeOutput(t, "Tuesday works."), nil
		},
	}

	req := testRequest()
	req.Settings.Model = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	req.Files = []File{
		{Filename: "photo.png", MIME: "image/png", Content: "aGVsbG8=", Size: 9000},
		{Filename: "report.pdf", MIME: "application/pdf", Content: "aGVsbG8=", Size: 9000},
	}

	resp, err := NewBedrock(invoker).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Reply != "Tuesday works." || resp.ResponseID != "msg_bdrk_1" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.InputTokens != 900 || resp.OutputTokens != 80 || resp.CachedTokens != 100 {
		t.Errorf("usage = %+v", resp)
	}

	if captured.AnthropicVersion != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %q", captured.AnthropicVersion)
	}
	if captured.System != "You are a helpful assistant." || captured.MaxTokens != 2048 {
		t.Errorf("system/max_tokens = %q/%d", captured.System, captured.MaxTokens)
	}
	if len(captured.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(captured.Messages))
	}
	last := captured.Messages[2]
	if len(last.Content) != 2 || last.Content[1].Type != "image" || last.Content[1].Source.MediaType != "image/png" {
		t.Errorf("last message content = %+v, want text plus one image", last.Content)
	}
}

func TestBedrock_InvokeError(t *testing.T) {
	invoker := &mockInvoker{
		invokeFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	_, err := NewBedrock(invoker).Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}
}

func TestBedrock_EmptyReply(t *testing.T) {
	invoker := &mockInvoker{
		invokeFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			return claudeOutput(t, "  "), nil
		},
	}
	_, err := NewBedrock(invoker).Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrEmptyReply) {
		t.Errorf("error = %v, want ErrEmptyReply", err)
	}
}
