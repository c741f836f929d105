// Package mailer sends outbound email through the Postmark HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.postmarkapp.com"

// Error types for sending.
var (
	ErrNotConfigured = errors.New("mailer not configured")
	ErrRejected      = errors.New("email rejected")
	ErrTransport     = errors.New("transport error")
)

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Email is a message ready for delivery.
type Email struct {
	From       string
	To         string
	Cc         []string
	Subject    string
	TextBody   string
	HTMLBody   string
	ReplyTo    string
	// MessageID is sent as the Message-ID header, angle brackets included.
	MessageID  string
	InReplyTo  string
	References string
	// MessageRef is the internal id of the message this email answers.
	MessageRef string
}

// Result is the outcome of one send. A failed send is reported here,
// never as a Go error.
type Result struct {
	Success    bool
	SentAt     time.Time
	Duration   time.Duration
	ProviderID string
	Error      error
}

// Sender delivers email.
type Sender interface {
	Send(ctx context.Context, email Email) Result
}

// Config holds configuration for the Postmark client.
type Config struct {
	ServerToken   string
	APIBase       string
	MessageStream string
	Logger        *slog.Logger
}

// Postmark sends email via the Postmark /email endpoint.
type Postmark struct {
	token   string
	apiBase string
	stream  string
	client  HTTPDoer
	logger  *slog.Logger
	now     func() time.Time
}

// NewPostmark creates a new Postmark client.
func NewPostmark(client HTTPDoer, cfg Config) *Postmark {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.MessageStream == "" {
		cfg.MessageStream = "outbound"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Postmark{
		token:   cfg.ServerToken,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		stream:  cfg.MessageStream,
		client:  client,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

type postmarkHeader struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type postmarkEmail struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	Cc            string            `json:"Cc,omitempty"`
	Subject       string            `json:"Subject"`
	TextBody      string            `json:"TextBody,omitempty"`
	HtmlBody      string            `json:"HtmlBody,omitempty"`
	ReplyTo       string            `json:"ReplyTo,omitempty"`
	Headers       []postmarkHeader  `json:"Headers,omitempty"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
	MessageStream string            `json:"MessageStream"`
}

type postmarkResponse struct {
	To          string `json:"To"`
	SubmittedAt string `json:"SubmittedAt"`
	MessageID   string `json:"MessageID"`
	ErrorCode   int    `json:"ErrorCode"`
	Message     string `json:"Message"`
}

// Send implements Sender.
func (p *Postmark) Send(ctx context.Context, email Email) Result {
	start := p.now()
	result := p.send(ctx, email)
	result.Duration = p.now().Sub(start)
	if result.Error != nil {
		p.logger.ErrorContext(ctx, "Failed to send email",
			slog.String("to", email.To),
			slog.String("message_ref", email.MessageRef),
			slog.String("error", result.Error.Error()),
		)
		return result
	}
	result.Success = true
	result.SentAt = p.now()
	p.logger.InfoContext(ctx, "Email sent",
		slog.String("to", email.To),
		slog.String("provider_id", result.ProviderID),
		slog.String("message_ref", email.MessageRef),
	)
	return result
}

func (p *Postmark) send(ctx context.Context, email Email) Result {
	if p.token == "" {
		return Result{Error: ErrNotConfigured}
	}

	jsonBody, err := json.Marshal(buildPayload(email, p.stream))
	if err != nil {
		return Result{Error: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/email", bytes.NewReader(jsonBody))
	if err != nil {
		return Result{Error: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Error: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Error: fmt.Errorf("%w: read body: %v", ErrTransport, err)}
	}

	var out postmarkResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{Error: fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK || out.ErrorCode != 0 {
		return Result{Error: fmt.Errorf("%w: code %d: %s", ErrRejected, out.ErrorCode, out.Message)}
	}
	return Result{ProviderID: out.MessageID}
}

func buildPayload(email Email, stream string) postmarkEmail {
	payload := postmarkEmail{
		From:          email.From,
		To:            email.To,
		Cc:            strings.Join(email.Cc, ", "),
		Subject:       email.Subject,
		TextBody:      email.TextBody,
		HtmlBody:      email.HTMLBody,
		ReplyTo:       email.ReplyTo,
		MessageStream: stream,
	}
	if email.MessageID != "" {
		payload.Headers = append(payload.Headers, postmarkHeader{Name: "Message-ID", Value: email.MessageID})
	}
	if email.InReplyTo != "" {
		payload.Headers = append(payload.Headers, postmarkHeader{Name: "In-Reply-To", Value: email.InReplyTo})
	}
	if email.References != "" {
		payload.Headers = append(payload.Headers, postmarkHeader{Name: "References", Value: email.References})
	}
	if email.MessageRef != "" {
		payload.Metadata = map[string]string{"message_ref": email.MessageRef}
	}
	return payload
}
