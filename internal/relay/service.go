// Package relay runs the inbound email to AI reply pipeline.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarrod-lowe/rally-relay/internal/ai"
	"github.com/jarrod-lowe/rally-relay/internal/blob"
	"github.com/jarrod-lowe/rally-relay/internal/compose"
	"github.com/jarrod-lowe/rally-relay/internal/dedupe"
	"github.com/jarrod-lowe/rally-relay/internal/inbound"
	"github.com/jarrod-lowe/rally-relay/internal/mailer"
	"github.com/jarrod-lowe/rally-relay/internal/settings"
	"github.com/jarrod-lowe/rally-relay/internal/store"
	"github.com/jarrod-lowe/rally-relay/internal/summary"
	"github.com/jarrod-lowe/rally-relay/internal/usertrack"
)

const tracerName = "rally-relay"

// MessageStore abstracts message and settings persistence.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *store.Message) error
	InsertParticipants(ctx context.Context, messageID uuid.UUID, participants []inbound.Participant) error
	InsertAttachment(ctx context.Context, a *store.Attachment) error
	UpdateAIResult(ctx context.Context, id uuid.UUID, r store.AIResult) error
	ProjectSettings(ctx context.Context) (*settings.Project, error)
	EmailSettings(ctx context.Context, address string) (*settings.Email, error)
}

// ThreadBuilder reconstructs the conversation a message belongs to.
type ThreadBuilder interface {
	Chain(ctx context.Context, id uuid.UUID) ([]store.Message, error)
}

// BlobUploader stores attachment content.
type BlobUploader interface {
	Upload(ctx context.Context, filename, content, mimeType string) (*blob.Upload, error)
}

// Claimer guards against duplicate webhook deliveries.
type Claimer interface {
	Claim(ctx context.Context, messageID, rally string) error
	Release(ctx context.Context, messageID string) error
}

// Deps are the collaborators of a Service. Blobs, Claims, Summarizer and
// Tracker are optional.
type Deps struct {
	Store      MessageStore
	Thread     ThreadBuilder
	Blobs      BlobUploader
	Claims     Claimer
	AI         ai.Generator
	Summarizer summary.Summarizer
	Mailer     mailer.Sender
	Tracker    usertrack.Tracker
	Assembler  *compose.Assembler
}

// Config holds pipeline settings.
type Config struct {
	Username          string
	Password          string
	Domain            string
	FromName          string
	UploadConcurrency int
	Logger            *slog.Logger
	// SightingErrors receives failed user sightings. Defaults to logging them.
	SightingErrors usertrack.ErrorSink
}

// Service handles inbound webhook deliveries.
type Service struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
	now  func() time.Time
}

// NewService creates a new Service.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 4
	}
	if deps.Assembler == nil {
		deps.Assembler = compose.NewAssembler(nil)
	}
	cfg.Domain = strings.ToLower(strings.TrimPrefix(cfg.Domain, "@"))
	s := &Service{deps: deps, cfg: cfg, log: cfg.Logger, now: time.Now}
	if s.cfg.SightingErrors == nil {
		s.cfg.SightingErrors = func(sighting store.Sighting, err error) {
			s.log.Warn("Failed to record user sighting",
				slog.String("email", sighting.Email),
				slog.String("error", err.Error()),
			)
		}
	}
	return s
}

// Request is one webhook delivery.
type Request struct {
	Authorization string
	Body          []byte
	ReceivedAt    time.Time
}

// Response is the JSON body answered to the webhook provider.
type Response struct {
	Success          bool   `json:"success"`
	ProcessingTimeMS int64  `json:"processingTimeMs"`
	Error            string `json:"error,omitempty"`
	Handled          bool   `json:"handled,omitempty"`
	Duplicate        bool   `json:"duplicate,omitempty"`
}

// Result is the HTTP status and body for a delivery.
type Result struct {
	Status int
	Body   Response
}

// Handle runs the whole pipeline for one delivery. It never returns an
// error: every outcome is expressed as a Result.
func (s *Service) Handle(ctx context.Context, req Request) (result Result) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "relay.Handle")
	defer span.End()

	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = s.now()
	}

	if !s.authorized(req.Authorization) {
		s.log.WarnContext(ctx, "Rejected webhook with bad credentials")
		return Result{Status: http.StatusUnauthorized, Body: Response{Error: "Unauthorized"}}
	}

	payload, err := inbound.Decode(req.Body)
	if err != nil {
		detail := strings.TrimPrefix(err.Error(), inbound.ErrInvalidPayload.Error()+": ")
		s.log.WarnContext(ctx, "Rejected invalid payload", slog.String("error", err.Error()))
		return Result{Status: http.StatusBadRequest, Body: Response{Error: "Invalid payload: " + detail}}
	}

	r := &run{
		svc:        s,
		payload:    payload,
		receivedAt: req.ReceivedAt,
		rally:      payload.RallyAddress(s.cfg.Domain),
		messageID:  payload.MessageIDHeader(),
		sender:     strings.ToLower(strings.TrimSpace(payload.FromFull.Email)),
	}
	span.SetAttributes(
		attribute.String("rally.message_id", r.messageID),
		attribute.String("rally.address", r.rally),
	)

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result = s.fail(ctx, r, err)
		}
	}()

	result, err = r.process(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.fail(ctx, r, err)
	}
	return result
}

// fail is the single recovery point: tell the sender when possible, and
// answer 200 handled if they were told, 500 otherwise.
func (s *Service) fail(ctx context.Context, r *run, err error) Result {
	s.log.ErrorContext(ctx, "Failed to process inbound email",
		slog.String("message_id", r.messageID),
		slog.String("rally_address", r.rally),
		slog.String("error", err.Error()),
	)

	if r.sender != "" && r.rally != "" && !r.fromRally() && s.deps.Mailer != nil {
		sent := s.deps.Mailer.Send(ctx, r.noticeEmail(failureText))
		if sent.Success {
			return Result{Status: http.StatusOK, Body: Response{Error: err.Error(), Handled: true}}
		}
	}

	if r.claimed {
		if relErr := s.deps.Claims.Release(ctx, r.messageID); relErr != nil {
			s.log.ErrorContext(ctx, "Failed to release claim",
				slog.String("message_id", r.messageID),
				slog.String("error", relErr.Error()),
			)
		}
	}
	return Result{Status: http.StatusInternalServerError, Body: Response{Error: err.Error()}}
}

func (s *Service) fromAddress(rally string) string {
	if s.cfg.FromName == "" {
		return rally
	}
	return fmt.Sprintf("%s <%s>", s.cfg.FromName, rally)
}

func (s *Service) childSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

// claim records the delivery, reporting whether it was already claimed.
// Claim storage failures are logged and processing continues unguarded.
func (s *Service) claim(ctx context.Context, r *run) (duplicate bool) {
	if s.deps.Claims == nil || r.messageID == "" {
		return false
	}
	err := s.deps.Claims.Claim(ctx, r.messageID, r.rally)
	switch {
	case err == nil:
		r.claimed = true
	case errors.Is(err, dedupe.ErrDuplicate):
		s.log.InfoContext(ctx, "Skipping duplicate delivery", slog.String("message_id", r.messageID))
		return true
	default:
		s.log.WarnContext(ctx, "Failed to claim message",
			slog.String("message_id", r.messageID),
			slog.String("error", err.Error()),
		)
	}
	return false
}
