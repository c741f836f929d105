package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jarrod-lowe/rally-relay/internal/ai"
	"github.com/jarrod-lowe/rally-relay/internal/compose"
	"github.com/jarrod-lowe/rally-relay/internal/inbound"
	"github.com/jarrod-lowe/rally-relay/internal/mailer"
	"github.com/jarrod-lowe/rally-relay/internal/normalize"
	"github.com/jarrod-lowe/rally-relay/internal/settings"
	"github.com/jarrod-lowe/rally-relay/internal/store"
	"github.com/jarrod-lowe/rally-relay/internal/summary"
	"github.com/jarrod-lowe/rally-relay/internal/thread"
	"github.com/jarrod-lowe/rally-relay/internal/usertrack"
)

// run is the state of one delivery moving through the pipeline.
type run struct {
	svc        *Service
	payload    *inbound.Payload
	receivedAt time.Time
	rally      string
	messageID  string
	sender     string
	claimed    bool
	inbound    *store.Message
}

func (r *run) process(ctx context.Context) (Result, error) {
	s := r.svc
	if s.claim(ctx, r) {
		return Result{Status: http.StatusOK, Body: Response{Success: true, Duplicate: true}}, nil
	}

	session := usertrack.NewSession(ctx, s.deps.Tracker, s.cfg.SightingErrors)
	defer session.Wait()

	if err := r.storeInbound(ctx); err != nil {
		return Result{}, err
	}
	for _, sighting := range usertrack.Sightings(r.payload, r.rally, r.receivedAt) {
		session.Track(sighting)
	}

	files, attachmentTime := r.storeAttachments(ctx)

	var history []ai.Turn
	if s.deps.Thread != nil {
		chain, err := s.deps.Thread.Chain(ctx, r.inbound.ID)
		if err != nil {
			s.log.WarnContext(ctx, "Failed to load thread, replying without history",
				slog.String("message_id", r.messageID),
				slog.String("error", err.Error()),
			)
		}
		history = thread.History(chain, r.inbound.ID)
	}

	eff, err := r.resolveSettings(ctx)
	if err != nil {
		return Result{}, err
	}
	if !eff.Configured() {
		s.log.WarnContext(ctx, "No system prompt configured",
			slog.String("rally_address", r.rally),
			slog.String("message_id", r.messageID),
		)
		if !r.fromRally() {
			s.deps.Mailer.Send(ctx, r.noticeEmail(notConfiguredText))
		}
		return Result{Status: http.StatusBadRequest, Body: Response{Error: "Missing system prompt"}}, nil
	}

	genCtx, genSpan := s.childSpan(ctx, "relay.Generate")
	resp, err := s.deps.AI.Generate(genCtx, ai.Request{
		MessageID:      r.messageID,
		Payload:        r.payload,
		Settings:       eff,
		History:        history,
		NormalizedText: normalize.Normalize(r.payload.HtmlBody, r.payload.TextBody, r.payload.Attachments),
		RequestContext: r.requestContext(),
		Files:          files,
	})
	genSpan.End()
	if err != nil {
		return Result{}, fmt.Errorf("generate reply: %w", err)
	}

	replySummary := r.summarize(ctx, resp)

	total := s.now().Sub(r.receivedAt)
	cost := settings.Cost(resp.InputTokens, resp.OutputTokens, eff)
	bodies := s.deps.Assembler.Assemble(resp.Reply, compose.Metrics{
		Total:        total,
		Ingest:       compose.Ingest(total, resp.Duration, attachmentTime, resp.UploadDuration),
		Attachments:  attachmentTime,
		Upload:       resp.UploadDuration,
		AI:           resp.Duration,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      cost,
	})

	recipients := inbound.ReplyAll(r.payload.FromFull, r.payload.ToFull, r.payload.CcFull, r.rally)
	var sent mailer.Result
	if recipients.Empty() {
		s.log.WarnContext(ctx, "No recipients left for reply",
			slog.String("message_id", r.messageID),
			slog.String("rally_address", r.rally),
		)
	} else {
		email := r.replyEmail(recipients, bodies, s.newMessageID())
		sendCtx, sendSpan := s.childSpan(ctx, "relay.Send")
		sent = s.deps.Mailer.Send(sendCtx, email)
		sendSpan.SetAttributes(attribute.Bool("mailer.success", sent.Success))
		sendSpan.End()

		if sent.Success {
			r.storeOutbound(ctx, recipients, email, bodies, resp.Reply, replySummary, sent)
			for _, sighting := range usertrack.RecipientSightings(recipients.All(), r.rally, sent.SentAt) {
				session.Track(sighting)
			}
		}
	}

	var sentAt *time.Time
	if sent.Success {
		t := sent.SentAt
		sentAt = &t
	}

	result := store.AIResult{
		Summary:         replySummary,
		Reply:           resp.Reply,
		InputTokens:     resp.InputTokens,
		OutputTokens:    resp.OutputTokens,
		ReasoningTokens: resp.ReasoningTokens,
		CachedTokens:    resp.CachedTokens,
		ResponseID:      resp.ResponseID,
		CostUSD:         cost,
		IngestMS:        compose.Ingest(total, resp.Duration, attachmentTime, resp.UploadDuration).Milliseconds(),
		AttachmentMS:    attachmentTime.Milliseconds(),
		UploadMS:        resp.UploadDuration.Milliseconds(),
		AIMS:            resp.Duration.Milliseconds(),
		MailerMS:        sent.Duration.Milliseconds(),
		SentAt:          sentAt,
		ProcessedAt:     s.now(),
	}
	if err := s.deps.Store.UpdateAIResult(ctx, r.inbound.ID, result); err != nil {
		s.log.ErrorContext(ctx, "Failed to record AI result",
			slog.String("id", r.inbound.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	elapsed := s.now().Sub(r.receivedAt).Milliseconds()
	if recipients.Empty() {
		return Result{Status: http.StatusOK, Body: Response{Error: "No recipients", ProcessingTimeMS: elapsed}}, nil
	}
	if !sent.Success {
		return Result{Status: http.StatusOK, Body: Response{Error: "Failed to send reply", ProcessingTimeMS: elapsed}}, nil
	}

	s.log.InfoContext(ctx, "Reply sent",
		slog.String("message_id", r.messageID),
		slog.String("rally_address", r.rally),
		slog.Int("recipients", len(recipients.All())),
		slog.Int64("processing_ms", elapsed),
	)
	return Result{Status: http.StatusOK, Body: Response{Success: true, ProcessingTimeMS: elapsed}}, nil
}

func (r *run) storeInbound(ctx context.Context) error {
	ctx, span := r.svc.childSpan(ctx, "relay.StoreInbound")
	defer span.End()

	msg := &store.Message{
		MessageID:      r.messageID,
		InReplyTo:      r.payload.InReplyTo(),
		References:     r.payload.References(),
		Direction:      store.Inbound,
		EmailAddress:   r.rally,
		FromEmail:      r.sender,
		RecipientEmail: r.rally,
		Subject:        inbound.ParseText(r.payload.Subject),
		RawText:        r.payload.TextBody,
		RawHTML:        r.payload.HtmlBody,
		ReceivedAt:     r.receivedAt,
	}
	if err := r.svc.deps.Store.InsertMessage(ctx, msg); err != nil {
		return err
	}
	r.inbound = msg
	return r.svc.deps.Store.InsertParticipants(ctx, msg.ID, r.payload.Participants())
}

// storeAttachments uploads every attachment concurrently. Failures are
// logged and skipped. All attachments with content are offered to the model.
func (r *run) storeAttachments(ctx context.Context) ([]ai.File, time.Duration) {
	s := r.svc
	atts := r.payload.Attachments
	files := make([]ai.File, 0, len(atts))
	for _, a := range atts {
		if a.Content == "" {
			continue
		}
		files = append(files, ai.File{
			Filename: a.Name,
			MIME:     a.ContentType,
			Content:  a.Content,
			Size:     normalize.Size(a),
		})
	}
	if s.deps.Blobs == nil || len(atts) == 0 {
		return files, 0
	}

	ctx, span := s.childSpan(ctx, "relay.StoreAttachments")
	defer span.End()
	start := s.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)
	for _, a := range atts {
		if a.Content == "" {
			continue
		}
		g.Go(func() error {
			upload, err := s.deps.Blobs.Upload(gctx, a.Name, a.Content, a.ContentType)
			if err != nil {
				s.log.WarnContext(gctx, "Failed to store attachment",
					slog.String("message_id", r.messageID),
					slog.String("filename", a.Name),
					slog.String("error", err.Error()),
				)
				return nil
			}
			err = s.deps.Store.InsertAttachment(gctx, &store.Attachment{
				MessageID:  r.inbound.ID,
				Filename:   a.Name,
				MIME:       a.ContentType,
				Size:       upload.Size,
				StorageKey: upload.Key,
				ContentID:  a.ContentID,
			})
			if err != nil {
				s.log.WarnContext(gctx, "Failed to record attachment",
					slog.String("message_id", r.messageID),
					slog.String("key", upload.Key),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := s.now().Sub(start)
	span.SetAttributes(attribute.Int("attachments.count", len(atts)))
	return files, elapsed
}

func (r *run) resolveSettings(ctx context.Context) (settings.Effective, error) {
	project, err := r.svc.deps.Store.ProjectSettings(ctx)
	if err != nil {
		return settings.Effective{}, fmt.Errorf("load project settings: %w", err)
	}
	perAddress, err := r.svc.deps.Store.EmailSettings(ctx, r.rally)
	if err != nil {
		return settings.Effective{}, fmt.Errorf("load email settings: %w", err)
	}
	return settings.Resolve(project, perAddress), nil
}

// summarize prefers the model's own summary, then the summarizer, then the
// reply's first paragraph.
func (r *run) summarize(ctx context.Context, resp *ai.Response) string {
	if resp.Summary != "" {
		return resp.Summary
	}
	if sum := r.svc.deps.Summarizer; sum != nil {
		out, err := sum.Summarize(ctx, inbound.ParseText(r.payload.Subject), r.sender, resp.Reply)
		if err != nil {
			r.svc.log.WarnContext(ctx, "Failed to summarize reply",
				slog.String("message_id", r.messageID),
				slog.String("error", err.Error()),
			)
		}
		if out != "" {
			return out
		}
	}
	return summary.FirstParagraph(resp.Reply, summary.DefaultMaxLength)
}

func (r *run) requestContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rally address: %s\n", r.rally)
	fmt.Fprintf(&b, "Received: %s", r.receivedAt.UTC().Format(time.RFC1123Z))
	if r.payload.MailboxHash != "" {
		fmt.Fprintf(&b, "\nMailbox hash: %s", r.payload.MailboxHash)
	}
	if r.payload.Tag != "" {
		fmt.Fprintf(&b, "\nTag: %s", r.payload.Tag)
	}
	return b.String()
}

func (r *run) threading() (inReplyTo, references string) {
	if r.messageID == "" {
		return "", r.payload.References()
	}
	return "<" + r.messageID + ">", inbound.ReferencesFor(r.payload.References(), r.messageID)
}

// fromRally reports whether the rally address sent this message itself.
func (r *run) fromRally() bool {
	return r.sender != "" && r.sender == strings.ToLower(r.rally)
}

// newMessageID returns a Message-ID for an outbound reply, brackets included.
func (s *Service) newMessageID() string {
	return "<" + uuid.NewString() + "@" + s.cfg.Domain + ">"
}

func (r *run) replyEmail(recipients inbound.Recipients, bodies compose.Bodies, messageID string) mailer.Email {
	inReplyTo, references := r.threading()
	cc := make([]string, 0, len(recipients.Cc))
	for _, a := range recipients.Cc {
		cc = append(cc, mailbox(a))
	}
	return mailer.Email{
		From:       r.svc.fromAddress(r.rally),
		To:         mailbox(recipients.To),
		Cc:         cc,
		Subject:    inbound.ReplySubject(inbound.ParseText(r.payload.Subject)),
		TextBody:   bodies.Text,
		HTMLBody:   bodies.HTML,
		ReplyTo:    r.rally,
		InReplyTo:  inReplyTo,
		References: references,
		MessageID:  messageID,
		MessageRef: r.inboundRef(),
	}
}

// noticeEmail is a fixed-text reply to the sender only.
func (r *run) noticeEmail(text string) mailer.Email {
	inReplyTo, references := r.threading()
	return mailer.Email{
		From:       r.svc.fromAddress(r.rally),
		To:         mailbox(r.payload.FromFull),
		Subject:    inbound.ReplySubject(inbound.ParseText(r.payload.Subject)),
		TextBody:   text,
		ReplyTo:    r.rally,
		InReplyTo:  inReplyTo,
		References: references,
		MessageRef: r.inboundRef(),
	}
}

func (r *run) inboundRef() string {
	if r.inbound == nil {
		return ""
	}
	return r.inbound.ID.String()
}

// storeOutbound records a sent reply under the Message-ID it was sent with,
// so replies to it can be threaded. The reply is already delivered, so
// failures are logged only.
func (r *run) storeOutbound(ctx context.Context, recipients inbound.Recipients, email mailer.Email, bodies compose.Bodies, reply, replySummary string, sent mailer.Result) {
	s := r.svc
	messageID := strings.Trim(email.MessageID, "<>")
	inboundID := r.inbound.ID
	sentAt := sent.SentAt

	out := &store.Message{
		MessageID:        messageID,
		InReplyTo:        r.messageID,
		References:       email.References,
		ReplyToMessageID: &inboundID,
		Direction:        store.Outbound,
		EmailAddress:     r.rally,
		FromEmail:        r.rally,
		RecipientEmail:   strings.ToLower(recipients.To.Email),
		Subject:          email.Subject,
		RawText:          bodies.Text,
		RawHTML:          bodies.HTML,
		AISummary:        replySummary,
		AIReply:          reply,
		ReceivedAt:       sentAt,
		SentAt:           &sentAt,
	}
	if err := s.deps.Store.InsertMessage(ctx, out); err != nil {
		s.log.ErrorContext(ctx, "Failed to record outbound message",
			slog.String("reply_to", inboundID.String()),
			slog.String("provider_id", sent.ProviderID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.deps.Store.InsertParticipants(ctx, out.ID, outboundParticipants(r.rally, recipients)); err != nil {
		s.log.WarnContext(ctx, "Failed to record outbound participants",
			slog.String("id", out.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func outboundParticipants(rally string, recipients inbound.Recipients) []inbound.Participant {
	out := []inbound.Participant{
		{Kind: inbound.KindFrom, Email: rally},
		{Kind: inbound.KindTo, Name: recipients.To.Name, Email: recipients.To.Email},
	}
	for _, a := range recipients.Cc {
		out = append(out, inbound.Participant{Kind: inbound.KindCc, Name: a.Name, Email: a.Email})
	}
	return out
}

func mailbox(a inbound.Address) string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Email)
}
