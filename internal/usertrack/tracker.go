// Package usertrack records participant sightings without holding up the
// reply pipeline.
package usertrack

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jarrod-lowe/rally-relay/internal/inbound"
	"github.com/jarrod-lowe/rally-relay/internal/store"
)

// Tracker records one sighting.
type Tracker interface {
	Track(ctx context.Context, sighting store.Sighting) error
}

// Upserter abstracts the user table for dependency inversion.
type Upserter interface {
	UpsertUser(ctx context.Context, sighting store.Sighting) error
}

// Direct writes sightings straight to the user table.
type Direct struct {
	users Upserter
}

// NewDirect creates a new Direct tracker.
func NewDirect(users Upserter) *Direct {
	return &Direct{users: users}
}

// Track implements Tracker.
func (d *Direct) Track(ctx context.Context, sighting store.Sighting) error {
	return d.users.UpsertUser(ctx, sighting)
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher queues sightings for the user-track consumer.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
	}
}

// Track implements Tracker.
func (p *SQSPublisher) Track(ctx context.Context, sighting store.Sighting) error {
	body, err := json.Marshal(sighting)
	if err != nil {
		return err
	}

	bodyStr := string(body)
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
	})
	if err != nil {
		return fmt.Errorf("send sighting: %w", err)
	}
	return nil
}

// ErrorSink receives sightings that could not be recorded.
type ErrorSink func(sighting store.Sighting, err error)

// Session tracks the sightings of one request. Track never blocks; Wait
// drains outstanding writes before the request returns.
type Session struct {
	ctx     context.Context
	tracker Tracker
	sink    ErrorSink
	wg      sync.WaitGroup
}

// NewSession starts a session. Writes outlive cancellation of ctx but keep its values.
func NewSession(ctx context.Context, tracker Tracker, sink ErrorSink) *Session {
	return &Session{
		ctx:     context.WithoutCancel(ctx),
		tracker: tracker,
		sink:    sink,
	}
}

// Track records a sighting in the background.
func (s *Session) Track(sighting store.Sighting) {
	if s == nil || s.tracker == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.tracker.Track(s.ctx, sighting); err != nil && s.sink != nil {
			s.sink(sighting, err)
		}
	}()
}

// Wait blocks until every tracked write has finished.
func (s *Session) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// Sightings lists one sighting per distinct participant of a message,
// skipping the rally address. The sender is marked as having sent.
func Sightings(p *inbound.Payload, rally string, seenAt time.Time) []store.Sighting {
	sender := strings.ToLower(strings.TrimSpace(p.FromFull.Email))
	rally = strings.ToLower(strings.TrimSpace(rally))

	var out []store.Sighting
	for _, part := range p.DistinctAddresses() {
		if part.Email == rally {
			continue
		}
		out = append(out, store.Sighting{
			Email:  part.Email,
			Name:   part.Name,
			Sent:   part.Email == sender,
			SeenAt: seenAt,
		})
	}
	return out
}

// RecipientSightings lists one sighting per distinct recipient of a reply
// the relay sent, skipping the rally address. Recipients have not sent.
func RecipientSightings(recipients []inbound.Address, rally string, seenAt time.Time) []store.Sighting {
	rally = strings.ToLower(strings.TrimSpace(rally))
	seen := make(map[string]bool)

	var out []store.Sighting
	for _, a := range recipients {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" || email == rally || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, store.Sighting{
			Email:  email,
			Name:   a.Name,
			SeenAt: seenAt,
		})
	}
	return out
}
