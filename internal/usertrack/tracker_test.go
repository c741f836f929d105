package usertrack

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jarrod-lowe/rally-relay/internal/inbound"
	"github.com/jarrod-lowe/rally-relay/internal/store"
)

// mockSQSSender implements SQSSender for testing.
type mockSQSSender struct {
	sendFunc func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

func (m *mockSQSSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, params, optFns...)
	}
	return &sqs.SendMessageOutput{}, nil
}

// mockUpserter implements Upserter for testing.
type mockUpserter struct {
	upsertFunc func(ctx context.Context, sighting store.Sighting) error
}

func (m *mockUpserter) UpsertUser(ctx context.Context, sighting store.Sighting) error {
	return m.upsertFunc(ctx, sighting)
}

// recordingTracker collects sightings and fails for selected addresses.
type recordingTracker struct {
	mu     sync.Mutex
	seen   []string
	failOn map[string]bool
	delay  time.Duration
}

func (r *recordingTracker) Track(ctx context.Context, sighting store.Sighting) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, sighting.Email)
	if r.failOn[sighting.Email] {
		return errors.New("write failed")
	}
	return nil
}

func TestSQSPublisher_Track(t *testing.T) {
	var capturedBody, capturedURL string
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			capturedBody = *params.MessageBody
			capturedURL = *params.QueueUrl
			return &sqs.SendMessageOutput{}, nil
		},
	}

	seenAt := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	pub := NewSQSPublisher(mock, "https://sqs.example.com/sightings")
	err := pub.Track(context.Background(), store.Sighting{Email: "alice@example.com", Name: "Alice", Sent: true, SeenAt: seenAt})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedURL != "https://sqs.example.com/sightings" {
		t.Errorf("QueueUrl = %q", capturedURL)
	}
	var msg store.Sighting
	if err := json.Unmarshal([]byte(capturedBody), &msg); err != nil {
		t.Fatalf("failed to parse message body: %v", err)
	}
	if msg.Email != "alice@example.com" || msg.Name != "Alice" || !msg.Sent || !msg.SeenAt.Equal(seenAt) {
		t.Errorf("message = %+v", msg)
	}
}

func TestSQSPublisher_Track_Error(t *testing.T) {
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			return nil, errors.New("sqs send failed")
		},
	}

	pub := NewSQSPublisher(mock, "https://sqs.example.com/sightings")
	if err := pub.Track(context.Background(), store.Sighting{Email: "alice@example.com"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestDirect_Track(t *testing.T) {
	var got store.Sighting
	direct := NewDirect(&mockUpserter{
		upsertFunc: func(ctx context.Context, sighting store.Sighting) error {
			got = sighting
			return nil
		},
	})

	if err := direct.Track(context.Background(), store.Sighting{Email: "bob@example.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Email != "bob@example.com" {
		t.Errorf("upserted %q, want bob@example.com", got.Email)
	}
}

func TestSession_DrainsAndReportsErrors(t *testing.T) {
	tracker := &recordingTracker{
		failOn: map[string]bool{"bad@example.com": true},
		delay:  10 * time.Millisecond,
	}

	var mu sync.Mutex
	var failed []string
	sink := func(sighting store.Sighting, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, sighting.Email)
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := NewSession(ctx, tracker, sink)
	for _, email := range []string{"a@example.com", "bad@example.com", "c@example.com"} {
		session.Track(store.Sighting{Email: email})
	}
	cancel()
	session.Wait()

	sort.Strings(tracker.seen)
	want := []string{"a@example.com", "bad@example.com", "c@example.com"}
	if len(tracker.seen) != len(want) {
		t.Fatalf("tracked %v, want %v", tracker.seen, want)
	}
	for i := range want {
		if tracker.seen[i] != want[i] {
			t.Errorf("tracked[%d] = %q, want %q", i, tracker.seen[i], want[i])
		}
	}
	if len(failed) != 1 || failed[0] != "bad@example.com" {
		t.Errorf("sink received %v, want [bad@example.com]", failed)
	}
}

func TestSession_NilSafe(t *testing.T) {
	var session *Session
	session.Track(store.Sighting{Email: "a@example.com"})
	session.Wait()

	NewSession(context.Background(), nil, nil).Track(store.Sighting{Email: "a@example.com"})
}

func TestSightings(t *testing.T) {
	seenAt := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	payload := &inbound.Payload{
		FromFull: inbound.Address{Email: "Alice@Example.com", Name: "Alice"},
		ToFull: []inbound.Address{
			{Email: "helper@rally.example.com"},
			{Email: "bob@example.com", Name: "Bob"},
		},
		CcFull: []inbound.Address{
			{Email: "BOB@example.com"},
			{Email: "carol@example.com"},
		},
	}

	got := Sightings(payload, "Helper@rally.example.com", seenAt)
	want := []store.Sighting{
		{Email: "alice@example.com", Name: "Alice", Sent: true, SeenAt: seenAt},
		{Email: "bob@example.com", Name: "Bob", SeenAt: seenAt},
		{Email: "carol@example.com", SeenAt: seenAt},
	}
	if len(got) != len(want) {
		t.Fatalf("Sightings() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sightings()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRecipientSightings(t *testing.T) {
	seenAt := time.Date(2026, 10, 19, 9, 31, 0, 0, time.UTC)
	recipients := []inbound.Address{
		{Email: "Alice@Example.com", Name: "Alice"},
		{Email: "helper@RALLY.example.com"},
		{Email: "bob@example.com", Name: "Bob"},
		{Email: "BOB@example.com"},
		{Email: " "},
	}

	got := RecipientSightings(recipients, "helper@rally.example.com", seenAt)
	want := []store.Sighting{
		{Email: "alice@example.com", Name: "Alice", SeenAt: seenAt},
		{Email: "bob@example.com", Name: "Bob", SeenAt: seenAt},
	}
	if len(got) != len(want) {
		t.Fatalf("RecipientSightings() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RecipientSightings()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
