package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jarrod-lowe/rally-relay/internal/relay"
)

type mockHandler struct {
	handleFunc func(ctx context.Context, req relay.Request) relay.Result
}

func (m *mockHandler) Handle(ctx context.Context, req relay.Request) relay.Result {
	return m.handleFunc(ctx, req)
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

func TestInbound(t *testing.T) {
	var got relay.Request
	h := &mockHandler{
		handleFunc: func(ctx context.Context, req relay.Request) relay.Result {
			got = req
			return relay.Result{Status: http.StatusOK, Body: relay.Response{Success: true, ProcessingTimeMS: 1200}}
		},
	}
	srv := New(h, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(`{"From":"a@example.com"}`))
	req.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.Authorization != "Basic abc" || string(got.Body) != `{"From":"a@example.com"}` {
		t.Errorf("request = %+v", got)
	}
	if got.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should be stamped")
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["success"] != true || body["processingTimeMs"] != float64(1200) {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Error("error should be omitted on success")
	}
}

func TestInbound_PassesStatusThrough(t *testing.T) {
	tests := []struct {
		name   string
		result relay.Result
	}{
		{name: "unauthorized", result: relay.Result{Status: http.StatusUnauthorized, Body: relay.Response{Error: "Unauthorized"}}},
		{name: "missing prompt", result: relay.Result{Status: http.StatusBadRequest, Body: relay.Response{Error: "Missing system prompt"}}},
		{name: "unhandled", result: relay.Result{Status: http.StatusInternalServerError, Body: relay.Response{Error: "boom"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&mockHandler{
				handleFunc: func(ctx context.Context, req relay.Request) relay.Result { return tt.result },
			}, nil, nil)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader("{}")))

			if rec.Code != tt.result.Status {
				t.Errorf("status = %d, want %d", rec.Code, tt.result.Status)
			}
			var body relay.Response
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Success || body.Error != tt.result.Body.Error {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestInbound_TooLarge(t *testing.T) {
	called := false
	srv := New(&mockHandler{
		handleFunc: func(ctx context.Context, req relay.Request) relay.Result {
			called = true
			return relay.Result{Status: http.StatusOK}
		},
	}, nil, nil)

	big := strings.NewReader(strings.Repeat("a", MaxBodyBytes+1))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/inbound", big))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if called {
		t.Error("handler should not run for oversized bodies")
	}
}

func TestInbound_MethodNotAllowed(t *testing.T) {
	srv := New(&mockHandler{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/inbound", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		db     Pinger
		status int
	}{
		{name: "no database", db: nil, status: http.StatusOK},
		{name: "database up", db: &mockPinger{}, status: http.StatusOK},
		{name: "database down", db: &mockPinger{err: errors.New("connection refused")}, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&mockHandler{}, tt.db, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
