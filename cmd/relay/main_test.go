package main

import (
	"context"
	"errors"
	"testing"
)

type mockMigrator struct {
	migrateFunc func(ctx context.Context) error
}

func (m *mockMigrator) Migrate(ctx context.Context) error {
	return m.migrateFunc(ctx)
}

func TestRunMigrate(t *testing.T) {
	called := false
	err := runMigrate(context.Background(), &mockMigrator{
		migrateFunc: func(ctx context.Context) error {
			called = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("Migrate was not called")
	}
}

func TestRunMigrate_Error(t *testing.T) {
	want := errors.New("permission denied for schema public")
	err := runMigrate(context.Background(), &mockMigrator{
		migrateFunc: func(ctx context.Context) error { return want },
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate"} {
		if !names[want] {
			t.Errorf("missing %q subcommand", want)
		}
	}

	for _, flag := range []string{"config-dir", "database.url", "server.addr"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing --%s flag", flag)
		}
	}
}

func TestNewTracerProvider_NoEndpoint(t *testing.T) {
	tp, err := newTracerProvider(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "span")
	if !span.SpanContext().IsValid() {
		t.Error("spans should be recorded without an exporter")
	}
	span.End()
}
