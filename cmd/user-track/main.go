// Package main implements the user-track SQS consumer Lambda handler.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jarrod-lowe/rally-relay/internal/config"
	"github.com/jarrod-lowe/rally-relay/internal/store"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// UserUpserter abstracts user row writes for dependency inversion.
type UserUpserter interface {
	UpsertUser(ctx context.Context, sighting store.Sighting) error
}

// handler implements the user-track SQS consumer logic.
type handler struct {
	users UserUpserter
}

// newHandler creates a new handler.
func newHandler(users UserUpserter) *handler {
	return &handler{users: users}
}

// handle upserts one user row per queued sighting.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	tracer := otel.Tracer("rally-user-track")
	ctx, span := tracer.Start(ctx, "UserTrackHandler")
	defer span.End()

	var failures []events.SQSBatchItemFailure

	for _, record := range event.Records {
		var sighting store.Sighting
		if err := json.Unmarshal([]byte(record.Body), &sighting); err != nil {
			logger.ErrorContext(ctx, "Failed to parse SQS message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		if err := h.users.UpsertUser(ctx, sighting); err != nil {
			logger.ErrorContext(ctx, "Failed to upsert user",
				slog.String("message_id", record.MessageId),
				slog.String("email", sighting.Email),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.InfoContext(ctx, "User track batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return events.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
}

func main() {
	ctx := context.Background()

	tp, err := xrayconfig.NewTracerProvider(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		xray.Propagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	v := viper.New()
	config.Bind(v)
	databaseURL := v.GetString("database.url")

	pool, err := store.Open(ctx, databaseURL)
	if err != nil {
		logger.Error("FATAL: Failed to connect to database", slog.String("error", err.Error()))
		panic(err)
	}

	h := newHandler(store.New(pool))
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
