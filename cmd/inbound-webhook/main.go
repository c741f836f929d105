// Package main implements the inbound email webhook Lambda handler.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jarrod-lowe/rally-relay/internal/bootstrap"
	"github.com/jarrod-lowe/rally-relay/internal/config"
	"github.com/jarrod-lowe/rally-relay/internal/relay"
	"github.com/jarrod-lowe/rally-relay/internal/store"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// Webhook abstracts the relay pipeline for dependency inversion.
type Webhook interface {
	Handle(ctx context.Context, req relay.Request) relay.Result
}

// handler implements the inbound webhook Lambda logic.
type handler struct {
	webhook Webhook
	now     func() time.Time
}

// newHandler creates a new handler.
func newHandler(webhook Webhook) *handler {
	return &handler{webhook: webhook, now: time.Now}
}

// handle converts an API Gateway HTTP API event into a relay request.
func (h *handler) handle(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			logger.WarnContext(ctx, "Failed to decode request body", slog.String("error", err.Error()))
			return respond(http.StatusBadRequest, relay.Response{Error: "Invalid payload: body is not base64"}), nil
		}
		body = decoded
	}

	receivedAt := h.now()
	if ms := event.RequestContext.TimeEpoch; ms > 0 {
		receivedAt = time.UnixMilli(ms)
	}

	result := h.webhook.Handle(ctx, relay.Request{
		Authorization: header(event.Headers, "Authorization"),
		Body:          body,
		ReceivedAt:    receivedAt,
	})
	return respond(result.Status, result.Body), nil
}

// header looks a header up case-insensitively. API Gateway lower-cases names.
func header(headers map[string]string, name string) string {
	if v, ok := headers[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func respond(status int, body relay.Response) events.APIGatewayV2HTTPResponse {
	encoded, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		encoded = []byte(`{"success":false,"error":"internal error"}`)
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(encoded),
	}
}

func main() {
	ctx := context.Background()

	tp, err := xrayconfig.NewTracerProvider(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	// Set X-Ray propagator as global propagator for HTTP client trace context injection
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		xray.Propagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg, err := config.Load(viper.New())
	if err != nil {
		logger.Error("FATAL: Failed to load configuration", slog.String("error", err.Error()))
		panic(err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}

	// Instrument AWS SDK clients with OTel tracing
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	pool, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("FATAL: Failed to connect to database", slog.String("error", err.Error()))
		panic(err)
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   5 * time.Minute,
	}

	svc := bootstrap.Service(cfg, pool, bootstrap.NewAWS(awsCfg), httpClient, logger)
	h := newHandler(svc)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
