// Package bootstrap assembles a relay.Service from configuration.
package bootstrap

import (
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jarrod-lowe/rally-relay/internal/ai"
	"github.com/jarrod-lowe/rally-relay/internal/blob"
	"github.com/jarrod-lowe/rally-relay/internal/compose"
	"github.com/jarrod-lowe/rally-relay/internal/config"
	"github.com/jarrod-lowe/rally-relay/internal/dedupe"
	"github.com/jarrod-lowe/rally-relay/internal/format"
	"github.com/jarrod-lowe/rally-relay/internal/mailer"
	"github.com/jarrod-lowe/rally-relay/internal/relay"
	"github.com/jarrod-lowe/rally-relay/internal/store"
	"github.com/jarrod-lowe/rally-relay/internal/summary"
	"github.com/jarrod-lowe/rally-relay/internal/thread"
	"github.com/jarrod-lowe/rally-relay/internal/usertrack"
)

// AWS holds the AWS clients the relay can use. Nil clients disable the
// features that need them.
type AWS struct {
	S3       blob.S3Putter
	DynamoDB dedupe.DynamoDBClient
	SQS      usertrack.SQSSender
	Bedrock  ai.BedrockInvoker
}

// NewAWS creates every client from an already instrumented AWS config.
func NewAWS(cfg aws.Config) AWS {
	return AWS{
		S3:       s3.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
		SQS:      sqs.NewFromConfig(cfg),
		Bedrock:  bedrockruntime.NewFromConfig(cfg),
	}
}

// Deps builds the pipeline collaborators. Optional collaborators are left
// nil when their configuration is missing.
func Deps(cfg *config.Config, db store.DB, clients AWS, httpClient *http.Client, logger *slog.Logger) relay.Deps {
	st := store.New(db)

	var bedrock ai.Generator
	if cfg.Bedrock.Enabled && clients.Bedrock != nil {
		bedrock = ai.NewBedrock(clients.Bedrock)
	}

	deps := relay.Deps{
		Store:  st,
		Thread: thread.NewReconstructor(st),
		AI: ai.NewRouter(ai.NewOpenAI(httpClient, ai.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			APIBase: cfg.OpenAI.APIBase,
			Logger:  logger,
		}), bedrock),
		Mailer: mailer.NewPostmark(httpClient, mailer.Config{
			ServerToken:   cfg.Postmark.ServerToken,
			APIBase:       cfg.Postmark.APIBase,
			MessageStream: cfg.Postmark.MessageStream,
			Logger:        logger,
		}),
		Tracker:   usertrack.NewDirect(st),
		Assembler: compose.NewAssembler(format.New()),
	}

	if cfg.Storage.Bucket != "" && clients.S3 != nil {
		deps.Blobs = blob.NewStore(clients.S3, cfg.Storage.Bucket)
	}
	if cfg.Claims.Table != "" && clients.DynamoDB != nil {
		deps.Claims = dedupe.NewClaimer(clients.DynamoDB, cfg.Claims.Table, cfg.Claims.Retention)
	}
	if cfg.Sightings.QueueURL != "" && clients.SQS != nil {
		deps.Tracker = usertrack.NewSQSPublisher(clients.SQS, cfg.Sightings.QueueURL)
	}
	if cfg.Bedrock.Enabled && clients.Bedrock != nil {
		deps.Summarizer = summary.NewBedrockSummarizer(clients.Bedrock, summary.Config{
			ModelID: cfg.Bedrock.SummaryModel,
		})
	}
	return deps
}

// Service builds a ready relay.Service.
func Service(cfg *config.Config, db store.DB, clients AWS, httpClient *http.Client, logger *slog.Logger) *relay.Service {
	return relay.NewService(Deps(cfg, db, clients, httpClient, logger), relay.Config{
		Username:          cfg.Auth.Username,
		Password:          cfg.Auth.Password,
		Domain:            cfg.Rally.Domain,
		FromName:          cfg.Rally.FromName,
		UploadConcurrency: cfg.Storage.UploadConcurrency,
		Logger:            logger,
	})
}
