// Package dedupe guards against processing a webhook delivery twice.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jarrod-lowe/rally-relay/internal/dynamo"
)

// DefaultRetention is how long a claim is kept before DynamoDB expires it.
const DefaultRetention = 7 * 24 * time.Hour

// Error types for claims.
var (
	ErrDuplicate = errors.New("message already claimed")
	ErrClaim     = errors.New("claim failed")
)

// DynamoDBClient abstracts the DynamoDB calls used for claims.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Claimer records one claim per provider Message-ID.
type Claimer struct {
	client    DynamoDBClient
	tableName string
	retention time.Duration
	now       func() time.Time
}

// NewClaimer creates a new Claimer.
func NewClaimer(client DynamoDBClient, tableName string, retention time.Duration) *Claimer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Claimer{
		client:    client,
		tableName: tableName,
		retention: retention,
		now:       time.Now,
	}
}

func key(messageID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.PrefixMessage + strings.ToLower(messageID)},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.PrefixClaim},
	}
}

// Claim records that messageID is being processed.
// Returns ErrDuplicate if an unexpired claim already exists.
func (c *Claimer) Claim(ctx context.Context, messageID, rally string) error {
	now := c.now().UTC()
	item := key(messageID)
	item[dynamo.AttrClaimedAt] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	item[dynamo.AttrRally] = &types.AttributeValueMemberS{Value: rally}
	item[dynamo.AttrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(c.retention).Unix(), 10)}

	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + dynamo.AttrPK + ")"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrClaim, err)
	}
	return nil
}

// Release removes a claim so a redelivery can be processed.
func (c *Claimer) Release(ctx context.Context, messageID string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(messageID),
	})
	if err != nil {
		return fmt.Errorf("%w: release: %v", ErrClaim, err)
	}
	return nil
}
