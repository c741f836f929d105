// Package blob stores inbound attachments in Amazon S3.
package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// KeyPrefix is the prefix of every attachment object key.
const KeyPrefix = "attachments/"

// Error types for blob operations.
var (
	ErrInvalidContent = errors.New("invalid attachment content")
	ErrStorage        = errors.New("storage error")
)

// S3Putter abstracts S3 PutObject for dependency inversion.
type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Upload describes a stored attachment.
type Upload struct {
	Key      string
	Size     int64
	Duration time.Duration
}

// Store uploads attachments to a single bucket.
type Store struct {
	client S3Putter
	bucket string
	newID  func() string
}

// NewStore creates a new Store.
func NewStore(client S3Putter, bucket string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		newID:  uuid.NewString,
	}
}

// Upload decodes base64 content and stores it under a fresh key.
func (s *Store) Upload(ctx context.Context, filename, content, mimeType string) (*Upload, error) {
	ctx, span := otel.Tracer("rally-blob").Start(ctx, "blob.Upload",
		trace.WithAttributes(
			attribute.String("blob.filename", filename),
			attribute.String("blob.content_type", mimeType),
		))
	defer span.End()

	start := time.Now()
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	key := Key(s.newID(), filename)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: put %s: %v", ErrStorage, key, err)
	}

	span.SetAttributes(attribute.Int("blob.size", len(data)))
	return &Upload{
		Key:      key,
		Size:     int64(len(data)),
		Duration: time.Since(start),
	}, nil
}

// Key builds the object key for an attachment.
func Key(id, filename string) string {
	return KeyPrefix + id + "/" + SafeName(filename)
}

// SafeName reduces a filename to a single safe path segment.
func SafeName(filename string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(filename))
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}
