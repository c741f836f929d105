package blob

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockPutter implements S3Putter for testing.
type mockPutter struct {
	putFunc func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func (m *mockPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.putFunc(ctx, params, optFns...)
}

func TestUpload(t *testing.T) {
	var captured *s3.PutObjectInput
	var body []byte
	putter := &mockPutter{
		putFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			captured = params
			body, _ = io.ReadAll(params.Body)
			return &s3.PutObjectOutput{}, nil
		},
	}

	store := NewStore(putter, "rally-attachments")
	store.newID = func() string { return "11111111-2222-3333-4444-555555555555" }

	upload, err := store.Upload(context.Background(), "report.pdf", "aGVsbG8gd29ybGQ=", "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantKey := "attachments/11111111-2222-3333-4444-555555555555/report.pdf"
	if upload.Key != wantKey {
		t.Errorf("Key = %q, want %q", upload.Key, wantKey)
	}
	if upload.Size != 11 {
		t.Errorf("Size = %d, want 11", upload.Size)
	}
	if *captured.Bucket != "rally-attachments" || *captured.Key != wantKey {
		t.Errorf("put bucket/key = %s/%s", *captured.Bucket, *captured.Key)
	}
	if *captured.ContentType != "application/pdf" || *captured.ContentLength != 11 {
		t.Errorf("content type/length = %s/%d", *captured.ContentType, *captured.ContentLength)
	}
	if string(body) != "hello world" {
		t.Errorf("body = %q, want decoded content", body)
	}
}

func TestUpload_DefaultContentType(t *testing.T) {
	var contentType string
	putter := &mockPutter{
		putFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			contentType = *params.ContentType
			return &s3.PutObjectOutput{}, nil
		},
	}

	if _, err := NewStore(putter, "b").Upload(context.Background(), "x", "aGk=", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contentType != "application/octet-stream" {
		t.Errorf("ContentType = %q, want application/octet-stream", contentType)
	}
}

func TestUpload_Errors(t *testing.T) {
	called := false
	putter := &mockPutter{
		putFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			called = true
			return nil, errors.New("access denied")
		},
	}
	store := NewStore(putter, "b")

	_, err := store.Upload(context.Background(), "x.bin", "!!not base64!!", "application/octet-stream")
	if !errors.Is(err, ErrInvalidContent) {
		t.Errorf("error = %v, want ErrInvalidContent", err)
	}
	if called {
		t.Error("PutObject should not be called for invalid content")
	}

	_, err = store.Upload(context.Background(), "x.bin", "aGk=", "application/octet-stream")
	if !errors.Is(err, ErrStorage) {
		t.Errorf("error = %v, want ErrStorage", err)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"dir\\file.txt", "dir_file.txt"},
		{"bad\x00name\n.txt", "badname.txt"},
		{"  ", "attachment"},
		{"..", "attachment"},
	}

	for _, tt := range tests {
		if got := SafeName(tt.input); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
