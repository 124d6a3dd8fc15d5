package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// Archive stores paper full text in a single GCS bucket under
// fulltext/<paper_id>.txt. It is optional: NewFromEnv returns (nil, nil)
// when GCS_BUCKET_NAME is unset and callers treat a nil archive as a no-op.
type Archive interface {
	PutFulltext(ctx context.Context, paperID string, text string) (string, error)
	GetFulltext(ctx context.Context, paperID string) (string, error)
	DeleteFulltext(ctx context.Context, paperID string) error
	ListPaperIDs(ctx context.Context) ([]string, error)
}

type archive struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

func NewFromEnv(log *logger.Logger) (Archive, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET_NAME"))
	if bucket == "" {
		return nil, nil
	}

	ctx := context.Background()
	opts := clientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &archive{
		log:    log.With("service", "FulltextArchive"),
		client: client,
		bucket: bucket,
	}, nil
}

func objectKey(paperID string) string {
	return "fulltext/" + strings.TrimSpace(paperID) + ".txt"
}

func (a *archive) PutFulltext(ctx context.Context, paperID string, text string) (string, error) {
	if a == nil || a.client == nil {
		return "", nil
	}
	if strings.TrimSpace(paperID) == "" {
		return "", fmt.Errorf("paperID required")
	}

	key := objectKey(paperID)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	if _, err := io.Copy(w, bytes.NewReader([]byte(text))); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write fulltext to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return "gs://" + a.bucket + "/" + key, nil
}

func (a *archive) GetFulltext(ctx context.Context, paperID string) (string, error) {
	if a == nil || a.client == nil {
		return "", fmt.Errorf("fulltext archive unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := a.client.Bucket(a.bucket).Object(objectKey(paperID)).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open fulltext object: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read fulltext object: %w", err)
	}
	return string(raw), nil
}

func (a *archive) DeleteFulltext(ctx context.Context, paperID string) error {
	if a == nil || a.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := a.client.Bucket(a.bucket).Object(objectKey(paperID)).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("failed to delete fulltext object: %w", err)
	}
	return nil
}

func (a *archive) ListPaperIDs(ctx context.Context) ([]string, error) {
	if a == nil || a.client == nil {
		return nil, nil
	}
	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: "fulltext/"})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list fulltext objects: %w", err)
		}
		name := strings.TrimPrefix(attrs.Name, "fulltext/")
		name = strings.TrimSuffix(name, ".txt")
		if name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	opts := []option.ClientOption{}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}
