// The publish package owns the durable storage of finished media. Files
// rendered in to a jobs scratch dir are uploaded to a GCS bucket and
// addressed by key; the rest of the pipeline only ever sees the
// resulting public URL.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
	"google.golang.org/api/option"
)

var ErrPublishFailed = errors.New("failed to publish media to durable storage")

type Config struct {
	Bucket        string `yaml:"bucket" env:"STORAGE_BUCKET" env-required:"true"`
	PublicBaseURL string `yaml:"publicBaseUrl" env:"STORAGE_PUBLIC_BASE_URL"`
	EmulatorHost  string `yaml:"emulatorHost" env:"STORAGE_EMULATOR_HOST"`
}

type Publisher struct {
	client *storage.Client
	config Config
	log    logger.Logger
}

func New(ctx context.Context, config Config) (*Publisher, error) {
	var opts []option.ClientOption
	if config.EmulatorHost != "" {
		os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(config.EmulatorHost, "/"))
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Publisher{
		client: client,
		config: config,
		log:    logger.Get("Publisher"),
	}, nil
}

// Publish uploads the local file under the given object key and returns
// its public URL. The object is verified readable (attrs fetch) before
// the URL is handed back; any failure maps to ErrPublishFailed.
func (publisher *Publisher) Publish(ctx context.Context, localPath string, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: cannot open %s: %v", ErrPublishFailed, localPath, err)
	}
	defer file.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, time.Minute*5)
	defer cancel()

	writer := publisher.client.Bucket(publisher.config.Bucket).Object(key).NewWriter(uploadCtx)
	if contentType := mime.TypeByExtension(filepath.Ext(key)); contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return "", fmt.Errorf("%w: upload of %s: %v", ErrPublishFailed, key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: closing writer for %s: %v", ErrPublishFailed, key, err)
	}

	// Readback check so a half-written object is never reported upstream
	if _, err := publisher.client.Bucket(publisher.config.Bucket).Object(key).Attrs(uploadCtx); err != nil {
		return "", fmt.Errorf("%w: readback of %s: %v", ErrPublishFailed, key, err)
	}

	url := publisher.PublicURL(key)
	publisher.log.Emit(logger.SUCCESS, "Published %s -> %s\n", localPath, url)
	return url, nil
}

// Fetch reads a previously published object back to a local path, used
// when rendering variants from the canonical asset.
func (publisher *Publisher) Fetch(ctx context.Context, key string, destPath string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, time.Minute*5)
	defer cancel()

	reader, err := publisher.client.Bucket(publisher.config.Bucket).Object(key).NewReader(fetchCtx)
	if err != nil {
		return fmt.Errorf("failed to open storage reader for %s: %w", key, err)
	}
	defer reader.Close()

	file, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to fetch %s to %s: %w", key, destPath, err)
	}

	return nil
}

// PublicURL derives the downloadable URL for an object key.
func (publisher *Publisher) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if publisher.config.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(publisher.config.PublicBaseURL, "/"), publisher.config.Bucket, key)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", publisher.config.Bucket, key)
}

// KeyFromURL recovers the object key from a URL previously produced by
// PublicURL. Returns false when the URL does not address this bucket.
func (publisher *Publisher) KeyFromURL(url string) (string, bool) {
	prefixes := []string{
		fmt.Sprintf("https://storage.googleapis.com/%s/", publisher.config.Bucket),
	}
	if publisher.config.PublicBaseURL != "" {
		prefixes = append(prefixes, fmt.Sprintf("%s/%s/", strings.TrimRight(publisher.config.PublicBaseURL, "/"), publisher.config.Bucket))
	}

	for _, prefix := range prefixes {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix), true
		}
	}

	return "", false
}
