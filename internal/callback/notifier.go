// The callback package delivers job status notifications to the
// upstream application. Deliveries are queued and dispatched from a
// background loop so the ingest pipeline never blocks on a slow or
// unreachable receiver; the job store remains the source of truth
// regardless of delivery outcome.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

type Config struct {
	URL         string `yaml:"url" env:"INGEST_CALLBACK_URL"`
	Secret      string `yaml:"secret" env:"INGEST_CALLBACK_SECRET"`
	MaxAttempts uint64 `yaml:"maxAttempts" env:"INGEST_CALLBACK_MAX_ATTEMPTS" env-default:"5"`
}

// Payload mirrors the receivers expected callback body. Optional fields
// are omitted rather than sent as null.
type Payload struct {
	JobID        uuid.UUID `json:"jobId"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	Error        *string   `json:"error,omitempty"`
	MediaURL     *string   `json:"mediaUrl,omitempty"`
	ThumbnailURL *string   `json:"thumbnailUrl,omitempty"`
	DurationSecs *float64  `json:"durationSec,omitempty"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	Title        *string   `json:"title,omitempty"`
	Channel      *string   `json:"channel,omitempty"`
}

type Notifier struct {
	config Config
	client *http.Client
	queue  chan Payload
	log    logger.Logger
}

func New(config Config) *Notifier {
	return &Notifier{
		config: config,
		client: &http.Client{Timeout: time.Second * 15},
		queue:  make(chan Payload, 64),
		log:    logger.Get("Callback"),
	}
}

// Enqueue hands a payload to the background dispatcher. The queue is
// bounded; when full the payload is dropped with a warning rather than
// blocking the pipeline.
func (notifier *Notifier) Enqueue(payload Payload) {
	select {
	case notifier.queue <- payload:
	default:
		notifier.log.Warnf("Callback queue full, dropping notification for job %s\n", payload.JobID)
	}
}

// Run consumes the dispatch queue until the context is cancelled.
func (notifier *Notifier) Run(ctx context.Context) error {
	notifier.log.Infof("Callback notifier started (receiver=%s)\n", notifier.config.URL)
	for {
		select {
		case payload := <-notifier.queue:
			notifier.deliver(ctx, payload)
		case <-ctx.Done():
			return nil
		}
	}
}

// deliver POSTs the payload, retrying transient failures (network
// errors and 5xx responses) with capped exponential backoff. Permanent
// failures and retry exhaustion are logged and abandoned.
func (notifier *Notifier) deliver(ctx context.Context, payload Payload) {
	if notifier.config.URL == "" {
		notifier.log.Debugf("No callback receiver configured, skipping notification for job %s\n", payload.JobID)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		notifier.log.Errorf("Failed to encode callback payload for job %s: %v\n", payload.JobID, err)
		return
	}

	backoff := retry.WithCappedDuration(time.Second*30, retry.NewExponential(time.Millisecond*500))
	backoff = retry.WithMaxRetries(notifier.config.MaxAttempts, backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return notifier.post(ctx, body)
	})
	if err != nil {
		notifier.log.Errorf("Callback delivery for job %s abandoned: %v\n", payload.JobID, err)
		return
	}

	notifier.log.Debugf("Callback for job %s delivered (status=%s progress=%d)\n", payload.JobID, payload.Status, payload.Progress)
}

func (notifier *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notifier.config.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-ingest-secret", notifier.config.Secret)
	req.Header.Set("X-Callback-Signature", Signature(notifier.config.Secret, body))

	resp, err := notifier.client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 500 {
		return retry.RetryableError(fmt.Errorf("receiver returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("receiver rejected callback with status %d", resp.StatusCode)
	}

	return nil
}

// Signature computes the hex HMAC-SHA256 of the body under the shared
// callback secret; receivers use it to verify payload integrity.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
