package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

type NotifyArgs struct {
	Notification models.Notification `json:"notification"`
}

func (NotifyArgs) Kind() string { return "notify" }

// Sink delivers one notification to wherever users read them.
type Sink interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// NotifyWorker hands queued notifications to a Sink. Delivery errors are
// retried by River; they never reach the mutation that queued the job.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	sink   Sink
	logger *slog.Logger
}

func NewNotifyWorker(sink Sink, logger *slog.Logger) *NotifyWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyWorker{sink: sink, logger: logger}
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	n := job.Args.Notification
	if err := w.sink.Deliver(ctx, n); err != nil {
		w.logger.Warn("notification delivery failed", "user_id", n.UserID, "type", n.Type, "error", err)
		return err
	}
	return nil
}

// Enqueuer returns a function that inserts a notify job on the caller's
// transaction, so the job exists only if the mutation commits.
func Enqueuer(client *river.Client[pgx.Tx]) repository.EnqueueTxFunc {
	return func(ctx context.Context, tx pgx.Tx, n models.Notification) error {
		if _, err := client.InsertTx(ctx, tx, NotifyArgs{Notification: n}, nil); err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
		return nil
	}
}

// WebhookSink POSTs each notification as JSON to a fixed URL.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Deliver(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling notification webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, n models.Notification) error {
	s.logger.Info("notification", "user_id", n.UserID, "type", n.Type, "title", n.Title, "payload", n.Payload)
	return nil
}

// NewSink picks the webhook sink when a URL is configured and the log sink otherwise.
func NewSink(webhookURL string, timeout time.Duration, logger *slog.Logger) Sink {
	if webhookURL != "" {
		return NewWebhookSink(webhookURL, timeout)
	}
	return NewLogSink(logger)
}

// SinkNotifier adapts a Sink to the memory store's post-commit callback.
// Delivery runs in its own goroutine, detached from the request's
// cancellation. Failures are logged and dropped.
func SinkNotifier(sink Sink, logger *slog.Logger) repository.NotifyFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, n models.Notification) error {
		ctx = context.WithoutCancel(ctx)
		go func() {
			if err := sink.Deliver(ctx, n); err != nil {
				logger.Warn("notification delivery failed", "user_id", n.UserID, "type", n.Type, "error", err)
			}
		}()
		return nil
	}
}
