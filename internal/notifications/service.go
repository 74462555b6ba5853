package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"worldbackup/internal/config"
)

const userAgent = "worldbackup/0.1.0"

// Service defines the notification surface used by cycle reporting.
type Service interface {
	NotifyBackupCompleted(ctx context.Context, world, backupID string, sizeBytes int64, duration time.Duration) error
	NotifyBackupSkipped(ctx context.Context, world, reason string) error
	NotifyBackupFailed(ctx context.Context, world string, err error) error
	NotifyFloorConflict(ctx context.Context, world string, freeBytes, floorBytes int64) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyBackupCompleted(ctx context.Context, world, backupID string, sizeBytes int64, duration time.Duration) error {
	duration = max(duration.Round(time.Second), 0)
	data := payload{
		title: "worldbackup - Backup Complete",
		message: fmt.Sprintf("✅ %s backed up as %s (%s in %s)",
			strings.TrimSpace(world), backupID, humanize.IBytes(uint64(max(sizeBytes, 0))), duration),
		tags: []string{"worldbackup", "backup", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBackupSkipped(ctx context.Context, world, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown reason"
	}
	data := payload{
		title:   "worldbackup - Backup Skipped",
		message: fmt.Sprintf("⏭️ %s backup skipped: %s", strings.TrimSpace(world), reason),
		tags:    []string{"worldbackup", "backup", "skipped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBackupFailed(ctx context.Context, world string, err error) error {
	var builder strings.Builder
	builder.WriteString("❌ ")
	builder.WriteString(strings.TrimSpace(world))
	builder.WriteString(" backup failed: ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "worldbackup - Backup Failed",
		message:  builder.String(),
		tags:     []string{"worldbackup", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyFloorConflict(ctx context.Context, world string, freeBytes, floorBytes int64) error {
	data := payload{
		title: "worldbackup - Low Backup Space",
		message: fmt.Sprintf("⚠️ %s: %s free is below the %s floor and min_keep prevents further eviction",
			strings.TrimSpace(world), humanize.IBytes(uint64(max(freeBytes, 0))), humanize.IBytes(uint64(max(floorBytes, 0)))),
		tags:     []string{"worldbackup", "retention", "warning"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "worldbackup - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"worldbackup", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBackupCompleted(context.Context, string, string, int64, time.Duration) error {
	return nil
}
func (noopService) NotifyBackupSkipped(context.Context, string, string) error       { return nil }
func (noopService) NotifyBackupFailed(context.Context, string, error) error         { return nil }
func (noopService) NotifyFloorConflict(context.Context, string, int64, int64) error { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
