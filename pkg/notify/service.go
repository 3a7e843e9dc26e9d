package notify

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lumolead/postscore/pkg/batch"
	"github.com/lumolead/postscore/pkg/config"
)

// Service delivers notifications. Nil-safe: all methods are no-ops on a nil
// receiver, so callers never branch on whether notifications are configured.
type Service struct {
	slack      *SlackClient
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewService builds a service from the notification config. Returns nil when
// neither Slack nor the admin webhook is configured.
func NewService(cfg *config.NotificationConfig) *Service {
	if cfg == nil {
		return nil
	}

	var slack *SlackClient
	if cfg.Slack != nil && cfg.Slack.Enabled {
		token := os.Getenv(cfg.Slack.TokenEnv)
		if token == "" {
			slog.Warn("Slack notifications enabled but token env is empty",
				"token_env", cfg.Slack.TokenEnv)
		} else {
			slack = NewSlackClient(token, cfg.Slack.Channel)
		}
	}

	if slack == nil && cfg.AdminAlertHook == "" {
		return nil
	}
	return &Service{
		slack:      slack,
		webhookURL: cfg.AdminAlertHook,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "notify"),
	}
}

// NotifyAdmin delivers a global-failure alert to the admin webhook and, when
// configured, Slack. Implements the orchestrator's notifier contract; the
// returned error is informational only.
func (s *Service) NotifyAdmin(ctx context.Context, subject, message string) error {
	if s == nil {
		return nil
	}

	var lastErr error
	if s.webhookURL != "" {
		if err := postWebhook(ctx, s.httpClient, s.webhookURL, subject, message); err != nil {
			s.logger.Warn("Admin webhook delivery failed", "error", err)
			lastErr = err
		}
	}
	if s.slack != nil {
		if err := s.slack.PostMessage(ctx, BuildAlertMessage(subject, message), 10*time.Second); err != nil {
			s.logger.Warn("Slack alert delivery failed", "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// NotifyRunCompleted posts the run summary to Slack. Fail-open.
func (s *Service) NotifyRunCompleted(ctx context.Context, result batch.RunResult) {
	if s == nil || s.slack == nil {
		return
	}
	if err := s.slack.PostMessage(ctx, BuildRunSummaryMessage(result), 10*time.Second); err != nil {
		s.logger.Warn("Slack run summary delivery failed",
			"run_id", result.RunID, "error", err)
	}
}
