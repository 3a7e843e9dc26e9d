// Package notify delivers operator notifications: run summaries to Slack
// and global-failure alerts to a webhook. Everything here is fail-open;
// notification problems are logged and never propagate into the run.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/lumolead/postscore/pkg/batch"
)

const maxBlockTextLength = 2900

// SlackClient is a thin wrapper around the slack-go SDK.
type SlackClient struct {
	api     *goslack.Client
	channel string
}

// NewSlackClient creates a client for one channel.
func NewSlackClient(token, channel string) *SlackClient {
	return &SlackClient{api: goslack.New(token), channel: channel}
}

// NewSlackClientWithAPIURL targets a custom API URL. Used by tests with a
// mock server.
func NewSlackClientWithAPIURL(token, channel, apiURL string) *SlackClient {
	return &SlackClient{api: goslack.New(token, goslack.OptionAPIURL(apiURL)), channel: channel}
}

// PostMessage sends blocks to the configured channel.
func (c *SlackClient) PostMessage(ctx context.Context, blocks []goslack.Block, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, _, err := c.api.PostMessageContext(ctx, c.channel, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

var statusEmoji = map[string]string{
	batch.StatusSuccess:             ":white_check_mark:",
	batch.StatusCompletedWithErrors: ":warning:",
	batch.StatusFailed:              ":x:",
}

// BuildRunSummaryMessage creates Block Kit blocks for a run summary.
func BuildRunSummaryMessage(result batch.RunResult) []goslack.Block {
	emoji := statusEmoji[result.Status]
	if emoji == "" {
		emoji = ":question:"
	}

	header := fmt.Sprintf("%s *Post scoring run %s* finished: %s", emoji, result.RunID, result.Status)
	body := fmt.Sprintf(
		"Clients: %d (%d failed)\nLeads examined: %d\nScored: %d\nSkipped: %d\nErrors: %d\nTokens: %d\nDuration: %s",
		result.ClientsProcessed, result.ClientsFailed,
		result.PostsExamined, result.PostsScored, result.LeadsSkipped, result.Errors,
		result.Tokens.Total, result.Duration.Round(time.Second))

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false), nil, nil),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(body), false, false), nil, nil),
	}

	if len(result.Diagnostics) > 0 {
		sample := "*Error samples*\n" + strings.Join(result.Diagnostics, "\n")
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(sample), false, false), nil, nil))
	}
	return blocks
}

// BuildAlertMessage creates Block Kit blocks for a global-failure alert.
func BuildAlertMessage(subject, message string) []goslack.Block {
	text := fmt.Sprintf(":rotating_light: *%s*\n%s", subject, truncateForSlack(message))
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
}

func truncateForSlack(s string) string {
	if len(s) <= maxBlockTextLength {
		return s
	}
	return s[:maxBlockTextLength] + "…"
}
