package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	// Slack Block Kit message.
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": n.Title,
			},
		},
	}

	if n.Failed() {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Run:* `%s`\n```%s```", n.RunID, n.Error),
			},
		})
	} else {
		var lines []string
		for _, e := range n.Entries {
			lines = append(lines, fmt.Sprintf("%d. *%s* (%.3f)", e.Rank, e.Title, e.Score))
		}
		elements := []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("Coverage %.0f%% | run `%s`", n.Coverage*100, n.RunID),
		}}
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": strings.Join(lines, "\n"),
			},
		}, map[string]any{
			"type":     "context",
			"elements": elements,
		})
	}

	if err := postJSON(ctx, s.client, s.webhookURL, map[string]any{"blocks": blocks}, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
