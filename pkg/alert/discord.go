package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	discordColorOK     = 0x2ECC71
	discordColorFailed = 0xE74C3C
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	color := discordColorOK
	var description string
	if n.Failed() {
		color = discordColorFailed
		description = fmt.Sprintf("**Run:** `%s`\n%s", n.RunID, n.Error)
	} else {
		lines := make([]string, 0, len(n.Entries))
		for _, e := range n.Entries {
			lines = append(lines, fmt.Sprintf("%d. **%s** (%.3f)", e.Rank, e.Title, e.Score))
		}
		description = fmt.Sprintf("%s\n\nCoverage %.0f%%", strings.Join(lines, "\n"), n.Coverage*100)
	}

	embed := map[string]any{
		"title":       n.Title,
		"description": description,
		"color":       color,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	payload := map[string]any{
		"embeds": []map[string]any{embed},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
