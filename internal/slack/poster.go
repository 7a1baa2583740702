package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Poster alerts the moderation channel about flags that should jump the queue.
type Poster struct {
	token       string
	channel     string
	minPriority flags.Priority
	client      *http.Client
	logger      *slog.Logger
	apiURL      string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:       token,
		channel:     channel,
		minPriority: flags.PriorityUrgent,
		client:      &http.Client{Timeout: 10 * time.Second},
		apiURL:      defaultPostMessageURL,
		logger:      logger,
	}
}

// Notify posts an alert for newly queued flags at or above the alert
// priority. Every other event is ignored.
func (p *Poster) Notify(ctx context.Context, evt moderation.Event) error {
	if evt.Type != moderation.EventFlagSubmitted && evt.Type != moderation.EventFlagResubmitted {
		return nil
	}
	if evt.Priority.Rank() < p.minPriority.Rank() {
		return nil
	}
	ts, err := p.PostMessage(ctx, formatFlagAlert(evt))
	if err != nil {
		return err
	}
	p.logger.Info("posted flag alert to slack", "ts", ts, "flag_id", evt.FlagID, "priority", evt.Priority)
	return nil
}

// PostMessage posts text to the moderation channel and returns the message ts.
func (p *Poster) PostMessage(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Decide in the moderation queue. An explanation is required.",
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatFlagAlert(evt moderation.Event) string {
	var sb strings.Builder

	verb := "submitted"
	if evt.Type == moderation.EventFlagResubmitted {
		verb = "resubmitted with more evidence"
	}
	fmt.Fprintf(&sb, ":rotating_light: *%s flag %s*\n", evt.Priority, verb)
	fmt.Fprintf(&sb, "*Category:* %s\n", evt.Category)
	fmt.Fprintf(&sb, "*Account:* %s (user %s)\n", evt.Account, evt.FlaggedUserID)
	fmt.Fprintf(&sb, "*Flag:* %s\n", evt.FlagID)
	fmt.Fprintf(&sb, "*Flagged by:* %s", evt.FlaggerID)
	return sb.String()
}
