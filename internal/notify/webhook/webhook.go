// Package webhook sends issue notifications to a chat webhook using
// Slack-style block payloads. Action links embedded in the message carry
// HMAC tokens so recipients can acknowledge or resolve without logging in.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/herald/internal/fingerprint"
	"github.com/linnemanlabs/herald/internal/issue"
)

const (
	httpTimeout      = 10 * time.Second
	maxPayloadFields = 8
)

// Notifier posts issue alerts to a webhook URL.
type Notifier struct {
	webhookURL  string
	linkBaseURL string
	tokenSecret string
	client      *http.Client
}

// New creates a webhook notifier. linkBaseURL is the externally reachable
// base of herald's API, used to build ack/resolve links; tokenSecret signs
// them.
func New(webhookURL, linkBaseURL, tokenSecret string) *Notifier {
	return &Notifier{
		webhookURL:  webhookURL,
		linkBaseURL: strings.TrimRight(linkBaseURL, "/"),
		tokenSecret: tokenSecret,
		client:      &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts an alert for iss addressed to owner. Safe to call repeatedly
// for the same issue; each follow-up is just another message.
func (n *Notifier) Notify(ctx context.Context, owner string, iss *issue.Issue) error {
	msg := n.buildMessage(owner, iss)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (n *Notifier) buildMessage(owner string, iss *issue.Issue) map[string]any {
	blocks := []map[string]any{
		headerBlock(iss),
		{"type": "divider"},
		fieldsBlock(owner, iss),
		payloadBlock(iss),
	}
	if links := n.actionsBlock(iss); links != nil {
		blocks = append(blocks, links)
	}
	blocks = append(blocks, contextBlock(iss))
	return map[string]any{"blocks": blocks}
}

func headerBlock(iss *issue.Issue) map[string]any {
	title := "Security issue"
	if iss.EscalationLevel > 0 {
		title = fmt.Sprintf("Escalation #%d", iss.EscalationLevel)
	} else if iss.NotifyCount > 0 {
		title = "Reminder"
	}
	text := fmt.Sprintf("%s %s: %s", severityEmoji(iss.Payload["severity"]), title, iss.Source)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(owner string, iss *issue.Issue) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Owner:* %s", owner)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", iss.Source)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*State:* %s", iss.State)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Occurrences:* %d", iss.OccurrenceCount)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*First seen:* %s", iss.FirstSeen.UTC().Format("2006-01-02 15:04 UTC"))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Last seen:* %s", iss.LastSeen.UTC().Format("2006-01-02 15:04 UTC"))},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func payloadBlock(iss *issue.Issue) map[string]any {
	keys := make([]string, 0, len(iss.Payload))
	for k := range iss.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxPayloadFields {
		keys = keys[:maxPayloadFields]
	}

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "`%s`: %s\n", k, iss.Payload[k])
	}
	text := b.String()
	if text == "" {
		text = "_No payload._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func (n *Notifier) actionsBlock(iss *issue.Issue) map[string]any {
	if n.linkBaseURL == "" || n.tokenSecret == "" {
		return nil
	}
	token := fingerprint.Token(iss.Fingerprint, n.tokenSecret)
	q := url.Values{"fp": {iss.Fingerprint}, "t": {token}}.Encode()

	text := fmt.Sprintf("<%s/api/v1/ack?%s|Acknowledge> · <%s/api/v1/resolve?%s|Resolve>",
		n.linkBaseURL, q, n.linkBaseURL, q)

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(iss *issue.Issue) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("herald • issue %s • %s", iss.ID, iss.Fingerprint),
			},
		},
	}
}

func severityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "critical", "high":
		return "\U0001f534" // red circle
	case "warning", "medium":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
