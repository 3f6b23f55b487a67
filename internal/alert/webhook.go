package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// WebhookTransport posts Slack-compatible webhook payloads. It is the
// default transport; any chat system that accepts the attachment shape
// works unchanged.
type WebhookTransport struct {
	URL      string
	Channel  string
	Username string

	hc *http.Client
}

func NewWebhookTransport(url, channel string) *WebhookTransport {
	return &WebhookTransport{
		URL:      url,
		Channel:  channel,
		Username: "taskd",
		hc:       &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookAttachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	TitleLink string  `json:"title_link,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	Footer    string  `json:"footer,omitempty"`
	TS        string  `json:"ts,omitempty"`
}

type webhookPayload struct {
	Channel     string              `json:"channel,omitempty"`
	Username    string              `json:"username,omitempty"`
	IconEmoji   string              `json:"icon_emoji,omitempty"`
	Text        string              `json:"text"`
	Attachments []webhookAttachment `json:"attachments,omitempty"`
}

func (w *WebhookTransport) Send(ctx context.Context, m Message) error {
	p := webhookPayload{
		Channel:   w.Channel,
		Username:  w.Username,
		IconEmoji: ":warning:",
		Text:      m.Text,
		Attachments: []webhookAttachment{{
			Color:     m.Color,
			Title:     m.Title,
			TitleLink: m.TitleLink,
			Fields:    m.Fields,
			Footer:    m.Footer,
			TS:        strconv.FormatInt(m.Timestamp.Unix(), 10),
		}},
	}

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
