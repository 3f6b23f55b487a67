package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramTransport sends alerts to a Telegram chat. The bot is send-only;
// no update polling is started.
type TelegramTransport struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramTransport(token string, chatID int64) (*TelegramTransport, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramTransport{bot: bot, chatID: chatID}, nil
}

func (t *TelegramTransport) Send(ctx context.Context, m Message) error {
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, renderTelegram(m), &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}

// renderTelegram flattens the attachment shape into plain text; Telegram has
// no field/attachment concept.
func renderTelegram(m Message) string {
	var b strings.Builder
	b.WriteString(stripEmojiMarkup(m.Text))
	if m.Title != "" {
		b.WriteString("\n")
		b.WriteString(m.Title)
	}
	for _, f := range m.Fields {
		b.WriteString("\n- ")
		b.WriteString(f.Title)
		b.WriteString(": ")
		b.WriteString(strings.Trim(f.Value, "`"))
	}
	if m.TitleLink != "" {
		b.WriteString("\n")
		b.WriteString(m.TitleLink)
	}
	if m.Footer != "" {
		b.WriteString("\n")
		b.WriteString(m.Footer)
		if !m.Timestamp.IsZero() {
			b.WriteString(" | ")
			b.WriteString(m.Timestamp.Format(time.RFC3339))
		}
	}
	return b.String()
}

// stripEmojiMarkup removes Slack-style :emoji: and *bold* markers.
func stripEmojiMarkup(s string) string {
	out := s
	for {
		start := strings.Index(out, ":")
		if start < 0 {
			break
		}
		end := strings.Index(out[start+1:], ":")
		if end < 0 {
			break
		}
		token := out[start : start+end+2]
		if strings.ContainsAny(token, " \t") {
			break
		}
		out = out[:start] + out[start+end+2:]
	}
	return strings.TrimSpace(strings.ReplaceAll(out, "*", ""))
}
