package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

// telegramMaxListed caps how many tenders one message lists verbatim;
// the rest collapse into the "and N more" note.
const telegramMaxListed = 5

const telegramTitleRunes = 80

type TelegramConfig struct {
	Token      string
	ChatID     int64
	RatePerSec int
}

// TelegramChannel sends compact HTML summaries to one chat. Sends go
// through a token bucket so a burst of sources finishing at once stays
// under the Bot API limits.
type TelegramChannel struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*TelegramChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: false})
	if err != nil {
		return nil, err
	}
	return &TelegramChannel{
		bot:     b,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log.With(logx.String("channel", "telegram")),
	}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) SendNewTenders(ctx context.Context, source tender.Source, tenders []tender.Tender) error {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 <b>New tenders - %s</b>\n\nFound: <b>%d</b>\n", source.DisplayName(), len(tenders))

	shown := min(len(tenders), telegramMaxListed)
	for i := 0; i < shown; i++ {
		t := tenders[i]
		title := t.Title
		if r := []rune(title); len(r) > telegramTitleRunes {
			title = string(r[:telegramTitleRunes]) + "..."
		}
		fmt.Fprintf(&b, "\n%d. <b>%s</b>\n   💰 %s | 📅 %s\n", i+1, html.EscapeString(title), orNA(t.Amount), deadlineOrNA(t.Deadline))
		if t.Link != "" {
			fmt.Fprintf(&b, "   %s\n", t.Link)
		}
	}
	if note := moreNote(len(tenders), shown); note != "" {
		fmt.Fprintf(&b, "\n%s\n", note)
	}
	return c.send(ctx, b.String())
}

func (c *TelegramChannel) SendError(ctx context.Context, source tender.Source, message string) error {
	return c.send(ctx, fmt.Sprintf("⚠️ Scrape failed for %s: %s", source.DisplayName(), html.EscapeString(message)))
}

func (c *TelegramChannel) SendReminder(ctx context.Context, t tender.Tender, daysLeft int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ <b>Deadline reminder</b>\n\n%s\nDays left: <b>%d</b>\nDeadline: %s\n",
		html.EscapeString(t.Title), daysLeft, deadlineOrNA(t.Deadline))
	if t.Link != "" {
		b.WriteString(t.Link + "\n")
	}
	return c.send(ctx, b.String())
}

func (c *TelegramChannel) send(ctx context.Context, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.bot.Send(c.chat, text, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
	return err
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return html.EscapeString(s)
}

func deadlineOrNA(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format("02.01.2006")
}

var _ Channel = (*TelegramChannel)(nil)
