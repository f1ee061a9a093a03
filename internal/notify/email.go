package notify

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

// emailMaxListed is larger than the telegram cap: mail has no message
// size pressure, so richer summaries are fine.
const emailMaxListed = 10

type EmailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	Recipient string
}

// EmailChannel delivers HTML digests over plain SMTP with AUTH.
type EmailChannel struct {
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	log  logx.Logger
}

func NewEmail(cfg EmailConfig, log logx.Logger) (*EmailChannel, error) {
	if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.Recipient) == "" {
		return nil, fmt.Errorf("email host and recipient are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &EmailChannel{cfg: cfg, send: smtp.SendMail, log: log.With(logx.String("channel", "email"))}, nil
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) SendNewTenders(ctx context.Context, source tender.Source, tenders []tender.Tender) error {
	subject := fmt.Sprintf("%d new tenders from %s", len(tenders), source.DisplayName())

	var b strings.Builder
	fmt.Fprintf(&b, "<h2>New tenders - %s</h2>\n<p>Found: <strong>%d</strong></p>\n<hr>\n", source.DisplayName(), len(tenders))
	shown := min(len(tenders), emailMaxListed)
	for i := 0; i < shown; i++ {
		t := tenders[i]
		fmt.Fprintf(&b, `<div style="margin-bottom:20px;padding:15px;border:1px solid #ddd;border-radius:8px;">`)
		fmt.Fprintf(&b, "<h3>%s</h3>\n", html.EscapeString(t.Title))
		fmt.Fprintf(&b, "<p><strong>Category:</strong> %s</p>\n", html.EscapeString(orEmptyNA(t.Category)))
		fmt.Fprintf(&b, "<p><strong>Amount:</strong> %s</p>\n", html.EscapeString(orEmptyNA(t.Amount)))
		fmt.Fprintf(&b, "<p><strong>Deadline:</strong> %s</p>\n", deadlineOrNA(t.Deadline))
		if t.Link != "" {
			fmt.Fprintf(&b, `<a href="%s">Open tender</a>`+"\n", t.Link)
		}
		b.WriteString("</div>\n")
	}
	if note := moreNote(len(tenders), shown); note != "" {
		fmt.Fprintf(&b, "<p><em>%s</em></p>\n", note)
	}
	return c.sendMail(ctx, subject, b.String())
}

func (c *EmailChannel) SendError(ctx context.Context, source tender.Source, message string) error {
	subject := fmt.Sprintf("Scrape failed for %s", source.DisplayName())
	body := fmt.Sprintf("<p>Scraping %s failed:</p><pre>%s</pre>", source.DisplayName(), html.EscapeString(message))
	return c.sendMail(ctx, subject, body)
}

func (c *EmailChannel) SendReminder(ctx context.Context, t tender.Tender, daysLeft int) error {
	subject := fmt.Sprintf("Deadline reminder: %d day(s) left", daysLeft)
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Deadline reminder</h2>\n<p><strong>%s</strong></p>\n", html.EscapeString(t.Title))
	fmt.Fprintf(&b, "<p>Days left: %d<br>Deadline: %s</p>\n", daysLeft, deadlineOrNA(t.Deadline))
	if t.Link != "" {
		fmt.Fprintf(&b, `<a href="%s">Open tender</a>`+"\n", t.Link)
	}
	return c.sendMail(ctx, subject, b.String())
}

// sendMail blocks; smtp.SendMail has no context hook, so cancellation
// only short-circuits before the dial.
func (c *EmailChannel) sendMail(ctx context.Context, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", c.cfg.Recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	return c.send(addr, auth, c.cfg.From, []string{c.cfg.Recipient}, []byte(msg.String()))
}

func orEmptyNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

var _ Channel = (*EmailChannel)(nil)
