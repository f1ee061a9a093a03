// Package notify fans tender notifications out over independently
// toggled channels. Delivery is best-effort: one channel failing is
// logged and never blocks the others, and nothing here returns an
// error to the pipeline.
package notify

import (
	"context"
	"fmt"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

// Channel delivers rendered notifications over one transport. Each
// channel renders its own summary because size limits differ per
// transport.
type Channel interface {
	Name() string
	SendNewTenders(ctx context.Context, source tender.Source, tenders []tender.Tender) error
	SendError(ctx context.Context, source tender.Source, message string) error
	SendReminder(ctx context.Context, t tender.Tender, daysLeft int) error
}

// Notifier is what the scheduler and the reminder engine depend on.
type Notifier interface {
	NotifyNew(ctx context.Context, source tender.Source, tenders []tender.Tender)
	NotifyError(ctx context.Context, source tender.Source, message string)
	NotifyReminder(ctx context.Context, t tender.Tender, daysLeft int)
}

type Service struct {
	channels []Channel
	log      logx.Logger
}

func NewService(log logx.Logger, channels ...Channel) *Service {
	return &Service{channels: channels, log: log.With(logx.String("component", "notify"))}
}

func (s *Service) NotifyNew(ctx context.Context, source tender.Source, tenders []tender.Tender) {
	if len(tenders) == 0 {
		return
	}
	s.each(ctx, "new tenders", func(ctx context.Context, c Channel) error {
		return c.SendNewTenders(ctx, source, tenders)
	})
}

func (s *Service) NotifyError(ctx context.Context, source tender.Source, message string) {
	s.each(ctx, "source error", func(ctx context.Context, c Channel) error {
		return c.SendError(ctx, source, message)
	})
}

func (s *Service) NotifyReminder(ctx context.Context, t tender.Tender, daysLeft int) {
	s.each(ctx, "reminder", func(ctx context.Context, c Channel) error {
		return c.SendReminder(ctx, t, daysLeft)
	})
}

func (s *Service) each(ctx context.Context, what string, send func(context.Context, Channel) error) {
	for _, c := range s.channels {
		if err := send(ctx, c); err != nil {
			s.log.Error("channel send failed", logx.String("channel", c.Name()), logx.String("kind", what), logx.Err(err))
			continue
		}
		s.log.Debug("sent", logx.String("channel", c.Name()), logx.String("kind", what))
	}
}

var _ Notifier = (*Service)(nil)

// moreNote renders the "and N more" suffix shared by the channel
// summaries.
func moreNote(total, shown int) string {
	if total <= shown {
		return ""
	}
	return fmt.Sprintf("... and %d more", total-shown)
}
