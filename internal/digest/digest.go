// Package digest posts a periodic statistics summary to Slack on a cron schedule.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"

	"pqrdesk/internal/format"
	"pqrdesk/internal/logging"
	"pqrdesk/internal/stats"
)

// Poster is the part of *slack.Client the digest uses.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Digest struct {
	stats   *stats.Service
	poster  Poster
	channel string
	days    int
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Digest)

// WithSlack posts to channel. Without it the digest is only logged.
func WithSlack(p Poster, channel string) Option {
	return func(d *Digest) {
		d.poster = p
		d.channel = channel
	}
}

func WithLocation(loc *time.Location) Option {
	return func(d *Digest) {
		if loc != nil {
			d.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Digest) { d.now = now }
}

func New(s *stats.Service, days int, opts ...Option) *Digest {
	d := &Digest{
		stats:  s,
		days:   days,
		loc:    time.Local,
		now:    time.Now,
		logger: logging.New("digest"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Render builds the Markdown digest for the configured window.
func (d *Digest) Render(ctx context.Context) (string, error) {
	r, err := d.stats.Full(ctx, d.days)
	if err != nil {
		return "", fmt.Errorf("building digest: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*PQR digest* for the last %d days (%s)\n", r.Overview.Days, d.now().In(d.loc).Format("Mon Jan 2 15:04"))
	b.WriteString("```\n")
	b.WriteString(format.Report(r, format.ASCII))
	b.WriteString("```")
	return b.String(), nil
}

// Send renders the digest and posts it, or logs it when Slack is not configured.
func (d *Digest) Send(ctx context.Context) error {
	text, err := d.Render(ctx)
	if err != nil {
		return err
	}
	if d.poster == nil || d.channel == "" {
		d.logger.Info("digest ready (slack not configured)", "size", len(text))
		return nil
	}
	if _, _, err := d.poster.PostMessageContext(ctx, d.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("posting digest to %s: %w", d.channel, err)
	}
	d.logger.Info("digest posted", "channel", d.channel)
	return nil
}

// ParseSchedule accepts a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), e.g. "0 8 * * 1" for Mondays 8am.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid digest schedule '%s': %w", expr, err)
	}
	return sched, nil
}

// Run sends the digest on every tick of schedule until ctx is cancelled. A failed
// send is logged and the loop continues.
func (d *Digest) Run(ctx context.Context, schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	d.logger.Info("digest scheduled", "cron", schedule, "days", d.days)

	for {
		now := d.now().In(d.loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		d.logger.Info("next digest", "at", next.Format("Mon Jan 2 15:04"), "in", wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := d.Send(ctx); err != nil {
			d.logger.Error("digest failed", "err", err)
		}
	}
}
