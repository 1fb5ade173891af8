package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/stats"
)

type fakeSource struct{}

func (fakeSource) Overview(context.Context, time.Time) (stats.Overview, error) {
	return stats.Overview{TotalCases: 3, Pending: 2, Resolved: 1}, nil
}

func (fakeSource) CountByType(context.Context, time.Time) (map[domain.CaseType]int, error) {
	return map[domain.CaseType]int{domain.TypeQueja: 2, domain.TypePeticion: 1}, nil
}

func (fakeSource) CountByCategory(context.Context, time.Time) (map[domain.Category]int, error) {
	return map[domain.Category]int{domain.CategorySalud: 3}, nil
}

func (fakeSource) ClassificationStats(context.Context, time.Time) (domain.ClassificationStats, error) {
	return domain.ClassificationStats{TotalClassifications: 3}, nil
}

type fakePoster struct {
	channel string
	calls   int
	err     error
}

func (p *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	p.calls++
	p.channel = channelID
	return channelID, "1700000000.000100", p.err
}

var fixedNow = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }

func newDigest(opts ...Option) *Digest {
	opts = append([]Option{WithClock(fixedNow), WithLocation(time.UTC)}, opts...)
	return New(stats.NewService(fakeSource{}, fixedNow), 7, opts...)
}

func TestRender(t *testing.T) {
	text, err := newDigest().Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"last 7 days", "Mon Mar 2 08:00", "Queja", "Salud"} {
		if !strings.Contains(text, want) {
			t.Fatalf("digest missing %q:\n%s", want, text)
		}
	}
}

func TestSendPostsToChannel(t *testing.T) {
	p := &fakePoster{}
	if err := newDigest(WithSlack(p, "C123")).Send(context.Background()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p.calls != 1 || p.channel != "C123" {
		t.Fatalf("poster calls=%d channel=%q", p.calls, p.channel)
	}
}

func TestSendWrapsPostError(t *testing.T) {
	p := &fakePoster{err: errors.New("channel_not_found")}
	err := newDigest(WithSlack(p, "C404")).Send(context.Background())
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected post error, got %v", err)
	}
}

func TestSendWithoutSlackOnlyLogs(t *testing.T) {
	if err := newDigest().Send(context.Background()); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("0 8 * * 1")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	next := sched.Next(fixedNow())
	want := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}
	if _, err := ParseSchedule("every monday"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- newDigest().Run(ctx, "0 8 * * 1") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
