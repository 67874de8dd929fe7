package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	"github.com/disgoorg/disgo/discord"
)

type fakeSender struct {
	embeds []discord.Embed
	err    error
	closed bool
}

func (f *fakeSender) Send(_ context.Context, e discord.Embed) error {
	if f.err != nil {
		return f.err
	}
	f.embeds = append(f.embeds, e)
	return nil
}

func (f *fakeSender) Close(context.Context) { f.closed = true }

func newTestAlerter(sender EmbedSender, now *time.Time) *PremiumAlerter {
	a := NewPremiumAlerter(models.MAlertConfig{ThresholdPercent: 3, CooldownSeconds: 600}, sender, logger.NewNop())
	a.now = func() time.Time { return *now }
	return a
}

func TestAlerterThresholdAndCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sender := &fakeSender{}
	a := newTestAlerter(sender, &now)

	records := []models.MPremiumRecord{
		{Symbol: "BTC", PremiumPercent: 4.2},
		{Symbol: "ETH", PremiumPercent: 1.1},
		{Symbol: "XRP", PremiumPercent: -3.5},
	}
	if err := a.ConsumePremiums(context.Background(), records); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(sender.embeds) != 2 {
		t.Fatalf("sent %d embeds, want 2", len(sender.embeds))
	}
	if !strings.Contains(sender.embeds[1].Title, "reverse") {
		t.Fatalf("negative premium title = %q", sender.embeds[1].Title)
	}

	now = now.Add(5 * time.Minute)
	_ = a.ConsumePremiums(context.Background(), records)
	if len(sender.embeds) != 2 {
		t.Fatalf("cooldown ignored: %d embeds", len(sender.embeds))
	}

	now = now.Add(6 * time.Minute)
	_ = a.ConsumePremiums(context.Background(), records)
	if len(sender.embeds) != 4 {
		t.Fatalf("after cooldown: %d embeds", len(sender.embeds))
	}

	a.Close(context.Background())
	if !sender.closed {
		t.Fatal("sender not closed")
	}
}

func TestAlerterRetriesAfterFailure(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sender := &fakeSender{err: errors.New("429")}
	a := newTestAlerter(sender, &now)

	rec := []models.MPremiumRecord{{Symbol: "BTC", PremiumPercent: 5}}
	if err := a.ConsumePremiums(context.Background(), rec); err == nil {
		t.Fatal("expected error")
	}

	sender.err = nil
	if err := a.ConsumePremiums(context.Background(), rec); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(sender.embeds) != 1 {
		t.Fatalf("embeds = %d", len(sender.embeds))
	}
}

// -----------------------------------------------------------------------------

func TestWebhookSenderHonoursContext(t *testing.T) {
	sender, err := NewWebhookSender("https://discord.com/api/webhooks/1/token")
	if err != nil {
		t.Fatalf("NewWebhookSender: %v", err)
	}
	defer sender.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err = sender.Send(ctx, discord.Embed{Title: "BTC"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Send with cancelled context = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Send took %v after cancellation", time.Since(start))
	}
}
