package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/webhook"
)

const (
	colorPremium  = 0xff5555
	colorDiscount = 0x55aaff
)

// EmbedSender delivers one embed to a channel.
type EmbedSender interface {
	Send(ctx context.Context, embed discord.Embed) error
	Close(ctx context.Context)
}

// -----------------------------------------------------------------------------

type webhookSender struct {
	client webhook.Client
}

// NewWebhookSender wraps a Discord webhook URL.
func NewWebhookSender(url string) (EmbedSender, error) {
	client, err := webhook.NewWithURL(url)
	if err != nil {
		return nil, fmt.Errorf("discord webhook: %w", err)
	}
	return &webhookSender{client: client}, nil
}

func (w *webhookSender) Send(ctx context.Context, embed discord.Embed) error {
	_, err := w.client.CreateEmbeds([]discord.Embed{embed}, rest.WithCtx(ctx))
	return err
}

func (w *webhookSender) Close(ctx context.Context) {
	w.client.Close(ctx)
}

// -----------------------------------------------------------------------------

// PremiumAlerter posts a Discord embed when a symbol's premium crosses the
// threshold in either direction, at most once per cooldown per symbol.
type PremiumAlerter struct {
	Sender    EmbedSender
	Threshold float64
	Cooldown  time.Duration
	Logger    *logger.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func NewPremiumAlerter(cfg models.MAlertConfig, sender EmbedSender, log *logger.Logger) *PremiumAlerter {
	return &PremiumAlerter{
		Sender:    sender,
		Threshold: math.Abs(cfg.ThresholdPercent),
		Cooldown:  time.Duration(cfg.CooldownSeconds) * time.Second,
		Logger:    log,
		lastSent:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// -----------------------------------------------------------------------------

func (a *PremiumAlerter) Name() string { return "discord" }

// -----------------------------------------------------------------------------

func (a *PremiumAlerter) ConsumePremiums(ctx context.Context, records []models.MPremiumRecord) error {
	var errs []error
	for _, r := range records {
		if math.Abs(r.PremiumPercent) < a.Threshold || !a.claim(r.Symbol) {
			continue
		}
		if err := a.Sender.Send(ctx, buildEmbed(r)); err != nil {
			a.release(r.Symbol)
			errs = append(errs, fmt.Errorf("%s: %w", r.Symbol, err))
			continue
		}
		a.Logger.Info("Premium alert sent for %s at %.2f%%", r.Symbol, r.PremiumPercent)
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

func (a *PremiumAlerter) claim(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.lastSent[symbol]; ok && now.Sub(last) < a.Cooldown {
		return false
	}
	a.lastSent[symbol] = now
	return true
}

func (a *PremiumAlerter) release(symbol string) {
	a.mu.Lock()
	delete(a.lastSent, symbol)
	a.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (a *PremiumAlerter) Close(ctx context.Context) {
	a.Sender.Close(ctx)
}

// -----------------------------------------------------------------------------

func buildEmbed(r models.MPremiumRecord) discord.Embed {
	title := fmt.Sprintf("%s kimchi premium %.2f%%", r.Symbol, r.PremiumPercent)
	color := colorPremium
	if r.PremiumPercent < 0 {
		title = fmt.Sprintf("%s reverse premium %.2f%%", r.Symbol, r.PremiumPercent)
		color = colorDiscount
	}
	return discord.NewEmbedBuilder().
		SetTitle(title).
		SetColor(color).
		AddField("Domestic avg (KRW)", fmt.Sprintf("%.2f", r.DomesticAvgPrice), true).
		AddField("Global avg (USD)", fmt.Sprintf("%.4f", r.GlobalAvgPrice), true).
		AddField("Global avg (KRW)", fmt.Sprintf("%.2f", r.GlobalAvgPriceConverted), true).
		AddField("USD/KRW", fmt.Sprintf("%.2f", r.Rate), true).
		SetTimestamp(r.CalculatedAt).
		Build()
}
