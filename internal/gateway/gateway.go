package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fpt/nexus-guard/internal/alert"
	"github.com/fpt/nexus-guard/internal/classifier"
	"github.com/fpt/nexus-guard/internal/feed"
	"github.com/fpt/nexus-guard/internal/ingest"
	"github.com/fpt/nexus-guard/internal/store"
	"github.com/fpt/nexus-guard/internal/triage"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

// Gateway wires the inbound adapters, the triage scheduler, the alert
// dispatcher and the feed around one message store.
type Gateway struct {
	config     *Config
	store      *store.Store
	stager     *ingest.Stager
	dispatcher *alert.Dispatcher
	scheduler  *triage.Scheduler
	heartbeat  *Heartbeat
	feed       *feed.Server
	adapters   []Adapter
	bus        *alert.BusSink
	logger     *pkgLogger.Logger
}

// NewGateway builds every component from cfg. Channels and sinks without
// credentials are left out.
func NewGateway(cfg *Config, logger *pkgLogger.Logger) (*Gateway, error) {
	st := store.New()

	stager, err := ingest.NewStager(cfg.Storage.TempRoot, &http.Client{Timeout: 2 * time.Minute})
	if err != nil {
		return nil, err
	}

	clf, err := newClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config: cfg,
		store:  st,
		stager: stager,
		logger: logger.WithComponent("gateway"),
	}

	tg, err := gw.telegram(cfg.Telegram, logger)
	if err != nil {
		return nil, err
	}
	dg, err := gw.discord(cfg.Discord, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Email.Address != "" && cfg.Email.Password != "" {
		gw.adapters = append(gw.adapters, NewMailboxAdapter(DialIMAP(cfg.Email), cfg.Email, st, stager, logger))
	}

	bus, err := alert.NewBusSink(cfg.Bus.URL, cfg.Bus.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert bus: %w", err)
	}
	gw.bus = bus

	gw.dispatcher = alert.NewDispatcher(duration(cfg.Alerts.SinkTimeout, alert.DefaultSinkTimeout), logger,
		alert.NewDesktopSink(cfg.Alerts.Desktop),
		NewTelegramSink(tg, cfg.Telegram.AlertChatID),
		NewDiscordSink(dg, cfg.Discord.AlertChannelID),
		alert.NewEmailSink(alert.EmailConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Address,
			Password: cfg.Email.Password,
			To:       cfg.Email.AlertTo,
		}),
		bus,
	)

	gw.scheduler = triage.New(st, clf, gw.dispatcher, triage.Options{
		Interval:        duration(cfg.Triage.Interval, triage.DefaultInterval),
		Workers:         cfg.Triage.Workers,
		ClassifyTimeout: duration(cfg.Classifier.Timeout, triage.DefaultClassifyTimeout),
		FailClosed:      cfg.Triage.FailClosed,
		Retention:       triage.Retention(cfg.Storage.Retention),
		Payloads:        stager,
	}, logger)

	gw.heartbeat = NewHeartbeat(cfg.Heartbeat, st, logger)

	if cfg.Feed.Addr != "" {
		gw.feed = feed.New(st, feed.Options{
			Addr:    cfg.Feed.Addr,
			Refresh: duration(cfg.Feed.Refresh, feed.DefaultRefresh),
			Limit:   cfg.Feed.Limit,
		}, logger)
	}

	return gw, nil
}

func newClassifier(cfg ClassifierConfig) (classifier.Classifier, error) {
	media := classifier.NewHTTPClassifier(classifier.Endpoints{
		Text:  cfg.TextURL,
		Audio: cfg.AudioURL,
		Image: cfg.ImageURL,
		Video: cfg.VideoURL,
	}, nil)

	switch cfg.TextBackend {
	case "", "http":
		return media, nil
	case "openai":
		text, err := classifier.NewOpenAITextClassifier(cfg.OpenAIKey, cfg.OpenAIURL, cfg.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai classifier: %w", err)
		}
		return classifier.Router{Text: text, Media: media}, nil
	default:
		return nil, fmt.Errorf("unknown text backend %q", cfg.TextBackend)
	}
}

func (gw *Gateway) telegram(cfg TelegramConfig, logger *pkgLogger.Logger) (*tgbotapi.BotAPI, error) {
	if cfg.Token == "" {
		return nil, nil
	}
	bot, err := NewTelegramBot(cfg.Token)
	if err != nil {
		return nil, err
	}
	gw.adapters = append(gw.adapters, NewTelegramAdapter(bot, cfg, gw.store, gw.stager, logger))
	return bot, nil
}

func (gw *Gateway) discord(cfg DiscordConfig, logger *pkgLogger.Logger) (*discordgo.Session, error) {
	if cfg.Token == "" {
		return nil, nil
	}
	dg, err := NewDiscordSession(cfg.Token)
	if err != nil {
		return nil, err
	}
	gw.adapters = append(gw.adapters, NewDiscordAdapter(dg, cfg, gw.store, gw.stager, logger))
	return dg, nil
}

// Adapters returns the names of the configured inbound channels.
func (gw *Gateway) Adapters() []string {
	names := make([]string, len(gw.adapters))
	for i, a := range gw.adapters {
		names[i] = a.Name()
	}
	return names
}

// Sinks returns the names of the alert sinks.
func (gw *Gateway) Sinks() []string { return gw.dispatcher.Sinks() }

// Run starts all adapters, the scheduler, the heartbeat and the feed, and
// blocks until ctx is cancelled and all of them have returned. A failing
// adapter is logged and does not stop the others.
func (gw *Gateway) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, a := range gw.adapters {
		gw.logger.Info("Starting adapter", "adapter", a.Name())
		wg.Add(1)
		go func(ad Adapter) {
			defer wg.Done()
			if err := ad.Start(ctx); err != nil {
				gw.logger.Error("Adapter failed", "adapter", ad.Name(), "error", err)
				return
			}
			gw.logger.Info("Adapter stopped", "adapter", ad.Name())
		}(a)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		gw.scheduler.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		gw.heartbeat.Start(ctx)
	}()

	if gw.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gw.feed.Run(ctx); err != nil {
				gw.logger.Error("Feed server failed", "error", err)
			}
		}()
	}

	gw.logger.InfoWithIntention(pkgLogger.IntentionSuccess, "Gateway running", "adapters", gw.Adapters(), "sinks", gw.Sinks())
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close shuts down all adapters and the alert bus.
func (gw *Gateway) Close() error {
	for _, a := range gw.adapters {
		_ = a.Stop()
	}
	if gw.bus != nil {
		return gw.bus.Close()
	}
	return nil
}
