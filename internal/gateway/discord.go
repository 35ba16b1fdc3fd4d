package gateway

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/fpt/nexus-guard/internal/alert"
	"github.com/fpt/nexus-guard/internal/ingest"
	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

// DiscordAdapter ingests guild and direct messages.
type DiscordAdapter struct {
	session     *discordgo.Session
	inbox       *inbox
	config      DiscordConfig
	logger      *pkgLogger.Logger
	ctx         context.Context
	botUserID   string
	allowGuilds map[string]bool
	allowChans  map[string]bool
	allowUsers  map[string]bool
}

// NewDiscordSession creates a bot session with the intents the adapter needs.
// The connection is opened by the adapter's Start.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	return dg, nil
}

// NewDiscordAdapter creates a Discord adapter on dg.
func NewDiscordAdapter(dg *discordgo.Session, cfg DiscordConfig, st *store.Store, stager *ingest.Stager, logger *pkgLogger.Logger) *DiscordAdapter {
	log := logger.WithComponent("discord")
	a := &DiscordAdapter{
		session:     dg,
		inbox:       newInbox(store.SourceGuildBot, st, stager, log),
		config:      cfg,
		logger:      log,
		ctx:         context.Background(),
		allowGuilds: toSet(cfg.AllowedGuildIDs),
		allowChans:  toSet(cfg.AllowedChannelIDs),
		allowUsers:  toSet(cfg.AllowedUserIDs),
	}
	if cfg.ChannelID != "" {
		a.allowChans[cfg.ChannelID] = true
	}

	if dg != nil {
		// Handlers run on the event loop one at a time, so messages are
		// appended in the order Discord delivered them.
		dg.SyncEvents = true
		dg.AddHandler(a.handleMessage)
		dg.AddHandler(a.handleReady)
	}
	return a
}

func (a *DiscordAdapter) Name() string { return "discord" }

func (a *DiscordAdapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.botUserID = r.User.ID
	a.logger.Info("Discord bot connected", "user", r.User.Username)
}

func (a *DiscordAdapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	a.ingest(m.Message)
}

func (a *DiscordAdapter) ingest(m *discordgo.Message) {
	if m.Author == nil {
		return
	}

	// Ignore own messages
	if m.Author.ID == a.botUserID {
		return
	}

	// Ignore bot messages
	if m.Author.Bot {
		return
	}

	// Check user allowlist
	if len(a.allowUsers) > 0 && !a.allowUsers[m.Author.ID] {
		return
	}

	// Check guild allowlist
	if m.GuildID != "" && len(a.allowGuilds) > 0 && !a.allowGuilds[m.GuildID] {
		return
	}

	// Check channel allowlist
	if len(a.allowChans) > 0 && !a.allowChans[m.ChannelID] {
		return
	}

	sender := ingest.SenderName(m.Author.Username)

	if text := strings.TrimSpace(m.Content); text != "" {
		a.inbox.text(sender, text)
	}

	for _, att := range m.Attachments {
		kind, ok := ingest.DetectKind(att.Filename, att.ContentType)
		if !ok {
			a.inbox.skip("unsupported", "filename", att.Filename, "content_type", att.ContentType)
			continue
		}
		_, _ = a.inbox.mediaFromURL(a.ctx, kind, sender, "", att.Filename, att.URL)
	}
}

// Start connects to Discord and blocks until ctx is cancelled.
func (a *DiscordAdapter) Start(ctx context.Context) error {
	a.logger.Info("Starting Discord adapter")
	a.ctx = ctx

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}

	// Block until context is done
	<-ctx.Done()
	return a.session.Close()
}

// Stop closes the Discord connection.
func (a *DiscordAdapter) Stop() error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

// DiscordSink posts alerts to a guild channel, split at the message size limit.
type DiscordSink struct {
	channelID string
	send      func(ctx context.Context, channelID, content string) error
}

// NewDiscordSink posts through dg. A nil session or empty channel disables it.
func NewDiscordSink(dg *discordgo.Session, channelID string) *DiscordSink {
	s := &DiscordSink{channelID: channelID}
	if dg != nil {
		s.send = func(ctx context.Context, channelID, content string) error {
			_, err := dg.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
			return err
		}
	}
	return s
}

func (s *DiscordSink) Name() string  { return "discord" }
func (s *DiscordSink) Enabled() bool { return s.send != nil && s.channelID != "" }

func (s *DiscordSink) Send(ctx context.Context, a alert.Alert) error {
	for _, chunk := range splitMessage(alert.Markdown(a), 2000) {
		if err := s.send(ctx, s.channelID, chunk); err != nil {
			return fmt.Errorf("failed to send discord alert: %w", err)
		}
	}
	return nil
}

// splitMessage splits text into chunks at newline boundaries, respecting maxLen.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Find last newline within limit
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > 0 {
			cutAt = idx + 1
		} else {
			for cutAt > 1 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
