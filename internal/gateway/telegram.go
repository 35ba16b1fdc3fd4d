package gateway

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/fpt/nexus-guard/internal/alert"
	"github.com/fpt/nexus-guard/internal/ingest"
	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

// TelegramAdapter ingests chat bot messages via long polling.
type TelegramAdapter struct {
	bot        *tgbotapi.BotAPI
	inbox      *inbox
	fileURL    func(fileID string) (string, error)
	allowChats map[int64]bool
	stopOnce   sync.Once
	logger     *pkgLogger.Logger
}

// NewTelegramBot logs in with the bot token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

// NewTelegramAdapter creates the adapter on an authenticated bot.
func NewTelegramAdapter(bot *tgbotapi.BotAPI, cfg TelegramConfig, st *store.Store, stager *ingest.Stager, logger *pkgLogger.Logger) *TelegramAdapter {
	log := logger.WithComponent("telegram")
	a := &TelegramAdapter{
		bot:        bot,
		inbox:      newInbox(store.SourceChatBot, st, stager, log),
		allowChats: make(map[int64]bool, len(cfg.AllowedChatIDs)),
		logger:     log,
	}
	for _, id := range cfg.AllowedChatIDs {
		a.allowChats[id] = true
	}
	if bot != nil {
		a.fileURL = bot.GetFileDirectURL
	}
	return a
}

func (a *TelegramAdapter) Name() string { return "telegram" }

// Start polls for updates until ctx is cancelled.
func (a *TelegramAdapter) Start(ctx context.Context) error {
	a.logger.Info("Telegram bot connected", "user", a.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.stopPolling()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			a.handleUpdate(ctx, upd)
		}
	}
}

// Stop ends long polling. It is safe to call after Start returned.
func (a *TelegramAdapter) Stop() error {
	a.stopPolling()
	return nil
}

// stopPolling closes the bot's shutdown channel at most once.
func (a *TelegramAdapter) stopPolling() {
	if a.bot == nil {
		return
	}
	a.stopOnce.Do(a.bot.StopReceivingUpdates)
}

func (a *TelegramAdapter) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	m := upd.Message
	if m == nil {
		return
	}
	if len(a.allowChats) > 0 && (m.Chat == nil || !a.allowChats[m.Chat.ID]) {
		return
	}

	sender := "Unknown"
	if m.From != nil {
		sender = ingest.SenderName(m.From.FirstName)
	}

	switch {
	case m.Voice != nil:
		a.stage(ctx, store.KindAudio, sender, m.Voice.FileID, "audio_"+m.Voice.FileUniqueID+".ogg")
	case m.Audio != nil:
		name := m.Audio.FileName
		if name == "" {
			name = "audio_" + m.Audio.FileUniqueID + ".ogg"
		}
		a.stage(ctx, store.KindAudio, sender, m.Audio.FileID, name)
	case len(m.Photo) > 0:
		p := largestPhoto(m.Photo)
		a.stage(ctx, store.KindPhoto, sender, p.FileID, p.FileUniqueID+".jpg")
	case m.Video != nil:
		a.stage(ctx, store.KindVideo, sender, m.Video.FileID, m.Video.FileUniqueID+".mp4")
	case m.Document != nil:
		kind, ok := ingest.DetectKind(m.Document.FileName, m.Document.MimeType)
		if !ok {
			a.inbox.skip("unsupported", "filename", m.Document.FileName, "mime", m.Document.MimeType)
			return
		}
		name := m.Document.FileName
		if name == "" {
			name = m.Document.FileUniqueID
		}
		a.stage(ctx, kind, sender, m.Document.FileID, name)
	case m.Text != "" && !m.IsCommand():
		a.inbox.text(sender, m.Text)
	}
}

func (a *TelegramAdapter) stage(ctx context.Context, kind store.Kind, sender, fileID, filename string) {
	url, err := a.fileURL(fileID)
	if err != nil {
		a.inbox.skip("file_lookup_failed", "file_id", fileID, "error", err)
		return
	}
	_, _ = a.inbox.mediaFromURL(ctx, kind, sender, "", filename, url)
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[len(sizes)-1]
	for _, p := range sizes {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// TelegramSink delivers alerts as a direct message to one chat.
type TelegramSink struct {
	chatID int64
	send   func(chatID int64, text string) error
}

// NewTelegramSink sends through bot. A nil bot or zero chat id disables it.
func NewTelegramSink(bot *tgbotapi.BotAPI, chatID int64) *TelegramSink {
	s := &TelegramSink{chatID: chatID}
	if bot != nil {
		s.send = func(chatID int64, text string) error {
			_, err := bot.Send(tgbotapi.NewMessage(chatID, text))
			return err
		}
	}
	return s
}

func (s *TelegramSink) Name() string  { return "telegram" }
func (s *TelegramSink) Enabled() bool { return s.send != nil && s.chatID != 0 }

func (s *TelegramSink) Send(ctx context.Context, a alert.Alert) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.send(s.chatID, alert.PlainText(a)) }()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "failed to send telegram alert")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
