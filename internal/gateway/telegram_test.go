package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/fpt/nexus-guard/internal/alert"
	"github.com/fpt/nexus-guard/internal/ingest"
	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

func newTestTelegram(t *testing.T, cfg TelegramConfig) (*TelegramAdapter, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	st := store.New()
	stager, err := ingest.NewStager(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	a := NewTelegramAdapter(nil, cfg, st, stager, pkgLogger.NewDiscardLogger())
	a.fileURL = func(fileID string) (string, error) {
		if fileID == "" {
			return "", errors.New("no file id")
		}
		return srv.URL + "/file/" + fileID, nil
	}
	return a, st
}

func update(m *tgbotapi.Message) tgbotapi.Update {
	if m.Chat == nil {
		m.Chat = &tgbotapi.Chat{ID: 100}
	}
	return tgbotapi.Update{Message: m}
}

func TestTelegramHandleUpdate(t *testing.T) {
	alice := &tgbotapi.User{FirstName: "Alice"}

	tests := []struct {
		name     string
		msg      *tgbotapi.Message
		wantKind store.Kind
		wantName string
	}{
		{
			name:     "text",
			msg:      &tgbotapi.Message{From: alice, Text: "send me the code"},
			wantKind: store.KindText,
		},
		{
			name:     "voice",
			msg:      &tgbotapi.Message{From: alice, Voice: &tgbotapi.Voice{FileID: "v1", FileUniqueID: "uv1"}},
			wantKind: store.KindAudio,
			wantName: "audio_uv1.ogg",
		},
		{
			name:     "audio with name",
			msg:      &tgbotapi.Message{From: alice, Audio: &tgbotapi.Audio{FileID: "a1", FileUniqueID: "ua1", FileName: "call.mp3"}},
			wantKind: store.KindAudio,
			wantName: "call.mp3",
		},
		{
			name: "photo picks largest",
			msg: &tgbotapi.Message{From: alice, Photo: []tgbotapi.PhotoSize{
				{FileID: "small", FileUniqueID: "us", Width: 90, Height: 90},
				{FileID: "big", FileUniqueID: "ub", Width: 1280, Height: 720},
				{FileID: "mid", FileUniqueID: "um", Width: 320, Height: 180},
			}},
			wantKind: store.KindPhoto,
			wantName: "ub.jpg",
		},
		{
			name:     "video",
			msg:      &tgbotapi.Message{From: alice, Video: &tgbotapi.Video{FileID: "vid", FileUniqueID: "uvid"}},
			wantKind: store.KindVideo,
			wantName: "uvid.mp4",
		},
		{
			name:     "image document",
			msg:      &tgbotapi.Message{From: alice, Document: &tgbotapi.Document{FileID: "d1", FileUniqueID: "ud1", FileName: "scan.png", MimeType: "image/png"}},
			wantKind: store.KindPhoto,
			wantName: "scan.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, st := newTestTelegram(t, TelegramConfig{})
			a.handleUpdate(context.Background(), update(tt.msg))

			if st.Len() != 1 {
				t.Fatalf("expected one message, got %d", st.Len())
			}
			m, _ := st.Get(1)
			if m.Source != store.SourceChatBot || m.Kind != tt.wantKind || m.SenderName != "Alice" {
				t.Errorf("unexpected message %+v", m)
			}
			if tt.wantName == "" {
				if m.PayloadRef != "" || m.Content != tt.msg.Text {
					t.Errorf("text message should carry content only: %+v", m)
				}
				return
			}
			if !strings.HasSuffix(m.PayloadRef, "_"+tt.wantName) {
				t.Errorf("payload %q should end with %q", m.PayloadRef, tt.wantName)
			}
			if m.Content != ingest.Caption(tt.wantKind, tt.wantName, "Alice") {
				t.Errorf("unexpected caption %q", m.Content)
			}
			if _, err := os.Stat(m.PayloadRef); err != nil {
				t.Errorf("payload not staged: %v", err)
			}
		})
	}
}

func TestTelegramSkips(t *testing.T) {
	tests := []struct {
		name string
		msg  *tgbotapi.Message
	}{
		{"command", &tgbotapi.Message{Text: "/start", Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}}},
		{"unsupported document", &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d", FileName: "invoice.pdf", MimeType: "application/pdf"}}},
		{"download failure", &tgbotapi.Message{Video: &tgbotapi.Video{FileID: "missing", FileUniqueID: "x"}}},
		{"file lookup failure", &tgbotapi.Message{Voice: &tgbotapi.Voice{FileUniqueID: "x"}}},
		{"empty", &tgbotapi.Message{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, st := newTestTelegram(t, TelegramConfig{})
			a.handleUpdate(context.Background(), update(tt.msg))
			if st.Len() != 0 {
				t.Errorf("expected nothing appended, got %d", st.Len())
			}
		})
	}
}

func TestTelegramSenderDefaultsAndAllowlist(t *testing.T) {
	a, st := newTestTelegram(t, TelegramConfig{AllowedChatIDs: []int64{7}})

	a.handleUpdate(context.Background(), update(&tgbotapi.Message{Text: "from elsewhere"}))
	if st.Len() != 0 {
		t.Fatal("message from a chat outside the allowlist was ingested")
	}

	a.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Text: "hello"}})
	m, ok := st.Get(1)
	if !ok || m.SenderName != "Unknown" {
		t.Errorf("expected Unknown sender, got %+v", m)
	}
}

func TestTelegramSink(t *testing.T) {
	if NewTelegramSink(nil, 5).Enabled() {
		t.Error("sink without a bot must be disabled")
	}

	s := &TelegramSink{chatID: 5}
	var gotChat int64
	var gotText string
	s.send = func(chatID int64, text string) error {
		gotChat, gotText = chatID, text
		return nil
	}
	if !s.Enabled() {
		t.Fatal("expected sink to be enabled")
	}

	a := alert.Alert{Source: "discord", SenderName: "mallory", Summary: "wire the money"}
	if err := s.Send(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if gotChat != 5 || gotText != alert.PlainText(a) {
		t.Errorf("unexpected send %d %q", gotChat, gotText)
	}

	s.send = func(int64, string) error { return errors.New("forbidden") }
	if err := s.Send(context.Background(), a); err == nil {
		t.Error("expected send error")
	}
}

func TestTelegramStopAfterCancelledStart(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"guard","username":"guard_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			select {
			case <-r.Context().Done():
			case <-time.After(10 * time.Millisecond):
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer api.Close()

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint("token", api.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("failed to create bot: %v", err)
	}
	stager, err := ingest.NewStager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	a := NewTelegramAdapter(bot, TelegramConfig{}, store.New(), stager, pkgLogger.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v after cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Stop after cancelled Start panicked: %v", r)
		}
	}()
	if err := a.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}
