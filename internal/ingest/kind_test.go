package ingest

import (
	"strings"
	"testing"

	"github.com/fpt/nexus-guard/internal/store"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		want        store.Kind
		wantOK      bool
	}{
		{"mp3 by extension", "call.MP3", "", store.KindAudio, true},
		{"voice note by mime", "voice", "audio/ogg; codecs=opus", store.KindAudio, true},
		{"jpeg", "IMG_001.jpeg", "application/octet-stream", store.KindPhoto, true},
		{"image mime only", "blob", "image/heic", store.KindPhoto, true},
		{"webm video", "clip.webm", "", store.KindVideo, true},
		{"video mime only", "clip", "video/quicktime", store.KindVideo, true},
		{"extension wins over mime", "a.mp4", "image/png", store.KindVideo, true},
		{"pdf unsupported", "invoice.pdf", "application/pdf", 0, false},
		{"nothing known", "", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectKind(tt.filename, tt.contentType)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DetectKind(%q, %q) = %v, %v; want %v, %v", tt.filename, tt.contentType, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCaption(t *testing.T) {
	if got := Caption(store.KindAudio, "note.ogg", "bob"); !strings.HasPrefix(got, "note.ogg ⮜") {
		t.Errorf("audio caption should lead with filename, got %q", got)
	}
	if got := Caption(store.KindPhoto, "x.png", "bob"); !strings.Contains(got, "image from bob") {
		t.Errorf("photo caption should name sender, got %q", got)
	}
	if got := Caption(store.KindVideo, "x.mp4", "bob"); !strings.Contains(got, "video from bob") {
		t.Errorf("video caption should name sender, got %q", got)
	}
}

func TestSenderName(t *testing.T) {
	if got := SenderName("", "  ", "alice@example.com"); got != "alice@example.com" {
		t.Errorf("expected address fallback, got %q", got)
	}
	if got := SenderName(); got != "Unknown" {
		t.Errorf("expected Unknown, got %q", got)
	}
}
