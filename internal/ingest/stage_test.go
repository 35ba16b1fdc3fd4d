package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestStageWritesUniqueFiles(t *testing.T) {
	s, err := NewStager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	a, err := s.Stage("photo.jpg", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	b, err := s.Stage("photo.jpg", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct paths for identical filenames")
	}
	if filepath.Dir(a) != s.Root() {
		t.Errorf("staged outside root: %s", a)
	}
	if !strings.HasSuffix(a, "_photo.jpg") {
		t.Errorf("expected filename to be kept, got %s", a)
	}

	data, _ := os.ReadFile(b)
	if string(data) != "two" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestStageSanitizesTraversal(t *testing.T) {
	s, _ := NewStager(t.TempDir(), nil)

	p, err := s.Stage("../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(p) != s.Root() {
		t.Errorf("traversal escaped root: %s", p)
	}
}

func TestStageRejectsOversizeAndEmpty(t *testing.T) {
	s, _ := NewStager(t.TempDir(), nil)
	s.maxBytes = 4

	if _, err := s.Stage("big.bin", strings.NewReader("12345")); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := s.Stage("empty.bin", strings.NewReader("")); err == nil {
		t.Error("expected error for empty payload")
	}

	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 0 {
		t.Errorf("rejected payloads left %d files behind", len(entries))
	}
}

func TestStageURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	s, _ := NewStager(t.TempDir(), srv.Client())

	p, err := s.StageURL(context.Background(), srv.URL+"/file", "voice.ogg")
	if err != nil {
		t.Fatalf("StageURL failed: %v", err)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "audio-bytes" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := s.StageURL(context.Background(), srv.URL+"/missing", "x.ogg"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestDiscard(t *testing.T) {
	s, _ := NewStager(t.TempDir(), nil)
	p, _ := s.Stage("a.png", strings.NewReader("x"))

	if err := s.Discard(p); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Error("expected staged file to be removed")
	}
	if err := s.Discard(p); err != nil {
		t.Errorf("discarding twice should be a no-op, got %v", err)
	}

	outside := filepath.Join(t.TempDir(), "keep.txt")
	_ = os.WriteFile(outside, []byte("x"), 0o600)
	if err := s.Discard(outside); err == nil {
		t.Error("expected refusal for a path outside the staging root")
	}
}
