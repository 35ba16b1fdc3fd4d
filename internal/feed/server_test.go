package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

func seed(t *testing.T, n int) *store.Store {
	t.Helper()
	st := store.New()
	for i := 0; i < n; i++ {
		st.Append(store.Message{Source: store.SourceChatBot, Kind: store.KindText, Content: "msg"})
	}
	return st
}

func getFeed(t *testing.T, h http.Handler, query string) (*httptest.ResponseRecorder, Document) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/feed"+query, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var doc Document
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
			t.Fatalf("failed to decode feed: %v", err)
		}
	}
	return rec, doc
}

func TestFeedNewestFirstWithLimit(t *testing.T) {
	st := seed(t, 20)
	s := New(st, Options{}, pkgLogger.NewDiscardLogger())

	rec, doc := getFeed(t, s.Handler(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(doc.Messages) != DefaultLimit {
		t.Fatalf("expected %d messages, got %d", DefaultLimit, len(doc.Messages))
	}
	if doc.Messages[0].ID != 20 || doc.Messages[DefaultLimit-1].ID != 6 {
		t.Errorf("expected ids 20..6, got %d..%d", doc.Messages[0].ID, doc.Messages[DefaultLimit-1].ID)
	}
	if doc.Stats.Total != 20 || doc.Stats.Pending != 20 {
		t.Errorf("unexpected stats %+v", doc.Stats)
	}
	if len(doc.ActiveChannels) != 1 || doc.ActiveChannels[0] != "telegram" {
		t.Errorf("unexpected active channels %v", doc.ActiveChannels)
	}

	_, doc = getFeed(t, s.Handler(), "?limit=5")
	if len(doc.Messages) != 5 || doc.Messages[0].ID != 20 {
		t.Errorf("limit=5 returned %d messages starting at %d", len(doc.Messages), doc.Messages[0].ID)
	}

	_, doc = getFeed(t, s.Handler(), "?limit=1000")
	if len(doc.Messages) != 20 {
		t.Errorf("expected all 20 messages under the cap, got %d", len(doc.Messages))
	}

	if rec, _ := getFeed(t, s.Handler(), "?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestFeedCachedUntilRefresh(t *testing.T) {
	st := seed(t, 1)
	s := New(st, Options{}, pkgLogger.NewDiscardLogger())

	st.Append(store.Message{Kind: store.KindText})
	if _, doc := getFeed(t, s.Handler(), ""); len(doc.Messages) != 1 {
		t.Errorf("expected cached snapshot of 1 message, got %d", len(doc.Messages))
	}

	s.Refresh()
	if _, doc := getFeed(t, s.Handler(), ""); len(doc.Messages) != 2 {
		t.Errorf("expected refreshed snapshot of 2 messages, got %d", len(doc.Messages))
	}
}

func TestFeedOmitsUnsetFields(t *testing.T) {
	st := store.New()
	pending := st.Append(store.Message{Source: store.SourceMailbox, Kind: store.KindEmail, SenderAddress: "a@example.com"})
	done := st.Append(store.Message{Source: store.SourceGuildBot, Kind: store.KindAudio})
	_, _ = st.Begin(done)
	_, _ = st.Complete(done, store.Result{
		Verdict:         store.VerdictSafe,
		Confidence:      store.Float(0.3),
		SpoofVerdict:    store.SpoofSpoofed,
		SpoofConfidence: store.Float(0.9),
	})
	s := New(st, Options{}, pkgLogger.NewDiscardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var raw struct {
		Messages []map[string]any `json:"messages"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	byID := map[float64]map[string]any{}
	for _, m := range raw.Messages {
		byID[m["id"].(float64)] = m
	}

	p := byID[float64(pending)]
	for _, key := range []string{"verdict", "confidence", "spoof_verdict", "spoof_confidence"} {
		if _, ok := p[key]; ok {
			t.Errorf("pending message should omit %s", key)
		}
	}
	if p["sender_address"] != "a@example.com" {
		t.Errorf("expected sender address, got %v", p["sender_address"])
	}

	d := byID[float64(done)]
	if d["verdict"] != "safe" || d["spoof_verdict"] != "spoofed" || d["state"] != "completed" {
		t.Errorf("unexpected completed view %v", d)
	}
	if _, ok := d["sender_address"]; ok {
		t.Error("empty sender address should be omitted")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := New(seed(t, 2), Options{}, pkgLogger.NewDiscardLogger())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "nexusguard_feed_requests_total") {
		t.Errorf("metrics endpoint missing feed counters")
	}
}

func TestWebSocketPushesOnRefresh(t *testing.T) {
	st := seed(t, 1)
	s := New(st, Options{}, pkgLogger.NewDiscardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/feed/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var doc Document
	if err := conn.ReadJSON(&doc); err != nil {
		t.Fatalf("failed to read initial document: %v", err)
	}
	if len(doc.Messages) != 1 {
		t.Fatalf("expected initial snapshot with 1 message, got %d", len(doc.Messages))
	}

	id := st.Append(store.Message{Source: store.SourceGuildBot, Kind: store.KindText, Content: "new"})
	s.Refresh()

	if err := conn.ReadJSON(&doc); err != nil {
		t.Fatalf("failed to read pushed document: %v", err)
	}
	if len(doc.Messages) != 2 || doc.Messages[0].ID != id {
		t.Errorf("expected pushed snapshot led by %d, got %+v", id, doc.Messages)
	}
}
