package gateway

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fpt/nexus-guard/internal/ingest"
	"github.com/fpt/nexus-guard/internal/metrics"
	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

type fakeMailbox struct {
	mu        sync.Mutex
	unseen    []uint32
	mails     map[uint32]string
	broken    map[uint32]error
	searchErr error
	fetchErr  error
	fetched   [][]uint32
	logouts   int
}

func (f *fakeMailbox) dial(context.Context) (MailboxSession, error) { return f, nil }

func (f *fakeMailbox) SearchUnseen() ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.unseen...), f.searchErr
}

func (f *fakeMailbox) Fetch(uids []uint32) ([]RawMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, uids)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []RawMail
	for _, uid := range uids {
		if err, ok := f.broken[uid]; ok {
			out = append(out, RawMail{UID: uid, Err: err})
			continue
		}
		if body, ok := f.mails[uid]; ok {
			out = append(out, RawMail{UID: uid, Body: []byte(body)})
		}
	}
	return out, nil
}

func (f *fakeMailbox) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func rfc822(s string) string {
	return strings.ReplaceAll(strings.TrimLeft(s, "\n"), "\n", "\r\n")
}

var plainMail = rfc822(`
From: Bank Support <support@bank.example>
To: me@example.com
Subject: Verify your account
Content-Type: text/plain; charset=utf-8

Click here to keep your account active.
`)

func audioMail() string {
	payload := base64.StdEncoding.EncodeToString([]byte("RIFF fake wav bytes"))
	return rfc822(`
From: Voice Bot <voice@example.com>
To: me@example.com
Subject: Voicemail
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=XYZ

--XYZ
Content-Type: text/plain

see attached
--XYZ
Content-Type: audio/wav
Content-Disposition: attachment; filename="message.wav"
Content-Transfer-Encoding: base64

` + payload + `
--XYZ
Content-Type: application/pdf
Content-Disposition: attachment; filename="invoice.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--XYZ--
`)
}

func newTestMailbox(t *testing.T, mb *fakeMailbox, cfg EmailConfig) (*MailboxAdapter, *store.Store, *ingest.Stager) {
	t.Helper()
	st := store.New()
	stager, err := ingest.NewStager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewMailboxAdapter(mb.dial, cfg, st, stager, pkgLogger.NewDiscardLogger()), st, stager
}

func TestMailboxIngestsEachUIDOnce(t *testing.T) {
	mb := &fakeMailbox{unseen: []uint32{42}, mails: map[uint32]string{42: plainMail}}
	a, st, _ := newTestMailbox(t, mb, EmailConfig{})

	for i := 0; i < 2; i++ {
		if err := a.poll(context.Background()); err != nil {
			t.Fatalf("poll %d failed: %v", i, err)
		}
	}

	if st.Len() != 1 {
		t.Fatalf("expected exactly one message, got %d", st.Len())
	}
	if len(mb.fetched) != 1 {
		t.Errorf("expected one fetch, got %v", mb.fetched)
	}
	if mb.logouts != 2 {
		t.Errorf("expected a logout per poll, got %d", mb.logouts)
	}

	m, _ := st.Get(1)
	if m.Source != store.SourceMailbox || m.Kind != store.KindEmail {
		t.Errorf("unexpected message %+v", m)
	}
	if m.SenderName != "Bank Support" || m.SenderAddress != "support@bank.example" {
		t.Errorf("unexpected sender %q <%s>", m.SenderName, m.SenderAddress)
	}
	if !strings.HasPrefix(m.Content, "Subject: Verify your account\n\nBody: Click here") {
		t.Errorf("unexpected content %q", m.Content)
	}
}

func TestMailboxAttachmentsOnly(t *testing.T) {
	mb := &fakeMailbox{unseen: []uint32{7}, mails: map[uint32]string{7: audioMail()}}
	a, st, stager := newTestMailbox(t, mb, EmailConfig{})

	if err := a.poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if st.Len() != 1 {
		t.Fatalf("expected only the audio attachment, got %d messages", st.Len())
	}
	m, _ := st.Get(1)
	if m.Kind != store.KindAudio || m.SenderAddress != "voice@example.com" {
		t.Errorf("unexpected message %+v", m)
	}
	if !strings.HasPrefix(m.PayloadRef, stager.Root()) {
		t.Errorf("payload %q not under staging root", m.PayloadRef)
	}
	if data, err := os.ReadFile(m.PayloadRef); err != nil || string(data) != "RIFF fake wav bytes" {
		t.Errorf("staged payload mismatch: %q %v", data, err)
	}
	if !a.ledger.Seen(7) {
		t.Error("UID must be marked after processing")
	}
}

func TestMailboxMarksUIDsWithoutMessages(t *testing.T) {
	pdfOnly := rfc822(`
From: a@example.com
Subject: invoice
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=B

--B
Content-Type: application/pdf
Content-Disposition: attachment; filename="invoice.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--B--
`)
	mb := &fakeMailbox{unseen: []uint32{1, 2}, mails: map[uint32]string{1: pdfOnly}}
	a, st, _ := newTestMailbox(t, mb, EmailConfig{})

	if err := a.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st.Len() != 0 {
		t.Errorf("expected no messages, got %d", st.Len())
	}
	if !a.ledger.Seen(1) || !a.ledger.Seen(2) {
		t.Error("every fetched UID must be marked, including ones yielding nothing")
	}
}

func TestMailboxFetchFailureRetries(t *testing.T) {
	mb := &fakeMailbox{unseen: []uint32{9}, mails: map[uint32]string{9: plainMail}, fetchErr: errors.New("connection reset")}
	a, st, _ := newTestMailbox(t, mb, EmailConfig{})

	if err := a.poll(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if a.ledger.Seen(9) {
		t.Fatal("UID must not be marked when the fetch failed")
	}

	mb.fetchErr = nil
	if err := a.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st.Len() != 1 {
		t.Errorf("expected message on retry, got %d", st.Len())
	}
}

func TestMailboxStartGivesUpAfterMaxFailures(t *testing.T) {
	dialErr := errors.New("login failed")
	attempts := 0
	st := store.New()
	stager, _ := ingest.NewStager(t.TempDir(), nil)
	a := NewMailboxAdapter(func(context.Context) (MailboxSession, error) {
		attempts++
		return nil, dialErr
	}, EmailConfig{PollInterval: "1ms", MaxPollFailures: 3}, st, stager, pkgLogger.NewDiscardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.Start(ctx)
	if !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestMailboxStartStopsOnCancel(t *testing.T) {
	mb := &fakeMailbox{searchErr: errors.New("server busy")}
	a, _, _ := newTestMailbox(t, mb, EmailConfig{PollInterval: "1ms"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unlimited retries should end cleanly on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func skippedCount(reason string) float64 {
	return testutil.ToFloat64(metrics.IngestSkipped.WithLabelValues(store.SourceMailbox.String(), reason))
}

func TestMailboxCountsSkippedUnits(t *testing.T) {
	emptyAttachment := rfc822(`
From: a@example.com
Subject: invoice
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=B

--B
Content-Type: text/plain

please open the attached file
--B
Content-Type: image/png
Content-Disposition: attachment; filename="x.png"
Content-Transfer-Encoding: base64


--B--
`)
	mb := &fakeMailbox{
		unseen: []uint32{1, 2, 3},
		mails:  map[uint32]string{1: emptyAttachment},
		broken: map[uint32]error{2: errors.New("no body section in response")},
	}
	a, st, _ := newTestMailbox(t, mb, EmailConfig{})

	tests := []struct {
		reason string
		want   float64
	}{
		{"empty", 1},
		{"fetch_failed", 1},
		{"not_returned", 1},
	}
	before := make(map[string]float64, len(tests))
	for _, tt := range tests {
		before[tt.reason] = skippedCount(tt.reason)
	}

	if err := a.poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if st.Len() != 0 {
		t.Errorf("expected no messages, got %d", st.Len())
	}
	for _, tt := range tests {
		if got := skippedCount(tt.reason) - before[tt.reason]; got != tt.want {
			t.Errorf("skipped[%s] = %v, want %v", tt.reason, got, tt.want)
		}
	}
	for _, uid := range []uint32{1, 2, 3} {
		if !a.ledger.Seen(uid) {
			t.Errorf("UID %d must be marked once it was answered or reported", uid)
		}
	}
}
