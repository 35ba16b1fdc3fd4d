package gateway

import (
	"context"
	"io"

	"github.com/fpt/nexus-guard/internal/ingest"
	"github.com/fpt/nexus-guard/internal/metrics"
	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

// inbox is the append side shared by the adapters: it stages payloads,
// builds Pending messages and keeps the ingest metrics.
type inbox struct {
	source store.Source
	store  *store.Store
	stager *ingest.Stager
	logger *pkgLogger.Logger
}

func newInbox(source store.Source, st *store.Store, stager *ingest.Stager, logger *pkgLogger.Logger) *inbox {
	return &inbox{source: source, store: st, stager: stager, logger: logger}
}

func (in *inbox) appendMessage(m store.Message) uint64 {
	m.Source = in.source
	id := in.store.Append(m)
	metrics.MessagesIngested.WithLabelValues(in.source.String(), m.Kind.String()).Inc()
	in.logger.InfoWithIntention(pkgLogger.IntentionIngest, "Message queued",
		"message_id", id, "kind", m.Kind, "sender", m.SenderName)
	return id
}

func (in *inbox) text(sender, content string) uint64 {
	return in.appendMessage(store.Message{
		SenderName: sender,
		Kind:       store.KindText,
		Content:    content,
	})
}

// mediaFromURL downloads url into the staging root and appends the message.
func (in *inbox) mediaFromURL(ctx context.Context, kind store.Kind, sender, address, filename, url string) (uint64, error) {
	ref, err := in.stager.StageURL(ctx, url, filename)
	if err != nil {
		in.skip("stage_failed", "filename", filename, "error", err)
		return 0, err
	}
	return in.media(kind, sender, address, filename, ref), nil
}

// mediaFromReader stages r and appends the message.
func (in *inbox) mediaFromReader(kind store.Kind, sender, address, filename string, r io.Reader) (uint64, error) {
	ref, err := in.stager.Stage(filename, r)
	if err != nil {
		in.skip("stage_failed", "filename", filename, "error", err)
		return 0, err
	}
	return in.media(kind, sender, address, filename, ref), nil
}

func (in *inbox) media(kind store.Kind, sender, address, filename, ref string) uint64 {
	return in.appendMessage(store.Message{
		SenderName:    sender,
		SenderAddress: address,
		Kind:          kind,
		Content:       ingest.Caption(kind, filename, sender),
		PayloadRef:    ref,
	})
}

func (in *inbox) skip(reason string, args ...any) {
	metrics.IngestSkipped.WithLabelValues(in.source.String(), reason).Inc()
	in.logger.Warn("Skipping inbound unit", append([]any{"reason", reason}, args...)...)
}
