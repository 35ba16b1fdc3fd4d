package classifier

import (
	"context"
	"fmt"

	"github.com/fpt/nexus-guard/internal/store"
)

// Classifier turns a message into a verdict. Implementations never mutate
// the message or the store.
type Classifier interface {
	Classify(ctx context.Context, msg store.Message) (Result, error)
}

// Result is the normalized classification outcome.
type Result struct {
	Malicious  bool
	Confidence *float64
	// Spoof is set only for audio and video when the backend reported it.
	Spoof *Spoof
}

// Spoof is the authenticity outcome for audio and video payloads.
type Spoof struct {
	Spoofed    bool
	Confidence *float64
}

// StoreResult converts the result into the store's write-once fields.
func (r Result) StoreResult() store.Result {
	out := store.Result{Verdict: store.VerdictSafe, Confidence: r.Confidence}
	if r.Malicious {
		out.Verdict = store.VerdictMalicious
	}
	if r.Spoof != nil {
		out.SpoofVerdict = store.SpoofAuthentic
		if r.Spoof.Spoofed {
			out.SpoofVerdict = store.SpoofSpoofed
		}
		out.SpoofConfidence = r.Spoof.Confidence
	}
	return out
}

// ErrorKind groups classification failures.
type ErrorKind string

const (
	ErrTransport   ErrorKind = "transport"
	ErrStatus      ErrorKind = "status"
	ErrDecode      ErrorKind = "decode"
	ErrPayload     ErrorKind = "payload"
	ErrUnsupported ErrorKind = "unsupported"
)

// Error is the single failure type surfaced by classifiers.
type Error struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("classify %s", e.Kind)
	if e.Endpoint != "" {
		msg += " " + e.Endpoint
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
