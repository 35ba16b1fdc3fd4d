package alert

import (
	"context"

	"github.com/gen2brain/beeep"
)

// DesktopSink shows a local OS notification. It is fire-and-forget: Send
// returns when the notification call returns or the context ends, whichever
// comes first.
type DesktopSink struct {
	enabled bool
	notify  func(title, body string) error
}

// NewDesktopSink creates the sink; enabled=false makes it a silent no-op.
func NewDesktopSink(enabled bool) *DesktopSink {
	return &DesktopSink{
		enabled: enabled,
		notify: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
	}
}

func (s *DesktopSink) Name() string  { return "desktop" }
func (s *DesktopSink) Enabled() bool { return s.enabled }

func (s *DesktopSink) Send(ctx context.Context, a Alert) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.notify(DesktopTitle, DesktopBody(a)) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
