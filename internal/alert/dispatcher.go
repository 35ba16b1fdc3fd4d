package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/nexus-guard/internal/metrics"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

// Sink delivers an alert to one outbound channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Enabler is implemented by sinks that can be left unconfigured. A disabled
// sink is skipped silently rather than reported as a failure.
type Enabler interface {
	Enabled() bool
}

// Status is the outcome of one sink delivery.
type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusTimeout Status = "timeout"
)

// Delivery is the captured result of one sink invocation.
type Delivery struct {
	Sink     string
	Status   Status
	Err      error
	Duration time.Duration
}

// Report collects every sink's delivery for one dispatch, in sink order.
type Report struct {
	Deliveries []Delivery
}

// Count returns how many deliveries ended with status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Status == s {
			n++
		}
	}
	return n
}

// DefaultSinkTimeout bounds a single sink call.
const DefaultSinkTimeout = 15 * time.Second

// abandonGrace is how long the collector waits past the sink timeout for
// sinks that ignore their context.
const abandonGrace = 250 * time.Millisecond

// Dispatcher fans an alert out to all sinks concurrently.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *pkgLogger.Logger
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultSinkTimeout.
func NewDispatcher(timeout time.Duration, logger *pkgLogger.Logger, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.WithComponent("alert"),
	}
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

type indexed struct {
	i int
	d Delivery
}

// Dispatch sends a to every enabled sink, each in its own goroutine with its
// own timeout. Sink calls are detached from ctx cancellation so shutdown lets
// them finish within their timeout. Dispatch never fails as a whole and
// returns no later than the sink timeout plus a short grace; sinks still
// running then are abandoned and reported as timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) Report {
	report := Report{Deliveries: make([]Delivery, len(d.sinks))}
	done := make([]bool, len(d.sinks))
	results := make(chan indexed, len(d.sinks))
	sinkCtx := context.WithoutCancel(ctx)

	started := 0
	for i, s := range d.sinks {
		report.Deliveries[i] = Delivery{Sink: s.Name()}
		if e, ok := s.(Enabler); ok && !e.Enabled() {
			report.Deliveries[i].Status = StatusSkipped
			done[i] = true
			continue
		}
		started++
		go func(i int, s Sink) {
			cctx, cancel := context.WithTimeout(sinkCtx, d.timeout)
			defer cancel()

			start := time.Now()
			err := safeSend(cctx, s, a)
			del := Delivery{Sink: s.Name(), Status: StatusSent, Err: err, Duration: time.Since(start)}
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded) || cctx.Err() != nil:
				del.Status = StatusTimeout
			default:
				del.Status = StatusFailed
			}
			results <- indexed{i: i, d: del}
		}(i, s)
	}

	timer := time.NewTimer(d.timeout + abandonGrace)
	defer timer.Stop()

collect:
	for received := 0; received < started; {
		select {
		case r := <-results:
			report.Deliveries[r.i] = r.d
			done[r.i] = true
			received++
		case <-timer.C:
			for i := range done {
				if !done[i] {
					report.Deliveries[i].Status = StatusTimeout
					report.Deliveries[i].Err = errors.Errorf("sink abandoned after %s", d.timeout)
					report.Deliveries[i].Duration = d.timeout + abandonGrace
				}
			}
			break collect
		}
	}

	d.record(a, report)
	return report
}

func (d *Dispatcher) record(a Alert, r Report) {
	for _, del := range r.Deliveries {
		metrics.AlertDeliveries.WithLabelValues(del.Sink, string(del.Status)).Inc()
		switch del.Status {
		case StatusSent:
			d.logger.DebugWithIntention(pkgLogger.IntentionAlert, "Alert delivered", "sink", del.Sink, "message_id", a.MessageID, "duration", del.Duration)
		case StatusSkipped:
			d.logger.Debug("Alert sink not configured", "sink", del.Sink)
		default:
			d.logger.Warn("Alert delivery failed", "sink", del.Sink, "status", del.Status, "message_id", a.MessageID, "error", del.Err)
		}
	}
	d.logger.InfoWithIntention(pkgLogger.IntentionAlert, "Alert dispatched",
		"message_id", a.MessageID, "source", a.Source,
		"sent", r.Count(StatusSent), "failed", r.Count(StatusFailed)+r.Count(StatusTimeout), "skipped", r.Count(StatusSkipped))
}

// safeSend converts a panicking sink into an error for that sink only.
func safeSend(ctx context.Context, s Sink, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Send(ctx, a)
}
