package triage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fpt/nexus-guard/internal/alert"
	"github.com/fpt/nexus-guard/internal/classifier"
	"github.com/fpt/nexus-guard/internal/metrics"
	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

const (
	DefaultInterval        = 2 * time.Second
	DefaultClassifyTimeout = 30 * time.Second
)

// Retention decides what happens to a staged payload once its message is completed.
type Retention string

const (
	RetainKeep   Retention = "keep"
	RetainDelete Retention = "delete"
)

// Notifier delivers alerts for malicious messages.
type Notifier interface {
	Dispatch(ctx context.Context, a alert.Alert) alert.Report
}

// PayloadDiscarder removes staged payload files.
type PayloadDiscarder interface {
	Discard(ref string) error
}

// Options tunes the scheduler. Zero values fall back to defaults.
type Options struct {
	Interval        time.Duration
	Workers         int
	ClassifyTimeout time.Duration
	// FailClosed completes unclassifiable messages as malicious instead of safe.
	FailClosed bool
	Retention  Retention
	Payloads   PayloadDiscarder
}

// SweepReport summarizes one pass over the pending messages.
type SweepReport struct {
	Scanned   int
	Completed int
	Malicious int
	Failed    int
	Alerted   int
	Duration  time.Duration
}

// Scheduler drives Pending messages through classification.
type Scheduler struct {
	store      *store.Store
	classifier classifier.Classifier
	notifier   Notifier
	opts       Options
	logger     *pkgLogger.Logger
	now        func() time.Time

	sweepMu sync.Mutex
}

// New creates a scheduler.
func New(st *store.Store, c classifier.Classifier, n Notifier, opts Options, logger *pkgLogger.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = DefaultClassifyTimeout
	}
	if opts.Retention == "" {
		opts.Retention = RetainKeep
	}
	return &Scheduler{
		store:      st,
		classifier: c,
		notifier:   n,
		opts:       opts,
		logger:     logger.WithComponent("triage"),
		now:        time.Now,
	}
}

// Run sweeps, then sleeps for the interval, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.InfoWithIntention(pkgLogger.IntentionTriage, "Triage scheduler started",
		"interval", s.opts.Interval, "workers", s.opts.Workers, "fail_closed", s.opts.FailClosed)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Triage scheduler stopped")
			return
		case <-timer.C:
			rep := s.Sweep(ctx)
			if rep.Scanned > 0 {
				s.logger.DebugWithIntention(pkgLogger.IntentionTriage, "Sweep finished",
					"scanned", rep.Scanned, "malicious", rep.Malicious, "failed", rep.Failed, "duration", rep.Duration)
			}
			timer.Reset(s.opts.Interval)
		}
	}
}

// Sweep processes the messages that are Pending when it starts and returns
// once all of them are done. Messages appended meanwhile wait for the next
// sweep. Concurrent calls are serialized.
func (s *Scheduler) Sweep(ctx context.Context) SweepReport {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := s.now()
	ids := s.store.PendingIDs()
	rep := SweepReport{Scanned: len(ids)}
	if len(ids) == 0 {
		return rep
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o := s.process(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if o.completed {
				rep.Completed++
			}
			if o.malicious {
				rep.Malicious++
			}
			if o.failed {
				rep.Failed++
			}
			if o.alerted {
				rep.Alerted++
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Duration = s.now().Sub(start)
	metrics.SweepDuration.Observe(rep.Duration.Seconds())
	return rep
}

type outcome struct {
	completed bool
	malicious bool
	failed    bool
	alerted   bool
}

func (s *Scheduler) process(ctx context.Context, id uint64) outcome {
	var o outcome
	log := s.logger.WithMessage(id)

	msg, err := s.store.Begin(id)
	if err != nil {
		log.Warn("Skipping message", "error", err)
		return o
	}
	kind := msg.Kind.String()

	cctx, cancel := context.WithTimeout(ctx, s.opts.ClassifyTimeout)
	started := time.Now()
	res, err := s.classifier.Classify(cctx, msg)
	cancel()
	metrics.ClassificationDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())

	var result store.Result
	if err != nil {
		o.failed = true
		metrics.ClassificationErrors.WithLabelValues(kind, errorReason(err)).Inc()
		result = store.Result{Verdict: store.VerdictSafe}
		if s.opts.FailClosed {
			result.Verdict = store.VerdictMalicious
		}
		log.Warn("Classification failed", "kind", kind, "error", err, "fallback", result.Verdict)
	} else {
		result = res.StoreResult()
	}

	done, err := s.store.Complete(id, result)
	if err != nil {
		log.Error("Failed to complete message", "error", err)
		return o
	}
	o.completed = true
	metrics.Classifications.WithLabelValues(kind, done.Verdict.String()).Inc()
	log.DebugWithIntention(pkgLogger.IntentionTriage, "Message classified",
		"kind", kind, "verdict", done.Verdict, "spoof", done.SpoofVerdict)

	switch {
	case done.Verdict == store.VerdictMalicious:
		o.malicious = true
		log.InfoWithIntention(pkgLogger.IntentionAlert, "Malicious message detected",
			"source", done.Source, "sender", done.SenderName, "kind", kind)
		if s.notifier != nil {
			s.notifier.Dispatch(ctx, alert.FromMessage(done, s.now()))
			o.alerted = true
		}
	case done.SpoofVerdict == store.SpoofSpoofed:
		metrics.SpoofedNotAlerted.Inc()
		log.Warn("Spoofed media classified safe, no alert sent",
			"source", done.Source, "sender", done.SenderName, "kind", kind)
	}

	if s.opts.Retention == RetainDelete && done.PayloadRef != "" && s.opts.Payloads != nil {
		if err := s.opts.Payloads.Discard(done.PayloadRef); err != nil {
			log.Warn("Failed to discard payload", "ref", done.PayloadRef, "error", err)
		}
	}
	return o
}

func errorReason(err error) string {
	var ce *classifier.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &ce):
		return string(ce.Kind)
	default:
		return "other"
	}
}
