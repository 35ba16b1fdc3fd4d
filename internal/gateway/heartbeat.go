package gateway

import (
	"context"
	"time"

	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

// Heartbeat periodically logs pipeline counters.
type Heartbeat struct {
	config HeartbeatConfig
	store  *store.Store
	logger *pkgLogger.Logger
}

// NewHeartbeat creates a heartbeat service.
func NewHeartbeat(cfg HeartbeatConfig, st *store.Store, logger *pkgLogger.Logger) *Heartbeat {
	return &Heartbeat{
		config: cfg,
		store:  st,
		logger: logger.WithComponent("heartbeat"),
	}
}

// Start runs the heartbeat ticker loop. Blocks until ctx is cancelled.
func (h *Heartbeat) Start(ctx context.Context) {
	if !h.config.Enabled {
		return
	}

	interval := duration(h.config.Interval, time.Minute)
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	h.logger.Info("Heartbeat started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *Heartbeat) beat() store.Stats {
	st := h.store.Stats()
	h.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Pipeline status",
		"total", st.Total, "pending", st.Pending, "processing", st.Processing,
		"safe", st.Safe, "malicious", st.Malicious, "spoofed", st.Spoofed)
	return st
}
