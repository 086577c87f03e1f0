package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Strob0t/supportdesk/internal/domain/conversation"
)

const sweepTimeout = time.Minute

// Sweeper periodically closes conversations nobody touched for longer than
// the idle timeout, in every tenant with an open store.
type Sweeper struct {
	tenants *TenantResolver
	handoff *HandoffService
	idle    time.Duration
	now     func() time.Time
	cron    *cron.Cron
}

// NewSweeper creates a new Sweeper.
func NewSweeper(tenants *TenantResolver, handoff *HandoffService, idle time.Duration) *Sweeper {
	return &Sweeper{
		tenants: tenants,
		handoff: handoff,
		idle:    idle,
		now:     time.Now,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Start schedules Sweep with a standard cron spec or descriptor such as
// "@every 5m".
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	slog.Info("idle sweeper started", "schedule", schedule, "idle_timeout", s.idle)
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if n := s.Sweep(ctx); n > 0 {
		slog.Info("idle conversations closed", "count", n)
	}
}

// Sweep ends idle open conversations and returns how many it closed. The
// close is guarded on idleness again, so a turn that lands after the listing
// keeps its conversation open. Failures are logged per tenant and do not stop
// the sweep.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.idle).UTC()
	end := conversation.End.IfIdleBefore(cutoff)
	closed := 0
	for _, tenantID := range s.tenants.OpenTenants() {
		h, err := s.tenants.Store(ctx, tenantID)
		if err != nil {
			slog.Error("sweep open tenant store", "tenant_id", tenantID, "error", err)
			continue
		}
		idle, err := h.Conversations.List(ctx, conversation.ListFilter{
			Statuses:   []conversation.Status{conversation.StatusBot, conversation.StatusQueued, conversation.StatusAssigned},
			IdleBefore: cutoff,
		})
		if err != nil {
			slog.Error("sweep list idle conversations", "tenant_id", tenantID, "error", err)
			continue
		}
		for i := range idle {
			res, err := s.handoff.end(ctx, h, &idle[i], end)
			if err != nil {
				slog.Error("sweep end conversation", "tenant_id", tenantID, "conversation_id", idle[i].ID, "error", err)
				continue
			}
			if res.Changed {
				closed++
			}
		}
	}
	return closed
}
