package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/port/controlplane"
	"github.com/Strob0t/supportdesk/internal/port/messagequeue"
)

// KnowledgeService consumes the crawl orchestrator's readiness signals.
type KnowledgeService struct {
	dir   controlplane.Directory
	queue messagequeue.Queue
}

// NewKnowledgeService creates a new KnowledgeService. dir should be the
// cached directory so readiness changes invalidate cached assistants.
func NewKnowledgeService(dir controlplane.Directory, queue messagequeue.Queue) *KnowledgeService {
	return &KnowledgeService{dir: dir, queue: queue}
}

// Start subscribes to kb.ready. The returned function cancels the subscription.
func (s *KnowledgeService) Start(ctx context.Context) (func(), error) {
	cancel, err := s.queue.Subscribe(ctx, messagequeue.SubjectKnowledgeReady, s.HandleReady)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectKnowledgeReady, err)
	}
	return cancel, nil
}

// HandleReady records one readiness signal. Signals for unknown assistants
// are dropped rather than redelivered.
func (s *KnowledgeService) HandleReady(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.KnowledgeReadyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal kb.ready: %w", err)
	}
	at := p.ReadyAt
	if at.IsZero() {
		at = time.Now()
	}
	err := s.dir.MarkKnowledgeReady(ctx, p.BotID, p.Ready, at.UTC())
	if errors.Is(err, domain.ErrNotFound) {
		slog.Warn("kb.ready for unknown assistant", "bot_id", p.BotID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark knowledge ready %s: %w", p.BotID, err)
	}
	slog.Info("knowledge base readiness updated", "bot_id", p.BotID, "ready", p.Ready)
	return nil
}
