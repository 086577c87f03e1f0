package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/tenant"
	"github.com/Strob0t/supportdesk/internal/port/controlplane"
	"github.com/Strob0t/supportdesk/internal/port/messagequeue"
	"github.com/Strob0t/supportdesk/internal/validation"
)

// LeadService hands visitor contact details to the batch email worker.
type LeadService struct {
	dir      controlplane.Directory
	queue    messagequeue.Queue
	validate *validation.Validator
}

// NewLeadService creates a new LeadService. A nil queue makes Capture fail
// with domain.ErrUnavailable.
func NewLeadService(dir controlplane.Directory, queue messagequeue.Queue, v *validation.Validator) *LeadService {
	return &LeadService{dir: dir, queue: queue, validate: v}
}

// Capture validates a lead left through botID's widget and publishes it.
func (s *LeadService) Capture(ctx context.Context, botID string, lead tenant.Lead) (*tenant.Lead, error) {
	if err := s.validate.Struct(lead); err != nil {
		return nil, err
	}
	bot, err := s.dir.Assistant(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("resolve assistant %s: %w", botID, err)
	}
	if s.queue == nil {
		return nil, fmt.Errorf("%w: lead delivery is not configured", domain.ErrUnavailable)
	}

	lead.TenantID = bot.TenantID
	lead.BotID = bot.ID
	lead.CapturedAt = time.Now().UTC()
	data, err := json.Marshal(messagequeue.LeadCapturedPayload{
		TenantID:   lead.TenantID,
		BotID:      lead.BotID,
		SessionID:  lead.SessionID,
		Name:       lead.Name,
		Email:      lead.Email,
		Message:    lead.Message,
		CapturedAt: lead.CapturedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal lead: %w", err)
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectLeadCaptured, data); err != nil {
		return nil, fmt.Errorf("%w: publish lead: %w", domain.ErrUnavailable, err)
	}
	slog.Info("lead captured", "tenant_id", lead.TenantID, "bot_id", lead.BotID)
	return &lead, nil
}
