package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/user"
	"github.com/Strob0t/supportdesk/internal/validation"
)

// errInvalidCredentials is returned for every failed login, so callers
// cannot tell unknown usernames from wrong passwords.
var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrForbidden)

// AgentService manages agent accounts and availability.
type AgentService struct {
	tenants    *TenantResolver
	validate   *validation.Validator
	bcryptCost int
}

// NewAgentService creates a new AgentService.
func NewAgentService(tenants *TenantResolver, v *validation.Validator) *AgentService {
	return &AgentService{tenants: tenants, validate: v, bcryptCost: bcrypt.DefaultCost}
}

// Create adds an agent account to the owner's tenant.
func (s *AgentService) Create(ctx context.Context, claims *user.Claims, req agent.CreateRequest) (*agent.Agent, error) {
	if claims == nil || claims.Role != user.RoleOwner {
		return nil, fmt.Errorf("%w: only tenant owners manage agents", domain.ErrForbidden)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	return s.create(ctx, claims.TenantID, req)
}

func (s *AgentService) create(ctx context.Context, tenantID string, req agent.CreateRequest) (*agent.Agent, error) {
	h, err := s.tenants.Store(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := &agent.Agent{
		Username:     strings.ToLower(req.Username),
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Status:       agent.StatusOffline,
		IsActive:     true,
	}
	if err := h.Agents.Create(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("agent created", "tenant_id", tenantID, "agent_id", a.ID, "username", a.Username)
	return a, nil
}

// List returns the agents of the caller's tenant.
func (s *AgentService) List(ctx context.Context, claims *user.Claims) ([]agent.Agent, error) {
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	return h.Agents.List(ctx)
}

// Me returns the calling agent's record.
func (s *AgentService) Me(ctx context.Context, claims *user.Claims) (*agent.Agent, error) {
	if !claims.IsAgent() {
		return nil, fmt.Errorf("%w: not an agent session", domain.ErrForbidden)
	}
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	return h.Agents.Get(ctx, claims.AgentID)
}

// SetStatus lets an agent go available or offline. Busy is only entered by
// accepting a conversation.
func (s *AgentService) SetStatus(ctx context.Context, claims *user.Claims, req agent.StatusRequest) (*agent.Agent, error) {
	if !claims.IsAgent() {
		return nil, fmt.Errorf("%w: not an agent session", domain.ErrForbidden)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveAgent(ctx, h, claims.AgentID); err != nil {
		return nil, err
	}
	if err := h.Agents.SetStatus(ctx, claims.AgentID, req.Status); err != nil {
		return nil, err
	}
	slog.Info("agent status changed", "tenant_id", claims.TenantID, "agent_id", claims.AgentID, "status", req.Status)
	return h.Agents.Get(ctx, claims.AgentID)
}

// SetActive enables or disables an agent account of the owner's tenant.
// A disabled agent is also taken offline.
func (s *AgentService) SetActive(ctx context.Context, claims *user.Claims, agentID string, req agent.ActiveRequest) (*agent.Agent, error) {
	if claims == nil || claims.Role != user.RoleOwner {
		return nil, fmt.Errorf("%w: only tenant owners manage agents", domain.ErrForbidden)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	h, err := s.tenants.Store(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if err := h.Agents.SetActive(ctx, agentID, *req.Active); err != nil {
		return nil, err
	}
	if !*req.Active {
		if err := h.Agents.SetStatus(ctx, agentID, agent.StatusOffline); err != nil {
			return nil, err
		}
	}
	return h.Agents.Get(ctx, agentID)
}

// Login verifies agent credentials. Token issuance happens elsewhere.
func (s *AgentService) Login(ctx context.Context, req agent.LoginRequest) (*agent.Agent, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	h, err := s.tenants.Store(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	a, err := h.Agents.GetByUsername(ctx, strings.ToLower(req.Username))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errInvalidCredentials
	}
	if !a.IsActive {
		return nil, fmt.Errorf("%w: agent account is deactivated", domain.ErrForbidden)
	}
	return a, nil
}

// Seed creates the configured agent accounts that do not exist yet.
func (s *AgentService) Seed(ctx context.Context, seeds []config.SeedAgent) error {
	for _, sa := range seeds {
		h, err := s.tenants.Store(ctx, sa.TenantID)
		if err != nil {
			return fmt.Errorf("seed agent %s: %w", sa.Username, err)
		}
		if _, err := h.Agents.GetByUsername(ctx, strings.ToLower(sa.Username)); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("seed agent %s: %w", sa.Username, err)
		}
		req := agent.CreateRequest{Username: sa.Username, Password: sa.Password, DisplayName: sa.DisplayName}
		if err := s.validate.Struct(req); err != nil {
			return fmt.Errorf("seed agent %s: %w", sa.Username, err)
		}
		if _, err := s.create(ctx, sa.TenantID, req); err != nil {
			return fmt.Errorf("seed agent %s: %w", sa.Username, err)
		}
	}
	return nil
}
