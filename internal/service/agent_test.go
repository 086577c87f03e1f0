package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/agent"
	"github.com/Strob0t/supportdesk/internal/domain/user"
)

func TestAgentService_CreateAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := &user.Claims{Role: user.RoleOwner, TenantID: testTenant}

	a, err := f.agents.Create(ctx, owner, agent.CreateRequest{Username: "Alice", Password: testPassword, DisplayName: "Alice A."})
	if err != nil {
		t.Fatal(err)
	}
	if a.Username != "alice" || a.Status != agent.StatusOffline || !a.IsActive || a.PasswordHash == testPassword {
		t.Errorf("created = %+v", a)
	}

	tests := []struct {
		name    string
		req     agent.LoginRequest
		wantErr error
	}{
		{"ok", agent.LoginRequest{TenantID: testTenant, Username: "ALICE", Password: testPassword}, nil},
		{"wrong password", agent.LoginRequest{TenantID: testTenant, Username: "alice", Password: "nope-nope"}, domain.ErrForbidden},
		{"unknown user", agent.LoginRequest{TenantID: testTenant, Username: "bob", Password: testPassword}, domain.ErrForbidden},
		{"unknown tenant", agent.LoginRequest{TenantID: "initech", Username: "alice", Password: testPassword}, domain.ErrForbidden},
		{"other tenant", agent.LoginRequest{TenantID: otherTenant, Username: "alice", Password: testPassword}, domain.ErrForbidden},
		{"missing fields", agent.LoginRequest{TenantID: testTenant}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.agents.Login(ctx, tt.req)
			if tt.wantErr == nil {
				if err != nil || got.ID != a.ID {
					t.Fatalf("Login() = %v, %v", got, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAgentService_CreateRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := &user.Claims{Role: user.RoleOwner, TenantID: testTenant}
	agentClaims := &user.Claims{Role: user.RoleAgent, TenantID: testTenant, AgentID: "x"}

	if _, err := f.agents.Create(ctx, agentClaims, agent.CreateRequest{Username: "eve", Password: testPassword}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("agent create err = %v, want forbidden", err)
	}
	if _, err := f.agents.Create(ctx, owner, agent.CreateRequest{Username: "ev", Password: "short"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("invalid create err = %v, want validation", err)
	}
	if _, err := f.agents.Create(ctx, owner, agent.CreateRequest{Username: "eve", Password: testPassword}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.agents.Create(ctx, owner, agent.CreateRequest{Username: "eve", Password: testPassword}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate create err = %v, want conflict", err)
	}
}

func TestAgentService_Status(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.newAgent(t, testTenant, "alice")

	if got := f.agentStatus(t, alice); got != agent.StatusAvailable {
		t.Fatalf("status = %q, want available", got)
	}
	if _, err := f.agents.SetStatus(ctx, alice, agent.StatusRequest{Status: agent.StatusBusy}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("setting busy err = %v, want validation", err)
	}

	owner := &user.Claims{Role: user.RoleOwner, TenantID: testTenant}
	off := false
	a, err := f.agents.SetActive(ctx, owner, alice.AgentID, agent.ActiveRequest{Active: &off})
	if err != nil {
		t.Fatal(err)
	}
	if a.IsActive || a.Status != agent.StatusOffline {
		t.Errorf("deactivated = %+v", a)
	}
	if _, err := f.agents.SetStatus(ctx, alice, agent.StatusRequest{Status: agent.StatusAvailable}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("deactivated set status err = %v, want forbidden", err)
	}
	if _, err := f.agents.Login(ctx, agent.LoginRequest{TenantID: testTenant, Username: "alice", Password: testPassword}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("deactivated login err = %v, want forbidden", err)
	}
}

func TestAgentService_Seed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeds := []config.SeedAgent{
		{TenantID: testTenant, Username: "alice", Password: testPassword},
		{TenantID: otherTenant, Username: "bob", Password: testPassword},
	}
	if err := f.agents.Seed(ctx, seeds); err != nil {
		t.Fatal(err)
	}
	if err := f.agents.Seed(ctx, seeds); err != nil {
		t.Fatalf("second seed should skip existing agents: %v", err)
	}
	list, err := f.agents.List(ctx, &user.Claims{Role: user.RoleOwner, TenantID: testTenant})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Username != "alice" {
		t.Errorf("agents = %+v", list)
	}

	err = f.agents.Seed(ctx, []config.SeedAgent{{TenantID: testTenant, Username: "x", Password: "short"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("invalid seed err = %v, want validation", err)
	}
}
