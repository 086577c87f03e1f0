// Package user defines the authenticated principal carried by a session claim.
package user

import (
	"fmt"

	"github.com/Strob0t/supportdesk/internal/domain"
)

// Role represents what a session may do within its tenant.
type Role string

const (
	// RoleOwner is a tenant owner or supervisor: read-only view of all
	// conversations, manages agent accounts.
	RoleOwner Role = "tenant-owner"
	// RoleAgent is a support agent who accepts and answers conversations.
	RoleAgent Role = "agent"
)

// ValidRoles is the set of all valid roles.
var ValidRoles = map[Role]bool{
	RoleOwner: true,
	RoleAgent: true,
}

// Claims is the trusted content of a verified session token.
type Claims struct {
	Subject  string `json:"sub"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id,omitempty"`
}

// Validate checks the claim set is complete for its role.
func (c *Claims) Validate() error {
	if !ValidRoles[c.Role] {
		return fmt.Errorf("%w: invalid role %q", domain.ErrForbidden, c.Role)
	}
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant_id claim is required", domain.ErrForbidden)
	}
	if c.Role == RoleAgent && c.AgentID == "" {
		return fmt.Errorf("%w: agent_id claim is required for agents", domain.ErrForbidden)
	}
	return nil
}

// IsAgent reports whether the claims belong to an agent.
func (c *Claims) IsAgent() bool { return c.Role == RoleAgent }

// CheckTenant rejects claims that do not match tenantID.
func (c *Claims) CheckTenant(tenantID string) error {
	if c.TenantID != tenantID {
		return fmt.Errorf("%w: claims for tenant %s do not cover tenant %s", domain.ErrForbidden, c.TenantID, tenantID)
	}
	return nil
}
