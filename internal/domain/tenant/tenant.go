// Package tenant defines the control-plane records: tenants and their assistants.
package tenant

import "time"

// Tenant is an isolated customer organization with a private data store.
type Tenant struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	StorageAddress string    `json:"-"` // opaque; never sent to clients
	CreatedAt      time.Time `json:"created_at"`
}

// Assistant is an automated support persona of a tenant, backed by a knowledge base.
type Assistant struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Name             string     `json:"name"`
	KnowledgeRef     string     `json:"knowledge_ref"`
	SourceURLs       []string   `json:"source_urls,omitempty"`
	KnowledgeReady   bool       `json:"knowledge_ready"`
	KnowledgeReadyAt *time.Time `json:"knowledge_ready_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Lead is contact information left by a visitor for follow-up by email.
type Lead struct {
	TenantID   string    `json:"tenant_id"`
	BotID      string    `json:"bot_id"`
	SessionID  string    `json:"session_id" validate:"required,max=128"`
	Name       string    `json:"name" validate:"max=128"`
	Email      string    `json:"email" validate:"required,email,max=254"`
	Message    string    `json:"message,omitempty" validate:"max=2000"`
	CapturedAt time.Time `json:"captured_at"`
}
