package messagequeue

import "time"

// KnowledgeReadyPayload is the schema for kb.ready messages.
type KnowledgeReadyPayload struct {
	BotID   string    `json:"bot_id"`
	Ready   bool      `json:"ready"`
	ReadyAt time.Time `json:"ready_at"`
}

// LeadCapturedPayload is the schema for leads.captured messages.
type LeadCapturedPayload struct {
	TenantID   string    `json:"tenant_id"`
	BotID      string    `json:"bot_id"`
	SessionID  string    `json:"session_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Message    string    `json:"message,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}
