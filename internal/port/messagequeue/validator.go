package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectKnowledgeReady:
		var p KnowledgeReadyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.BotID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("bot_id is required"))
		}
	case SubjectLeadCaptured:
		var p LeadCapturedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.TenantID == "" || p.Email == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("tenant_id and email are required"))
		}
	}
	return nil
}
