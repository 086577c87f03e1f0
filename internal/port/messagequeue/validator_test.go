package messagequeue

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr bool
	}{
		{"ready ok", SubjectKnowledgeReady, `{"bot_id":"b1","ready":true,"ready_at":"2026-01-02T03:04:05Z"}`, false},
		{"ready missing bot", SubjectKnowledgeReady, `{"ready":true}`, true},
		{"ready wrong type", SubjectKnowledgeReady, `{"bot_id":"b1","ready":"yes"}`, true},
		{"lead ok", SubjectLeadCaptured, `{"tenant_id":"t1","email":"a@b.io"}`, false},
		{"lead missing email", SubjectLeadCaptured, `{"tenant_id":"t1"}`, true},
		{"invalid json", SubjectKnowledgeReady, `{`, true},
		{"unknown subject", "other.subject", `{"x":1}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
