package queue

import (
	"time"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

// Payload is the submission record emitted when a completed session syncs.
type Payload struct {
	SessionID               string         `json:"sessionId"`
	Location                string         `json:"location"`
	FormData                model.FormData `json:"formData"`
	VerificationMethodsUsed []model.Method `json:"verificationMethodsUsed"`
	ManualOverride          bool           `json:"manualOverride"`
	PhotoEvidencePresent    bool           `json:"photoEvidencePresent"`
	Timestamp               time.Time      `json:"timestamp"`
}

// PayloadFromSession builds the submission payload for a completed session.
func PayloadFromSession(s *model.Session, at time.Time) Payload {
	methods := s.MethodsUsed()
	if methods == nil {
		methods = []model.Method{}
	}
	return Payload{
		SessionID:               s.ID,
		Location:                s.ResolvedLocation,
		FormData:                s.Form,
		VerificationMethodsUsed: methods,
		ManualOverride:          s.ManualOverride,
		PhotoEvidencePresent:    s.PhotoEvidence,
		Timestamp:               at.UTC(),
	}
}
