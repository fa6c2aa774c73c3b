package model

import (
	"encoding/json"
	"fmt"
)

// EncodeSnapshot serializes a session for persistence or the offline queue.
func EncodeSnapshot(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("snapshot: nil session")
	}
	return json.Marshal(s)
}

// DecodeSnapshot restores a session from its snapshot bytes.
func DecodeSnapshot(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode failed: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("snapshot: missing session id")
	}
	if s.Results == nil {
		s.Results = map[Method]Outcome{
			MethodGPS:    OutcomeIdle,
			MethodBeacon: OutcomeIdle,
			MethodQR:     OutcomeIdle,
		}
	}
	return &s, nil
}

// CheckInvariants verifies the cross-field invariants a well-formed session
// must satisfy at any point in its lifecycle. It returns the first violation.
func CheckInvariants(s *Session) error {
	if s.Step == StepComplete {
		if !s.PhotoEvidence {
			return fmt.Errorf("session %s: complete without photo evidence", s.ID)
		}
		if s.Form.EquipmentCondition == "" || s.Form.Notes == "" {
			return fmt.Errorf("session %s: complete without required form fields", s.ID)
		}
	}
	switch s.Step {
	case StepForm, StepPhoto, StepComplete:
		if s.ResolvedLocation == "" {
			return fmt.Errorf("session %s: step %s without resolved location", s.ID, s.Step)
		}
		if !s.ManualOverride && !s.Verified() {
			return fmt.Errorf("session %s: step %s without verification or override", s.ID, s.Step)
		}
	}
	if s.ManualOverride && !s.OverrideReason.Valid() {
		return fmt.Errorf("session %s: override without valid reason", s.ID)
	}
	return nil
}
