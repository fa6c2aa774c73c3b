package model

import (
	"time"

	"github.com/google/uuid"
)

// OverrideLocation is the synthesized location string recorded when an
// operator bypasses the automatic verification chain.
const OverrideLocation = "Manual Override Location"

// LocationContext is the property/equipment collaborator's record supplied at
// session creation. The core reads id and name only; the rest rides along on
// the snapshot for the audit trail.
type LocationContext struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Address        string `json:"address,omitempty"`
	Type           string `json:"type,omitempty"`
	EquipmentCount int    `json:"equipmentCount,omitempty"`
}

// Coordinates is a geocoordinate pair resolved by a successful GPS check.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FormData is the inspection report entered at the form step.
// EquipmentCondition and Notes are required before the session may advance.
type FormData struct {
	EquipmentCondition EquipmentCondition `json:"equipmentCondition,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	Temperature        *float64           `json:"temperature,omitempty"`
	Pressure           *float64           `json:"pressure,omitempty"`
}

// Session is the aggregate root for one inspection visit. It is owned by the
// caller that created it and mutated only by the sequencer. The struct is its
// own snapshot: JSON round-trips are lossless, enums serialize as strings.
type Session struct {
	ID       string          `json:"sessionId"`
	Location LocationContext `json:"locationContext"`

	Step    Step               `json:"currentStep"`
	Results map[Method]Outcome `json:"verificationResults"`

	// ResolvedLocation is set exactly once by whichever method (or override)
	// first succeeds, and is immutable thereafter.
	ResolvedLocation string       `json:"location,omitempty"`
	Coordinates      *Coordinates `json:"coordinates,omitempty"`

	ManualOverride bool           `json:"manualOverride"`
	OverrideReason OverrideReason `json:"overrideReason,omitempty"`

	Form FormData `json:"formData"`

	PhotoEvidence bool   `json:"photoEvidence"`
	EvidenceRef   string `json:"evidenceRef,omitempty"`

	SubmissionStatus SubmissionStatus `json:"submissionStatus"`

	CreatedAtUnix   int64 `json:"createdAtUnix"`
	UpdatedAtUnix   int64 `json:"updatedAtUnix"`
	CompletedAtUnix int64 `json:"completedAtUnix,omitempty"`
}

// NewSession creates a fresh session at the start step with all verification
// slots idle.
func NewSession(loc LocationContext, now time.Time) *Session {
	return &Session{
		ID:       uuid.New().String(),
		Location: loc,
		Step:     StepStart,
		Results: map[Method]Outcome{
			MethodGPS:    OutcomeIdle,
			MethodBeacon: OutcomeIdle,
			MethodQR:     OutcomeIdle,
		},
		SubmissionStatus: SubmissionUnsubmitted,
		CreatedAtUnix:    now.Unix(),
		UpdatedAtUnix:    now.Unix(),
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Results = make(map[Method]Outcome, len(s.Results))
	for k, v := range s.Results {
		cp.Results[k] = v
	}
	if s.Coordinates != nil {
		c := *s.Coordinates
		cp.Coordinates = &c
	}
	if s.Form.Temperature != nil {
		t := *s.Form.Temperature
		cp.Form.Temperature = &t
	}
	if s.Form.Pressure != nil {
		p := *s.Form.Pressure
		cp.Form.Pressure = &p
	}
	return &cp
}

// Outcome returns the result slot for a method, defaulting to idle.
func (s *Session) Outcome(m Method) Outcome {
	if s.Results == nil {
		return OutcomeIdle
	}
	if o, ok := s.Results[m]; ok {
		return o
	}
	return OutcomeIdle
}

// Verified reports whether any automatic method succeeded.
func (s *Session) Verified() bool {
	for _, m := range Methods() {
		if s.Outcome(m) == OutcomeSuccess {
			return true
		}
	}
	return false
}

// MethodsUsed lists the methods that succeeded, in chain order. The manual
// override is not a method and never appears here.
func (s *Session) MethodsUsed() []Method {
	var used []Method
	for _, m := range Methods() {
		if s.Outcome(m) == OutcomeSuccess {
			used = append(used, m)
		}
	}
	return used
}
