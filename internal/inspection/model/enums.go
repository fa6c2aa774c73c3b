package model

// Step is the client-visible position of a session in the inspection flow.
// Values are stable: snapshots and submission payloads depend on them.
type Step string

const (
	StepStart    Step = "start"
	StepGPS      Step = "gps"
	StepBeacon   Step = "beacon"
	StepQR       Step = "qr"
	StepForm     Step = "form"
	StepPhoto    Step = "photo"
	StepComplete Step = "complete"
)

// IsTerminal returns true if the step is the final step.
// A completed session is immutable except for its submission status.
func (s Step) IsTerminal() bool {
	return s == StepComplete
}

// IsVerification returns true for steps driven by a verification provider.
func (s Step) IsVerification() bool {
	switch s {
	case StepGPS, StepBeacon, StepQR:
		return true
	}
	return false
}

// Method returns the verification method a step corresponds to, if any.
func (s Step) Method() (Method, bool) {
	switch s {
	case StepGPS:
		return MethodGPS, true
	case StepBeacon:
		return MethodBeacon, true
	case StepQR:
		return MethodQR, true
	}
	return "", false
}

// Method is an independent way to certify presence at a location.
type Method string

const (
	MethodGPS    Method = "gps"
	MethodBeacon Method = "beacon"
	MethodQR     Method = "qr"
)

// Step returns the flow step a method is attempted at.
func (m Method) Step() Step {
	switch m {
	case MethodGPS:
		return StepGPS
	case MethodBeacon:
		return StepBeacon
	case MethodQR:
		return StepQR
	}
	return StepStart
}

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGPS, MethodBeacon, MethodQR:
		return true
	}
	return false
}

// Methods lists all verification methods in chain priority order.
func Methods() []Method {
	return []Method{MethodGPS, MethodBeacon, MethodQR}
}

// Outcome is the per-method verification result slot.
type Outcome string

const (
	OutcomeIdle     Outcome = "idle"
	OutcomeChecking Outcome = "checking"
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
)

// OverrideReason is the audited justification for a manual override.
// Closed vocabulary: free text never enters the override record.
type OverrideReason string

const (
	ReasonQRDamaged             OverrideReason = "qr-damaged"
	ReasonQRMissing             OverrideReason = "qr-missing"
	ReasonBeaconOffline         OverrideReason = "beacon-offline"
	ReasonGPSUnavailable        OverrideReason = "gps-unavailable"
	ReasonEquipmentInaccessible OverrideReason = "equipment-inaccessible"
	ReasonOther                 OverrideReason = "other"
)

// Valid reports whether r is one of the known override reasons.
func (r OverrideReason) Valid() bool {
	switch r {
	case ReasonQRDamaged, ReasonQRMissing, ReasonBeaconOffline,
		ReasonGPSUnavailable, ReasonEquipmentInaccessible, ReasonOther:
		return true
	}
	return false
}

// EquipmentCondition is the closed condition vocabulary for the report form.
type EquipmentCondition string

const (
	ConditionGood   EquipmentCondition = "good"
	ConditionFair   EquipmentCondition = "fair"
	ConditionPoor   EquipmentCondition = "poor"
	ConditionFailed EquipmentCondition = "failed"
)

// Valid reports whether c is one of the known conditions.
func (c EquipmentCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionFair, ConditionPoor, ConditionFailed:
		return true
	}
	return false
}

// SubmissionStatus tracks a completed session through the offline queue.
type SubmissionStatus string

const (
	SubmissionUnsubmitted SubmissionStatus = "unsubmitted"
	SubmissionQueued      SubmissionStatus = "queued"
	SubmissionSynced      SubmissionStatus = "synced"
)
