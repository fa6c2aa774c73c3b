package lifecycle

import "github.com/fieldcert/fieldcert/internal/inspection/model"

const (
	ForbiddenTerminalAbsorbing  = "terminal_absorbing"
	ForbiddenOutOfOrder         = "out_of_order"
	ForbiddenNotAtVerification  = "not_at_verification"
	ForbiddenRequiresBegin      = "requires_begin"
	ForbiddenOverrideFromStart  = "override_from_start"
	ForbiddenSkipOnlyFromGPS    = "skip_only_from_gps"
	ForbiddenEvidenceGate       = "evidence_gate"
	ForbiddenFormNotReached     = "form_not_reached"
)

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Allowed: false, Reason: r} }

// decisionTable defines an explicit decision for every Step×Event combination.
// The sequencer consults it before firing; forbidden transitions surface as
// invalid-transition errors to the caller.
var decisionTable = map[model.Step]map[EventKind]Decision{
	model.StepStart: {
		EvBegin:            allowed(),
		EvMethodSucceeded:  forbid(ForbiddenRequiresBegin),
		EvMethodFailed:     forbid(ForbiddenRequiresBegin),
		EvSkipRequested:    forbid(ForbiddenRequiresBegin),
		EvOverrideRecorded: forbid(ForbiddenOverrideFromStart),
		EvFormSubmitted:    forbid(ForbiddenFormNotReached),
		EvPhotoCaptured:    forbid(ForbiddenEvidenceGate),
	},
	model.StepGPS: {
		EvBegin:            forbid(ForbiddenOutOfOrder),
		EvMethodSucceeded:  allowed(),
		EvMethodFailed:     allowed(),
		EvSkipRequested:    allowed(),
		EvOverrideRecorded: allowed(),
		EvFormSubmitted:    forbid(ForbiddenFormNotReached),
		EvPhotoCaptured:    forbid(ForbiddenEvidenceGate),
	},
	model.StepBeacon: {
		EvBegin:            forbid(ForbiddenOutOfOrder),
		EvMethodSucceeded:  allowed(),
		EvMethodFailed:     allowed(),
		EvSkipRequested:    forbid(ForbiddenSkipOnlyFromGPS),
		EvOverrideRecorded: allowed(),
		EvFormSubmitted:    forbid(ForbiddenFormNotReached),
		EvPhotoCaptured:    forbid(ForbiddenEvidenceGate),
	},
	model.StepQR: {
		EvBegin:            forbid(ForbiddenOutOfOrder),
		EvMethodSucceeded:  allowed(),
		EvMethodFailed:     allowed(),
		EvSkipRequested:    forbid(ForbiddenSkipOnlyFromGPS),
		EvOverrideRecorded: allowed(),
		EvFormSubmitted:    forbid(ForbiddenFormNotReached),
		EvPhotoCaptured:    forbid(ForbiddenEvidenceGate),
	},
	model.StepForm: {
		EvBegin:            forbid(ForbiddenOutOfOrder),
		EvMethodSucceeded:  forbid(ForbiddenNotAtVerification),
		EvMethodFailed:     forbid(ForbiddenNotAtVerification),
		EvSkipRequested:    forbid(ForbiddenNotAtVerification),
		EvOverrideRecorded: forbid(ForbiddenOutOfOrder),
		EvFormSubmitted:    allowed(),
		EvPhotoCaptured:    forbid(ForbiddenEvidenceGate),
	},
	model.StepPhoto: {
		EvBegin:            forbid(ForbiddenOutOfOrder),
		EvMethodSucceeded:  forbid(ForbiddenNotAtVerification),
		EvMethodFailed:     forbid(ForbiddenNotAtVerification),
		EvSkipRequested:    forbid(ForbiddenNotAtVerification),
		EvOverrideRecorded: forbid(ForbiddenOutOfOrder),
		EvFormSubmitted:    forbid(ForbiddenOutOfOrder),
		EvPhotoCaptured:    allowed(),
	},
	model.StepComplete: {
		EvBegin:            forbid(ForbiddenTerminalAbsorbing),
		EvMethodSucceeded:  forbid(ForbiddenTerminalAbsorbing),
		EvMethodFailed:     forbid(ForbiddenTerminalAbsorbing),
		EvSkipRequested:    forbid(ForbiddenTerminalAbsorbing),
		EvOverrideRecorded: forbid(ForbiddenTerminalAbsorbing),
		EvFormSubmitted:    forbid(ForbiddenTerminalAbsorbing),
		EvPhotoCaptured:    forbid(ForbiddenTerminalAbsorbing),
	},
}

// DecisionFor returns the explicit decision for step×event.
func DecisionFor(from model.Step, ev EventKind) (Decision, bool) {
	m, ok := decisionTable[from]
	if !ok {
		return Decision{}, false
	}
	d, ok := m[ev]
	return d, ok
}
