package lifecycle

import "github.com/fieldcert/fieldcert/internal/inspection/model"

// Transition is a single allowed edge in the inspection flow state machine.
type Transition struct {
	From  model.Step
	To    model.Step
	Event EventKind
}

// Decision records whether a transition is allowed and why it is forbidden.
type Decision struct {
	Allowed bool
	Reason  string
}

// transitionsTable is the complete fallback policy plus the two fixed edges
// Form->Photo and Photo->Complete. Failure handling lives in the table too:
// a self-edge means "stay and offer retry".
var transitionsTable = []Transition{
	// Entry
	{From: model.StepStart, To: model.StepGPS, Event: EvBegin},

	// GPS: success auto-chains into beacon (GPS narrows the location, the
	// beacon or QR check confirms the precise equipment zone). Failure stays
	// for retry; an explicit skip advances to beacon.
	{From: model.StepGPS, To: model.StepBeacon, Event: EvMethodSucceeded},
	{From: model.StepGPS, To: model.StepGPS, Event: EvMethodFailed},
	{From: model.StepGPS, To: model.StepBeacon, Event: EvSkipRequested},

	// Beacon: success confirms the zone; failure falls back to QR.
	{From: model.StepBeacon, To: model.StepForm, Event: EvMethodSucceeded},
	{From: model.StepBeacon, To: model.StepQR, Event: EvMethodFailed},

	// QR: last automatic method. Failure stays; retry or override.
	{From: model.StepQR, To: model.StepForm, Event: EvMethodSucceeded},
	{From: model.StepQR, To: model.StepQR, Event: EvMethodFailed},

	// Manual override: terminal fallback from any automatic method's failure
	// state, never a shortcut from start. The outcome guard lives in the
	// sequencer; here only the edges exist.
	{From: model.StepGPS, To: model.StepForm, Event: EvOverrideRecorded},
	{From: model.StepBeacon, To: model.StepForm, Event: EvOverrideRecorded},
	{From: model.StepQR, To: model.StepForm, Event: EvOverrideRecorded},

	// Fixed tail
	{From: model.StepForm, To: model.StepPhoto, Event: EvFormSubmitted},
	{From: model.StepPhoto, To: model.StepComplete, Event: EvPhotoCaptured},
}

// TransitionFor returns the allowed transition for a given step+event.
func TransitionFor(from model.Step, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}
