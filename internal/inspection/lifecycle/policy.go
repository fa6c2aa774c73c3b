package lifecycle

import "github.com/fieldcert/fieldcert/internal/inspection/model"

// Next is the fallback policy as a pure function: given a method and the
// outcome of its attempt, it returns the step the session moves to. A
// self-step means "stay and offer retry". The mapping is derived from the
// transition table so policy and state machine cannot drift apart.
//
// Form is reachable only via beacon success, QR success, or a recorded
// override. A GPS success alone is not sufficient: it chains into beacon as a
// corroborating signal.
func Next(m model.Method, outcome model.Outcome) (model.Step, bool) {
	var ev EventKind
	switch outcome {
	case model.OutcomeSuccess:
		ev = EvMethodSucceeded
	case model.OutcomeFailed:
		ev = EvMethodFailed
	default:
		return "", false
	}
	tr, ok := TransitionFor(m.Step(), ev)
	if !ok {
		return "", false
	}
	return tr.To, true
}
