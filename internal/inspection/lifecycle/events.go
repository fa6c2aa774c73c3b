package lifecycle

// EventKind is a domain event in the inspection flow.
type EventKind int

const (
	EvUnknown EventKind = iota
	EvBegin
	EvMethodSucceeded
	EvMethodFailed
	EvSkipRequested
	EvOverrideRecorded
	EvFormSubmitted
	EvPhotoCaptured
)

func (e EventKind) String() string {
	switch e {
	case EvBegin:
		return "begin"
	case EvMethodSucceeded:
		return "method_succeeded"
	case EvMethodFailed:
		return "method_failed"
	case EvSkipRequested:
		return "skip_requested"
	case EvOverrideRecorded:
		return "override_recorded"
	case EvFormSubmitted:
		return "form_submitted"
	case EvPhotoCaptured:
		return "photo_captured"
	default:
		return "unknown"
	}
}
