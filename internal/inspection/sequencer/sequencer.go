// Package sequencer drives an inspection session through the verification
// chain: GPS, beacon, QR, manual override, form, photo evidence, completion.
// All session mutation happens here; providers report, the queue receives.
package sequencer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcert/fieldcert/internal/inspection/lifecycle"
	"github.com/fieldcert/fieldcert/internal/inspection/model"
	"github.com/fieldcert/fieldcert/internal/inspection/provider"
	"github.com/fieldcert/fieldcert/internal/log"
	"github.com/fieldcert/fieldcert/internal/metrics"
)

// Submitter receives a completed session together with the caller-supplied
// connectivity signal. The sequencer never probes network state itself.
type Submitter interface {
	Enqueue(ctx context.Context, s *model.Session, online bool) error
}

// Sequencer owns the state machine for the sessions it drives. Operations on
// one session are serialized; distinct sessions proceed independently.
type Sequencer struct {
	providers *provider.Registry
	submit    Submitter
	now       func() time.Time

	mu  sync.Mutex
	ctl map[string]*control
}

// control is the per-session attempt bookkeeping: the attempt sequence number
// implements last-attempt-wins, the cancel func aborts an in-flight check
// when the session moves on.
type control struct {
	mu      sync.Mutex
	attempt uint64
	cancel  context.CancelFunc
}

// New builds a sequencer over the given provider registry and submitter.
func New(providers *provider.Registry, submit Submitter) *Sequencer {
	return &Sequencer{
		providers: providers,
		submit:    submit,
		now:       time.Now,
		ctl:       make(map[string]*control),
	}
}

// WithClock overrides the time source, for tests.
func (q *Sequencer) WithClock(now func() time.Time) *Sequencer {
	q.now = now
	return q
}

func (q *Sequencer) controlFor(id string) *control {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.ctl[id]
	if !ok {
		c = &control{}
		q.ctl[id] = c
	}
	return c
}

// Snapshot returns a deep copy of the session taken under its operation lock,
// safe to serialize while attempts are in flight.
func (q *Sequencer) Snapshot(s *model.Session) *model.Session {
	c := q.controlFor(s.ID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.Clone()
}

// Begin moves a fresh session from start to the GPS step and runs the first
// verification attempt. It returns once the attempt settles or is superseded.
func (q *Sequencer) Begin(ctx context.Context, s *model.Session) error {
	c := q.controlFor(s.ID)
	c.mu.Lock()
	if d, ok := lifecycle.DecisionFor(s.Step, lifecycle.EvBegin); !ok || !d.Allowed {
		c.mu.Unlock()
		metrics.InvalidTransitions.WithLabelValues(string(s.Step), lifecycle.EvBegin.String()).Inc()
		return lifecycle.NewInvalidTransition(s.Step, lifecycle.EvBegin)
	}
	tr, _ := lifecycle.TransitionFor(s.Step, lifecycle.EvBegin)
	q.applyLocked(s, tr)
	c.mu.Unlock()

	return q.runAttempt(ctx, c, s, model.MethodGPS)
}

// Retry re-invokes the named provider without changing the step. Valid only
// at that method's step while its current outcome is failed.
func (q *Sequencer) Retry(ctx context.Context, s *model.Session, m model.Method) error {
	if !m.Valid() {
		return &lifecycle.ValidationError{Field: "method", Detail: "unknown verification method"}
	}
	c := q.controlFor(s.ID)
	c.mu.Lock()
	if s.Step != m.Step() || s.Outcome(m) != model.OutcomeFailed {
		step := s.Step
		c.mu.Unlock()
		metrics.InvalidTransitions.WithLabelValues(string(step), "retry").Inc()
		return lifecycle.NewInvalidTransition(step, lifecycle.EvMethodFailed)
	}
	c.mu.Unlock()

	return q.runAttempt(ctx, c, s, m)
}

// abandonable reports whether a method in this state may be walked away from:
// a settled failure, or a check still in flight that the operator gives up on.
// An idle method has not been attempted and a successful one already advanced.
func abandonable(o model.Outcome) bool {
	return o == model.OutcomeFailed || o == model.OutcomeChecking
}

// Skip advances past the GPS check to the beacon step without retrying. Legal
// after a GPS failure or while a GPS attempt is still in flight; the in-flight
// attempt is canceled and its completion discarded.
func (q *Sequencer) Skip(ctx context.Context, s *model.Session) error {
	c := q.controlFor(s.ID)
	c.mu.Lock()
	d, ok := lifecycle.DecisionFor(s.Step, lifecycle.EvSkipRequested)
	if !ok || !d.Allowed || !abandonable(s.Outcome(model.MethodGPS)) {
		step := s.Step
		c.mu.Unlock()
		metrics.InvalidTransitions.WithLabelValues(string(step), lifecycle.EvSkipRequested.String()).Inc()
		return lifecycle.NewInvalidTransition(step, lifecycle.EvSkipRequested)
	}
	tr, _ := lifecycle.TransitionFor(s.Step, lifecycle.EvSkipRequested)
	q.cancelInFlightLocked(c)
	if s.Outcome(model.MethodGPS) == model.OutcomeChecking {
		s.Results[model.MethodGPS] = model.OutcomeFailed
	}
	q.applyLocked(s, tr)
	c.mu.Unlock()

	return q.runAttempt(ctx, c, s, model.MethodBeacon)
}

// RecordOverride records the audited manual override. Valid from any
// automatic method's failure state, or while that method's check is still in
// flight and the operator abandons it; requires a reason from the closed
// vocabulary. Once set, the override cannot be unset within the session.
func (q *Sequencer) RecordOverride(ctx context.Context, s *model.Session, reason model.OverrideReason) error {
	if reason == "" {
		return &lifecycle.ValidationError{Field: "overrideReason", Detail: "reason required"}
	}
	if !reason.Valid() {
		return &lifecycle.ValidationError{Field: "overrideReason", Detail: "unknown reason"}
	}

	c := q.controlFor(s.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := lifecycle.DecisionFor(s.Step, lifecycle.EvOverrideRecorded)
	if !ok || !d.Allowed {
		metrics.InvalidTransitions.WithLabelValues(string(s.Step), lifecycle.EvOverrideRecorded.String()).Inc()
		return lifecycle.NewInvalidTransition(s.Step, lifecycle.EvOverrideRecorded)
	}
	m, _ := s.Step.Method()
	if !abandonable(s.Outcome(m)) {
		metrics.InvalidTransitions.WithLabelValues(string(s.Step), lifecycle.EvOverrideRecorded.String()).Inc()
		return lifecycle.NewInvalidTransition(s.Step, lifecycle.EvOverrideRecorded)
	}

	q.cancelInFlightLocked(c)
	if s.Outcome(m) == model.OutcomeChecking {
		s.Results[m] = model.OutcomeFailed
	}

	s.ManualOverride = true
	s.OverrideReason = reason
	if s.ResolvedLocation == "" {
		s.ResolvedLocation = model.OverrideLocation
	}

	tr, _ := lifecycle.TransitionFor(s.Step, lifecycle.EvOverrideRecorded)
	q.applyLocked(s, tr)
	metrics.Overrides.WithLabelValues(string(reason)).Inc()

	log.WithComponentFromContext(ctx, "sequencer").Info().
		Str(log.FieldSessionID, s.ID).
		Str("reason", string(reason)).
		Msg("manual override recorded")
	return nil
}

// SubmitForm stores the inspection report and advances to photo capture.
// Equipment condition and notes are required; rejection leaves the session
// unchanged.
func (q *Sequencer) SubmitForm(ctx context.Context, s *model.Session, data model.FormData) error {
	c := q.controlFor(s.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := lifecycle.DecisionFor(s.Step, lifecycle.EvFormSubmitted); !ok || !d.Allowed {
		metrics.InvalidTransitions.WithLabelValues(string(s.Step), lifecycle.EvFormSubmitted.String()).Inc()
		return lifecycle.NewInvalidTransition(s.Step, lifecycle.EvFormSubmitted)
	}
	if data.EquipmentCondition == "" {
		return &lifecycle.ValidationError{Field: "equipmentCondition", Detail: "condition required"}
	}
	if !data.EquipmentCondition.Valid() {
		return &lifecycle.ValidationError{Field: "equipmentCondition", Detail: "unknown condition"}
	}
	if strings.TrimSpace(data.Notes) == "" {
		return &lifecycle.ValidationError{Field: "notes", Detail: "notes required"}
	}

	s.Form = data
	tr, _ := lifecycle.TransitionFor(s.Step, lifecycle.EvFormSubmitted)
	q.applyLocked(s, tr)
	return nil
}

// CapturePhoto records photo evidence, completes the session, and hands it to
// the submission queue with the caller-supplied connectivity signal. This is
// the only path into the complete step; without the evidence flag the session
// cannot complete, override or not.
func (q *Sequencer) CapturePhoto(ctx context.Context, s *model.Session, online bool) error {
	c := q.controlFor(s.ID)
	c.mu.Lock()

	if d, ok := lifecycle.DecisionFor(s.Step, lifecycle.EvPhotoCaptured); !ok || !d.Allowed {
		step := s.Step
		c.mu.Unlock()
		metrics.InvalidTransitions.WithLabelValues(string(step), lifecycle.EvPhotoCaptured.String()).Inc()
		return lifecycle.NewInvalidTransition(step, lifecycle.EvPhotoCaptured)
	}

	// Capture itself always succeeds; the hardware seam is out of scope.
	s.PhotoEvidence = true
	s.EvidenceRef = "photo-" + uuid.New().String()

	tr, _ := lifecycle.TransitionFor(s.Step, lifecycle.EvPhotoCaptured)
	q.applyLocked(s, tr)
	// The queue gets its own copy; concurrent snapshot reads of the canonical
	// session must not see unlocked writes from the enqueue path.
	sub := s.Clone()
	c.mu.Unlock()

	log.WithComponentFromContext(ctx, "sequencer").Info().
		Str(log.FieldSessionID, s.ID).
		Bool("online", online).
		Msg("session complete, submitting")

	err := q.submit.Enqueue(ctx, sub, online)

	c.mu.Lock()
	s.SubmissionStatus = sub.SubmissionStatus
	c.mu.Unlock()

	q.mu.Lock()
	delete(q.ctl, s.ID)
	q.mu.Unlock()
	return err
}

// Retire drops the per-session bookkeeping. Call when a session leaves the
// registry so abandoned sessions do not accumulate control state.
func (q *Sequencer) Retire(id string) {
	q.mu.Lock()
	delete(q.ctl, id)
	q.mu.Unlock()
}

// runAttempt executes one provider attempt for the method. The attempt holds
// no session lock while the provider runs, so an override or skip can land
// mid-flight; its completion is then discarded by sequence number.
func (q *Sequencer) runAttempt(ctx context.Context, c *control, s *model.Session, m model.Method) error {
	p, ok := q.providers.Get(m)
	if !ok {
		return &lifecycle.ValidationError{Field: "method", Detail: "no provider registered for " + string(m)}
	}

	c.mu.Lock()
	if s.Step != m.Step() {
		step := s.Step
		c.mu.Unlock()
		return lifecycle.NewInvalidTransition(step, lifecycle.EvMethodFailed)
	}
	q.cancelInFlightLocked(c)
	c.attempt++
	seq := c.attempt
	actx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	s.Results[m] = model.OutcomeChecking
	s.UpdatedAtUnix = q.now().Unix()
	c.mu.Unlock()

	req := provider.Request{SessionID: s.ID, Location: s.Location, Attempt: seq}
	res, err := p.Attempt(actx, req)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Last-attempt-wins: a newer attempt or a step change invalidates this
	// completion entirely.
	if seq != c.attempt || s.Step != m.Step() {
		log.WithComponentFromContext(ctx, "sequencer").Debug().
			Str(log.FieldSessionID, s.ID).
			Str(log.FieldMethod, string(m)).
			Uint64(log.FieldAttempt, seq).
			Msg("stale attempt discarded")
		return nil
	}

	outcome := res.Outcome
	if err != nil {
		outcome = model.OutcomeFailed
	}
	if outcome != model.OutcomeSuccess {
		outcome = model.OutcomeFailed
	}

	s.Results[m] = outcome
	metrics.ProviderAttempts.WithLabelValues(string(m), string(outcome)).Inc()

	if outcome == model.OutcomeSuccess {
		if res.Coordinates != nil && s.Coordinates == nil {
			coords := *res.Coordinates
			s.Coordinates = &coords
		}
		if res.Location != "" && s.ResolvedLocation == "" {
			s.ResolvedLocation = res.Location
		}
	}

	ev := lifecycle.EvMethodFailed
	if outcome == model.OutcomeSuccess {
		ev = lifecycle.EvMethodSucceeded
	}
	tr, ok := lifecycle.TransitionFor(s.Step, ev)
	if !ok {
		return lifecycle.NewInvalidTransition(s.Step, ev)
	}
	q.applyLocked(s, tr)

	log.WithComponentFromContext(ctx, "sequencer").Info().
		Str(log.FieldSessionID, s.ID).
		Str(log.FieldMethod, string(m)).
		Str(log.FieldOutcome, string(outcome)).
		Str(log.FieldNewStep, string(s.Step)).
		Msg("verification attempt settled")

	// Auto-chain: a successful GPS check still runs beacon as a corroborating
	// signal before the form is reachable.
	if m == model.MethodGPS && outcome == model.OutcomeSuccess {
		c.mu.Unlock()
		err := q.runAttempt(ctx, c, s, model.MethodBeacon)
		c.mu.Lock()
		return err
	}

	// Fallback: a failed beacon check rolls straight into the QR scan. The QR
	// step is where the chain stops; from there the operator retries or
	// records an override.
	if m == model.MethodBeacon && outcome == model.OutcomeFailed {
		c.mu.Unlock()
		err := q.runAttempt(ctx, c, s, model.MethodQR)
		c.mu.Lock()
		return err
	}
	return nil
}

func (q *Sequencer) cancelInFlightLocked(c *control) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.attempt++
}

func (q *Sequencer) applyLocked(s *model.Session, tr lifecycle.Transition) {
	from := s.Step
	lifecycle.ApplyTransition(s, tr, q.now())
	if from != s.Step {
		metrics.StepTransitions.WithLabelValues(string(from), string(s.Step)).Inc()
	}
}
