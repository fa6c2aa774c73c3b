package sequencer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fieldcert/fieldcert/internal/inspection/lifecycle"
	"github.com/fieldcert/fieldcert/internal/inspection/model"
	"github.com/fieldcert/fieldcert/internal/inspection/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// captureSubmitter records what the sequencer hands to the queue.
type captureSubmitter struct {
	mu       sync.Mutex
	sessions []*model.Session
	online   []bool
}

func (c *captureSubmitter) Enqueue(ctx context.Context, s *model.Session, online bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, s.Clone())
	c.online = append(c.online, online)
	if online {
		s.SubmissionStatus = model.SubmissionSynced
	} else {
		s.SubmissionStatus = model.SubmissionQueued
	}
	return nil
}

func (c *captureSubmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// blockingStub parks until its context is canceled, signalling on started
// once the attempt is in flight.
type blockingStub struct {
	method  model.Method
	started chan struct{}
}

func newBlockingStub(m model.Method) *blockingStub {
	return &blockingStub{method: m, started: make(chan struct{}, 4)}
}

func (b *blockingStub) Method() model.Method { return b.method }

func (b *blockingStub) Attempt(ctx context.Context, req provider.Request) (provider.Result, error) {
	b.started <- struct{}{}
	<-ctx.Done()
	return provider.Result{Outcome: model.OutcomeFailed, Detail: "attempt canceled"}, ctx.Err()
}

func newTestSequencer(t *testing.T, gps, beacon, qr provider.Provider) (*Sequencer, *captureSubmitter) {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(gps))
	require.NoError(t, reg.Register(beacon))
	require.NoError(t, reg.Register(qr))
	sub := &captureSubmitter{}
	return New(reg, sub), sub
}

func newTestSession() *model.Session {
	return model.NewSession(model.LocationContext{
		ID:   "loc-7",
		Name: "Pump Station A",
	}, time.Now())
}

func validForm() model.FormData {
	return model.FormData{
		EquipmentCondition: model.ConditionGood,
		Notes:              "pressure nominal",
	}
}

func TestHappyPathGPSThenBeacon(t *testing.T) {
	seq, sub := newTestSequencer(t,
		provider.SuccessStub(model.MethodGPS, ""),
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	require.NoError(t, seq.Begin(ctx, s))

	// GPS success chains straight into beacon; both settle before Begin returns.
	require.Equal(t, model.StepForm, s.Step)
	require.Equal(t, model.OutcomeSuccess, s.Outcome(model.MethodGPS))
	require.Equal(t, model.OutcomeSuccess, s.Outcome(model.MethodBeacon))
	require.Equal(t, model.OutcomeIdle, s.Outcome(model.MethodQR))
	require.NotNil(t, s.Coordinates)
	require.InDelta(t, 40.7128, s.Coordinates.Latitude, 0.01)
	require.Equal(t, "Pump Station A", s.ResolvedLocation)
	require.False(t, s.ManualOverride)

	require.NoError(t, seq.SubmitForm(ctx, s, validForm()))
	require.Equal(t, model.StepPhoto, s.Step)

	require.NoError(t, seq.CapturePhoto(ctx, s, true))
	require.Equal(t, model.StepComplete, s.Step)
	require.True(t, s.PhotoEvidence)
	require.True(t, strings.HasPrefix(s.EvidenceRef, "photo-"))
	require.NotZero(t, s.CompletedAtUnix)
	require.Equal(t, model.SubmissionSynced, s.SubmissionStatus)

	require.Equal(t, 1, sub.count())
	require.True(t, sub.online[0])
	require.Equal(t, []model.Method{model.MethodGPS, model.MethodBeacon}, sub.sessions[0].MethodsUsed())
}

func TestFallbackGPSFailsSkipBeaconFailsQRSucceeds(t *testing.T) {
	seq, _ := newTestSequencer(t,
		provider.FailStub(model.MethodGPS),
		provider.FailStub(model.MethodBeacon),
		provider.SuccessStub(model.MethodQR, "Pump Station A"),
	)
	s := newTestSession()
	ctx := context.Background()

	require.NoError(t, seq.Begin(ctx, s))
	require.Equal(t, model.StepGPS, s.Step)
	require.Equal(t, model.OutcomeFailed, s.Outcome(model.MethodGPS))

	// Skip runs beacon; its failure rolls into the QR scan.
	require.NoError(t, seq.Skip(ctx, s))
	require.Equal(t, model.StepForm, s.Step)
	require.Equal(t, model.OutcomeFailed, s.Outcome(model.MethodBeacon))
	require.Equal(t, model.OutcomeSuccess, s.Outcome(model.MethodQR))
	require.Equal(t, "Pump Station A", s.ResolvedLocation)
	require.False(t, s.ManualOverride)
	require.Nil(t, s.Coordinates)
}

func TestOverrideAfterEverythingFails(t *testing.T) {
	seq, _ := newTestSequencer(t,
		provider.FailStub(model.MethodGPS),
		provider.FailStub(model.MethodBeacon),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	require.NoError(t, seq.Begin(ctx, s))
	require.NoError(t, seq.Skip(ctx, s))
	require.Equal(t, model.StepQR, s.Step)
	require.Equal(t, model.OutcomeFailed, s.Outcome(model.MethodQR))

	// Repeated retries keep failing and keep the session at the QR step.
	require.NoError(t, seq.Retry(ctx, s, model.MethodQR))
	require.NoError(t, seq.Retry(ctx, s, model.MethodQR))
	require.Equal(t, model.StepQR, s.Step)

	require.NoError(t, seq.RecordOverride(ctx, s, model.ReasonQRDamaged))
	require.Equal(t, model.StepForm, s.Step)
	require.True(t, s.ManualOverride)
	require.Equal(t, model.ReasonQRDamaged, s.OverrideReason)
	require.Equal(t, model.OverrideLocation, s.ResolvedLocation)
	require.Empty(t, s.MethodsUsed())
}

func TestRetryGPSAfterFailure(t *testing.T) {
	gps := &provider.Stub{MethodName: model.MethodGPS, Results: []provider.Result{
		{Outcome: model.OutcomeFailed, Detail: "no fix"},
		{Outcome: model.OutcomeSuccess, Coordinates: &model.Coordinates{Latitude: 40.7128, Longitude: -74.0060}},
	}}
	seq, _ := newTestSequencer(t,
		gps,
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	require.NoError(t, seq.Begin(ctx, s))
	require.Equal(t, model.StepGPS, s.Step)

	require.NoError(t, seq.Retry(ctx, s, model.MethodGPS))
	require.Equal(t, model.StepForm, s.Step)
	require.Equal(t, model.OutcomeSuccess, s.Outcome(model.MethodGPS))
	require.Equal(t, model.OutcomeSuccess, s.Outcome(model.MethodBeacon))
	require.NotNil(t, s.Coordinates)
}

func TestRetryRejectedOutsideFailureState(t *testing.T) {
	seq, _ := newTestSequencer(t,
		provider.FailStub(model.MethodGPS),
		provider.FailStub(model.MethodBeacon),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	// Nothing attempted yet.
	err := seq.Retry(ctx, s, model.MethodGPS)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	require.NoError(t, seq.Begin(ctx, s))

	// Wrong method for the current step.
	err = seq.Retry(ctx, s, model.MethodQR)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	// Unknown method is a validation error, not a transition error.
	err = seq.Retry(ctx, s, model.Method("sonar"))
	require.ErrorIs(t, err, lifecycle.ErrValidation)
}

func TestEvidenceGate(t *testing.T) {
	seq, sub := newTestSequencer(t,
		provider.SuccessStub(model.MethodGPS, ""),
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	require.NoError(t, seq.Begin(ctx, s))
	require.Equal(t, model.StepForm, s.Step)

	// No photo before the form is in.
	err := seq.CapturePhoto(ctx, s, true)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	require.False(t, s.PhotoEvidence)
	require.Zero(t, sub.count())

	require.NoError(t, seq.SubmitForm(ctx, s, validForm()))

	// Form cannot be resubmitted from the photo step.
	err = seq.SubmitForm(ctx, s, validForm())
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	require.NoError(t, seq.CapturePhoto(ctx, s, true))
	require.Equal(t, model.StepComplete, s.Step)
	require.True(t, s.PhotoEvidence)
	require.NoError(t, model.CheckInvariants(s))
}

func TestCompleteIsTerminal(t *testing.T) {
	seq, sub := newTestSequencer(t,
		provider.SuccessStub(model.MethodGPS, ""),
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	require.NoError(t, seq.Begin(ctx, s))
	require.NoError(t, seq.SubmitForm(ctx, s, validForm()))
	require.NoError(t, seq.CapturePhoto(ctx, s, true))
	require.Equal(t, 1, sub.count())

	for name, op := range map[string]func() error{
		"begin":    func() error { return seq.Begin(ctx, s) },
		"retry":    func() error { return seq.Retry(ctx, s, model.MethodGPS) },
		"skip":     func() error { return seq.Skip(ctx, s) },
		"override": func() error { return seq.RecordOverride(ctx, s, model.ReasonOther) },
		"form":     func() error { return seq.SubmitForm(ctx, s, validForm()) },
		"photo":    func() error { return seq.CapturePhoto(ctx, s, true) },
	} {
		require.ErrorIs(t, op(), lifecycle.ErrInvalidTransition, "op %s after complete", name)
	}
	require.Equal(t, model.StepComplete, s.Step)
	require.Equal(t, 1, sub.count(), "no resubmission from a terminal session")
}

func TestFormValidation(t *testing.T) {
	tests := []struct {
		name string
		data model.FormData
	}{
		{name: "missing condition", data: model.FormData{Notes: "ok"}},
		{name: "unknown condition", data: model.FormData{EquipmentCondition: "pristine", Notes: "ok"}},
		{name: "missing notes", data: model.FormData{EquipmentCondition: model.ConditionFair}},
		{name: "blank notes", data: model.FormData{EquipmentCondition: model.ConditionFair, Notes: "   "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seq, _ := newTestSequencer(t,
				provider.SuccessStub(model.MethodGPS, ""),
				provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
				provider.FailStub(model.MethodQR),
			)
			s := newTestSession()
			ctx := context.Background()
			require.NoError(t, seq.Begin(ctx, s))

			err := seq.SubmitForm(ctx, s, tc.data)
			require.ErrorIs(t, err, lifecycle.ErrValidation)
			require.Equal(t, model.StepForm, s.Step, "rejection leaves the session unchanged")
			require.Empty(t, s.Form.Notes)
		})
	}
}

func TestOverrideValidation(t *testing.T) {
	seq, _ := newTestSequencer(t,
		provider.FailStub(model.MethodGPS),
		provider.FailStub(model.MethodBeacon),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	// Never a shortcut from start.
	err := seq.RecordOverride(ctx, s, model.ReasonOther)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	require.NoError(t, seq.Begin(ctx, s))

	err = seq.RecordOverride(ctx, s, "")
	require.ErrorIs(t, err, lifecycle.ErrValidation)

	err = seq.RecordOverride(ctx, s, model.OverrideReason("felt like it"))
	require.ErrorIs(t, err, lifecycle.ErrValidation)

	require.False(t, s.ManualOverride)
	require.Equal(t, model.StepGPS, s.Step)

	// Valid from a failed GPS state, not only from QR.
	require.NoError(t, seq.RecordOverride(ctx, s, model.ReasonGPSUnavailable))
	require.Equal(t, model.StepForm, s.Step)
	require.True(t, s.ManualOverride)
}

func TestOverridePreservesEarlierLocation(t *testing.T) {
	qr := &provider.Stub{MethodName: model.MethodQR, Results: []provider.Result{
		{Outcome: model.OutcomeFailed, Detail: "unreadable"},
	}}
	seq, _ := newTestSequencer(t,
		provider.FailStub(model.MethodGPS),
		provider.FailStub(model.MethodBeacon),
		qr,
	)
	s := newTestSession()
	ctx := context.Background()

	require.NoError(t, seq.Begin(ctx, s))
	require.NoError(t, seq.Skip(ctx, s))
	require.Equal(t, model.StepQR, s.Step)

	// Nothing succeeded, so the override synthesizes the location.
	require.NoError(t, seq.RecordOverride(ctx, s, model.ReasonQRDamaged))
	require.Equal(t, model.OverrideLocation, s.ResolvedLocation)
}

func TestSkipRejectedOutsideGPSStep(t *testing.T) {
	seq, _ := newTestSequencer(t,
		provider.SuccessStub(model.MethodGPS, ""),
		provider.FailStub(model.MethodBeacon),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	err := seq.Skip(ctx, s)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	// GPS success chained through beacon failure to the QR step.
	require.NoError(t, seq.Begin(ctx, s))
	require.Equal(t, model.StepQR, s.Step)

	err = seq.Skip(ctx, s)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestOverrideCancelsInFlightAttempt(t *testing.T) {
	gps := newBlockingStub(model.MethodGPS)
	seq, _ := newTestSequencer(t,
		gps,
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- seq.Begin(ctx, s) }()
	<-gps.started

	// Operator abandons the hanging GPS check.
	require.NoError(t, seq.RecordOverride(ctx, s, model.ReasonGPSUnavailable))

	select {
	case err := <-done:
		require.NoError(t, err, "superseded attempt resolves without error")
	case <-time.After(5 * time.Second):
		t.Fatal("begin did not return after its attempt was canceled")
	}

	require.Equal(t, model.StepForm, s.Step)
	require.True(t, s.ManualOverride)
	require.Equal(t, model.OutcomeFailed, s.Outcome(model.MethodGPS), "abandoned check settles failed")
	require.Equal(t, model.OverrideLocation, s.ResolvedLocation)
}

func TestSkipCancelsInFlightAttempt(t *testing.T) {
	gps := newBlockingStub(model.MethodGPS)
	seq, _ := newTestSequencer(t,
		gps,
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- seq.Begin(ctx, s) }()
	<-gps.started

	require.NoError(t, seq.Skip(ctx, s))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("begin did not return after skip")
	}

	require.Equal(t, model.StepForm, s.Step)
	require.Equal(t, model.OutcomeFailed, s.Outcome(model.MethodGPS))
	require.Equal(t, model.OutcomeSuccess, s.Outcome(model.MethodBeacon))
	require.Equal(t, "Pump Station A", s.ResolvedLocation)
}

// gateSubmitter parks inside Enqueue so the test can observe the session
// while the submission is still running.
type gateSubmitter struct {
	entered chan struct{}
	release chan struct{}
	got     *model.Session
}

func newGateSubmitter() *gateSubmitter {
	return &gateSubmitter{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateSubmitter) Enqueue(ctx context.Context, s *model.Session, online bool) error {
	g.got = s
	g.entered <- struct{}{}
	<-g.release
	s.SubmissionStatus = model.SubmissionQueued
	return nil
}

func TestCapturePhotoSubmitsDetachedCopy(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(provider.SuccessStub(model.MethodGPS, "")))
	require.NoError(t, reg.Register(provider.SuccessStub(model.MethodBeacon, "Pump Station A")))
	require.NoError(t, reg.Register(provider.FailStub(model.MethodQR)))
	gate := newGateSubmitter()
	seq := New(reg, gate)

	s := newTestSession()
	ctx := context.Background()
	require.NoError(t, seq.Begin(ctx, s))
	require.NoError(t, seq.SubmitForm(ctx, s, validForm()))

	done := make(chan error, 1)
	go func() { done <- seq.CapturePhoto(ctx, s, false) }()
	<-gate.entered

	// Reads stay consistent while the submission is still in flight.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = seq.Snapshot(s)
			}
		}
	}()

	snap := seq.Snapshot(s)
	require.Equal(t, model.StepComplete, snap.Step)
	require.NotSame(t, s, gate.got, "the queue works on its own copy")

	close(gate.release)
	require.NoError(t, <-done)
	close(stop)
	wg.Wait()

	require.Equal(t, model.SubmissionQueued, s.SubmissionStatus,
		"the queue's status lands on the canonical session")
}

func TestControlStateReleased(t *testing.T) {
	seq, _ := newTestSequencer(t,
		provider.SuccessStub(model.MethodGPS, ""),
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	ctx := context.Background()

	ctlLen := func() int {
		seq.mu.Lock()
		defer seq.mu.Unlock()
		return len(seq.ctl)
	}

	// Completion cleans up after itself.
	s := newTestSession()
	require.NoError(t, seq.Begin(ctx, s))
	require.NoError(t, seq.SubmitForm(ctx, s, validForm()))
	require.NoError(t, seq.CapturePhoto(ctx, s, true))
	require.Zero(t, ctlLen())

	// An abandoned mid-flow session is released by Retire.
	abandoned := newTestSession()
	require.NoError(t, seq.Begin(ctx, abandoned))
	require.Equal(t, 1, ctlLen())
	seq.Retire(abandoned.ID)
	require.Zero(t, ctlLen())
}

func TestOfflineCompletionPassesSignalThrough(t *testing.T) {
	seq, sub := newTestSequencer(t,
		provider.SuccessStub(model.MethodGPS, ""),
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	s := newTestSession()
	ctx := context.Background()

	require.NoError(t, seq.Begin(ctx, s))
	require.NoError(t, seq.SubmitForm(ctx, s, validForm()))
	require.NoError(t, seq.CapturePhoto(ctx, s, false))

	require.Equal(t, 1, sub.count())
	require.False(t, sub.online[0])
	require.Equal(t, model.SubmissionQueued, s.SubmissionStatus)
}

func TestFallbackDeterminism(t *testing.T) {
	run := func() []model.Step {
		seq, _ := newTestSequencer(t,
			provider.FailStub(model.MethodGPS),
			provider.FailStub(model.MethodBeacon),
			provider.SuccessStub(model.MethodQR, "Pump Station A"),
		)
		s := newTestSession()
		ctx := context.Background()

		steps := []model.Step{s.Step}
		require.NoError(t, seq.Begin(ctx, s))
		steps = append(steps, s.Step)
		require.NoError(t, seq.Skip(ctx, s))
		steps = append(steps, s.Step)
		require.NoError(t, seq.SubmitForm(ctx, s, validForm()))
		steps = append(steps, s.Step)
		require.NoError(t, seq.CapturePhoto(ctx, s, true))
		steps = append(steps, s.Step)
		return steps
	}

	first := run()
	require.Equal(t, []model.Step{
		model.StepStart, model.StepGPS, model.StepForm, model.StepPhoto, model.StepComplete,
	}, first)
	require.Equal(t, first, run())
}

func TestIndependentSessionsDoNotInterfere(t *testing.T) {
	seq, sub := newTestSequencer(t,
		provider.SuccessStub(model.MethodGPS, ""),
		provider.SuccessStub(model.MethodBeacon, "Pump Station A"),
		provider.FailStub(model.MethodQR),
	)
	ctx := context.Background()

	const n = 8
	sessions := make([]*model.Session, n)
	for i := range sessions {
		sessions[i] = newTestSession()
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *model.Session) {
			defer wg.Done()
			require.NoError(t, seq.Begin(ctx, s))
			require.NoError(t, seq.SubmitForm(ctx, s, validForm()))
			require.NoError(t, seq.CapturePhoto(ctx, s, true))
		}(s)
	}
	wg.Wait()

	require.Equal(t, n, sub.count())
	for _, s := range sessions {
		require.Equal(t, model.StepComplete, s.Step)
		require.NoError(t, model.CheckInvariants(s))
	}
}
