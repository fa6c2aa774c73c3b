package provider

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

// SimulatedConfig tunes a simulated provider. Real sensor integration is out
// of scope; these stand in for hardware while keeping the same contract.
type SimulatedConfig struct {
	SuccessRate float64       // probability an attempt succeeds, [0,1]
	Latency     time.Duration // time a check takes to settle
	Timeout     time.Duration // internal deadline; a slower check resolves failed
	Seed        int64         // 0 means time-seeded
}

// Simulated is a verification provider that resolves by coin flip after a
// fixed latency. It honors context cancellation and its own timeout, so an
// attempt never outlives the step that started it.
type Simulated struct {
	method model.Method
	cfg    SimulatedConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated builds a simulated provider for the given method.
func NewSimulated(method model.Method, cfg SimulatedConfig) *Simulated {
	if cfg.Latency <= 0 {
		cfg.Latency = 150 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		method: method,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulated) Method() model.Method { return s.method }

// Attempt settles after the configured latency. Latency beyond the internal
// timeout resolves failed with a timeout category, never an indefinite hang.
func (s *Simulated) Attempt(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	timer := time.NewTimer(s.cfg.Latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Result{Outcome: model.OutcomeFailed, Detail: "check timed out"},
				NewAttemptError(ErrorTimeout, s.method, "check timed out", ctx.Err())
		}
		return Result{Outcome: model.OutcomeFailed, Detail: "attempt canceled"},
			NewAttemptError(ErrorCanceled, s.method, "attempt canceled", ctx.Err())
	case <-timer.C:
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll >= s.cfg.SuccessRate {
		return Result{Outcome: model.OutcomeFailed, Detail: "no signal match"}, nil
	}
	return s.success(req), nil
}

func (s *Simulated) success(req Request) Result {
	switch s.method {
	case model.MethodGPS:
		return Result{
			Outcome: model.OutcomeSuccess,
			Coordinates: &model.Coordinates{
				Latitude:  40.7128 + s.jitter(),
				Longitude: -74.0060 + s.jitter(),
			},
		}
	default:
		name := req.Location.Name
		if name == "" {
			name = "Unknown Site"
		}
		return Result{Outcome: model.OutcomeSuccess, Location: name}
	}
}

func (s *Simulated) jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.rng.Float64() - 0.5) / 1000
}

// Stub is a fixed-outcome provider for deterministic tests.
type Stub struct {
	MethodName model.Method
	Results    []Result // consumed in order; last one repeats
	Errs       []error

	mu sync.Mutex
	n  int
}

func (s *Stub) Method() model.Method { return s.MethodName }

func (s *Stub) Attempt(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: model.OutcomeFailed}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Results) == 0 {
		return Result{Outcome: model.OutcomeFailed, Detail: "stub: no result configured"}, nil
	}
	i := s.n
	if i >= len(s.Results) {
		i = len(s.Results) - 1
	}
	s.n++
	var err error
	if i < len(s.Errs) {
		err = s.Errs[i]
	}
	return s.Results[i], err
}

// SuccessStub returns a stub that always succeeds with the given location or,
// for GPS, fixed coordinates.
func SuccessStub(m model.Method, location string) *Stub {
	if m == model.MethodGPS {
		return &Stub{MethodName: m, Results: []Result{{
			Outcome:     model.OutcomeSuccess,
			Coordinates: &model.Coordinates{Latitude: 40.7128, Longitude: -74.0060},
		}}}
	}
	return &Stub{MethodName: m, Results: []Result{{
		Outcome:  model.OutcomeSuccess,
		Location: location,
	}}}
}

// FailStub returns a stub that always fails.
func FailStub(m model.Method) *Stub {
	return &Stub{MethodName: m, Results: []Result{{
		Outcome: model.OutcomeFailed,
		Detail:  fmt.Sprintf("%s unavailable", m),
	}}}
}
