package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTripIsLossless(t *testing.T) {
	temp := 18.2
	s := NewSession(LocationContext{
		ID:             "loc-1",
		Name:           "Pump Station A",
		Address:        "12 Dock Rd",
		Type:           "pump-station",
		EquipmentCount: 4,
	}, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	s.Step = StepComplete
	s.Results[MethodGPS] = OutcomeSuccess
	s.Results[MethodBeacon] = OutcomeSuccess
	s.ResolvedLocation = "Pump Station A"
	s.Coordinates = &Coordinates{Latitude: 40.7128, Longitude: -74.0060}
	s.Form = FormData{EquipmentCondition: ConditionFair, Notes: "seal wear", Temperature: &temp}
	s.PhotoEvidence = true
	s.EvidenceRef = "photo-abc"
	s.SubmissionStatus = SubmissionQueued
	s.CompletedAtUnix = s.CreatedAtUnix + 600

	data, err := EncodeSnapshot(s)
	require.NoError(t, err)

	got, err := DecodeSnapshot(data)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(s, got))
}

func TestSnapshotEnumsSerializeAsStrings(t *testing.T) {
	s := NewSession(LocationContext{ID: "loc-1"}, time.Now())
	s.Step = StepQR
	s.Results[MethodQR] = OutcomeChecking

	data, err := EncodeSnapshot(s)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.JSONEq(t, `"qr"`, string(raw["currentStep"]))
	require.JSONEq(t, `"unsubmitted"`, string(raw["submissionStatus"]))

	var results map[string]string
	require.NoError(t, json.Unmarshal(raw["verificationResults"], &results))
	require.Equal(t, "checking", results["qr"])
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not json"))
	require.Error(t, err)

	_, err = DecodeSnapshot([]byte(`{"currentStep":"gps"}`))
	require.Error(t, err, "missing session id")

	_, err = EncodeSnapshot(nil)
	require.Error(t, err)
}

func TestDecodeSnapshotBackfillsResults(t *testing.T) {
	got, err := DecodeSnapshot([]byte(`{"sessionId":"s-1","currentStep":"start"}`))
	require.NoError(t, err)
	for _, m := range Methods() {
		require.Equal(t, OutcomeIdle, got.Outcome(m))
	}
}

func TestCheckInvariants(t *testing.T) {
	base := func() *Session {
		s := NewSession(LocationContext{ID: "loc-1", Name: "Pump Station A"}, time.Now())
		s.Step = StepComplete
		s.Results[MethodBeacon] = OutcomeSuccess
		s.ResolvedLocation = "Pump Station A"
		s.Form = FormData{EquipmentCondition: ConditionGood, Notes: "ok"}
		s.PhotoEvidence = true
		return s
	}
	require.NoError(t, CheckInvariants(base()))

	tests := []struct {
		name   string
		mutate func(*Session)
	}{
		{name: "complete without photo", mutate: func(s *Session) { s.PhotoEvidence = false }},
		{name: "complete without form", mutate: func(s *Session) { s.Form = FormData{} }},
		{name: "no resolved location", mutate: func(s *Session) { s.ResolvedLocation = "" }},
		{name: "no verification nor override", mutate: func(s *Session) { s.Results[MethodBeacon] = OutcomeFailed }},
		{name: "override without reason", mutate: func(s *Session) { s.ManualOverride = true; s.OverrideReason = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := base()
			tc.mutate(s)
			require.Error(t, CheckInvariants(s))
		})
	}
}
