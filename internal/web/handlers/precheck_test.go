package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"github.com/kozaktomas/asset-guard/internal/precheck"
)

type fakeGate struct {
	decision *precheck.Decision
	err      error
	fileName string
}

func (f *fakeGate) Evaluate(_ context.Context, _ []byte, fileName string) (*precheck.Decision, error) {
	f.fileName = fileName
	return f.decision, f.err
}

type fakeStore struct {
	decisions map[string]*precheck.Decision
	err       error
}

func (f *fakeStore) Get(_ context.Context, id string) (*precheck.Decision, error) {
	return f.decisions[id], f.err
}

const testDecisionID = "6f1c9f62-7a3e-4b0e-9a51-3f2d6c1b8e20"

func TestPrecheckHandler_Evaluate(t *testing.T) {
	gate := &fakeGate{decision: &precheck.Decision{
		ID:      testDecisionID,
		Verdict: precheck.VerdictReview,
		Reasons: []string{"duplicate scan incomplete: duplicate check timed out"},
	}}
	handler := NewPrecheckHandler(gate, nil, nil)

	recorder := httptest.NewRecorder()
	handler.Evaluate(recorder, multipartRequest(t, "/api/v1/precheck", map[string][][]byte{"file": {testImage(t, 30, 30)}}, nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var d precheck.Decision
	parseJSONResponse(t, recorder, &d)
	if d.Verdict != precheck.VerdictReview || d.ID != testDecisionID {
		t.Errorf("unexpected decision %+v", d)
	}
	if gate.fileName != "file-0.png" {
		t.Errorf("gate received file name %q", gate.fileName)
	}
}

func TestPrecheckHandler_Evaluate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"decode", fingerprint.ErrDecode, http.StatusBadRequest, "failed to decode image"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "precheck failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewPrecheckHandler(&fakeGate{err: tc.err}, nil, nil)
			recorder := httptest.NewRecorder()

			handler.Evaluate(recorder, multipartRequest(t, "/api/v1/precheck", map[string][][]byte{"file": {{1, 2, 3}}}, nil))

			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestPrecheckHandler_Get(t *testing.T) {
	store := &fakeStore{decisions: map[string]*precheck.Decision{
		testDecisionID: {ID: testDecisionID, Verdict: precheck.VerdictBlock},
	}}

	tests := []struct {
		name    string
		store   DecisionStore
		id      string
		status  int
		message string
	}{
		{"found", store, testDecisionID, http.StatusOK, ""},
		{"not found", store, "00000000-0000-0000-0000-000000000000", http.StatusNotFound, "decision not found"},
		{"invalid id", store, "abc", http.StatusBadRequest, "invalid decision id"},
		{"store error", &fakeStore{err: errors.New("db down")}, testDecisionID, http.StatusInternalServerError, "failed to load decision"},
		{"no store", nil, testDecisionID, http.StatusServiceUnavailable, "decision log is not configured"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewPrecheckHandler(&fakeGate{}, tc.store, nil)
			req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/precheck/"+tc.id, nil), map[string]string{"id": tc.id})
			recorder := httptest.NewRecorder()

			handler.Get(recorder, req)

			assertStatusCode(t, recorder, tc.status)
			if tc.message != "" {
				assertJSONError(t, recorder, tc.message)
				return
			}
			var d precheck.Decision
			parseJSONResponse(t, recorder, &d)
			if d.Verdict != precheck.VerdictBlock {
				t.Errorf("Verdict = %s; want block", d.Verdict)
			}
		})
	}
}
