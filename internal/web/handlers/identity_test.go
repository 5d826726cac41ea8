package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/asset-guard/internal/constants"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"github.com/kozaktomas/asset-guard/internal/identity"
)

type fakeVerifier struct {
	result    identity.Result
	err       error
	reference []byte
	capture   []byte
}

func (f *fakeVerifier) VerifyBytes(_ context.Context, reference, capture []byte) (identity.Result, error) {
	f.reference, f.capture = reference, capture
	return f.result, f.err
}

type fakeLiveness struct {
	result  identity.LivenessResult
	err     error
	offsets []time.Duration
}

func (f *fakeLiveness) Check(ctx context.Context, src identity.FrameSource) (identity.LivenessResult, error) {
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return identity.LivenessResult{}, err
		}
		f.offsets = append(f.offsets, frame.Offset)
	}
	return f.result, f.err
}

func TestIdentityHandler_Verify(t *testing.T) {
	similarity := 0.91
	verifier := &fakeVerifier{result: identity.Result{
		Status:     identity.StatusVerified,
		Path:       identity.PathEmbedding,
		Similarity: &similarity,
		Threshold:  0.82,
		Faces:      1,
	}}
	handler := NewIdentityHandler(verifier, nil, nil)

	ref, capture := testImage(t, 40, 40), testImage(t, 50, 50)
	req := multipartRequest(t, "/api/v1/identity/verify", map[string][][]byte{
		"reference": {ref},
		"capture":   {capture},
	}, nil)
	recorder := httptest.NewRecorder()

	handler.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result identity.Result
	parseJSONResponse(t, recorder, &result)
	if result.Status != identity.StatusVerified || result.Similarity == nil || *result.Similarity != 0.91 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(verifier.reference) != len(ref) || len(verifier.capture) != len(capture) {
		t.Error("verifier did not receive the uploaded images")
	}
}

func TestIdentityHandler_Verify_Errors(t *testing.T) {
	tests := []struct {
		name     string
		verifier Verifier
		files    map[string][][]byte
		status   int
		message  string
	}{
		{
			name:    "not configured",
			files:   map[string][][]byte{"reference": {{1}}, "capture": {{1}}},
			status:  http.StatusServiceUnavailable,
			message: "identity verification is not configured",
		},
		{
			name:     "missing capture",
			verifier: &fakeVerifier{},
			files:    map[string][][]byte{"reference": {{1}}},
			status:   http.StatusBadRequest,
			message:  "capture is required",
		},
		{
			name:     "decode error",
			verifier: &fakeVerifier{err: fmt.Errorf("capture: %w", fingerprint.ErrDecode)},
			files:    map[string][][]byte{"reference": {{1}}, "capture": {{1}}},
			status:   http.StatusBadRequest,
			message:  "capture: " + fingerprint.ErrDecode.Error(),
		},
		{
			name:     "comparison unavailable",
			verifier: &fakeVerifier{err: identity.ErrComparisonUnavailable},
			files:    map[string][][]byte{"reference": {{1}}, "capture": {{1}}},
			status:   http.StatusUnprocessableEntity,
			message:  identity.ErrComparisonUnavailable.Error(),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewIdentityHandler(tc.verifier, nil, nil)
			recorder := httptest.NewRecorder()

			handler.Verify(recorder, multipartRequest(t, "/api/v1/identity/verify", tc.files, nil))

			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestIdentityHandler_Liveness(t *testing.T) {
	liveness := &fakeLiveness{result: identity.LivenessResult{SessionID: "s1", Passed: true, Moved: true, Blinked: true, Frames: 3}}
	handler := NewIdentityHandler(nil, liveness, nil)

	frame := testImage(t, 32, 32)
	req := multipartRequest(t, "/api/v1/identity/liveness",
		map[string][][]byte{"frames": {frame, frame, frame}},
		map[string]string{"interval_ms": "250"})
	recorder := httptest.NewRecorder()

	handler.Liveness(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result identity.LivenessResult
	parseJSONResponse(t, recorder, &result)
	if !result.Passed || result.SessionID != "s1" {
		t.Errorf("unexpected result %+v", result)
	}

	want := []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond}
	if len(liveness.offsets) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(liveness.offsets))
	}
	for i := range want {
		if liveness.offsets[i] != want[i] {
			t.Errorf("frame %d offset = %v; want %v", i, liveness.offsets[i], want[i])
		}
	}
}

func TestIdentityHandler_Liveness_Errors(t *testing.T) {
	frame := testImage(t, 16, 16)
	tooMany := make([][]byte, constants.MaxLivenessFrames+1)
	for i := range tooMany {
		tooMany[i] = []byte{1}
	}

	tests := []struct {
		name    string
		checker LivenessChecker
		files   map[string][][]byte
		fields  map[string]string
		status  int
		message string
	}{
		{"not configured", nil, map[string][][]byte{"frames": {frame}}, nil, http.StatusServiceUnavailable, "liveness check is not configured"},
		{"no frames", &fakeLiveness{}, nil, map[string]string{"a": "b"}, http.StatusBadRequest, "frames are required"},
		{"too many frames", &fakeLiveness{}, map[string][][]byte{"frames": tooMany}, nil, http.StatusBadRequest, fmt.Sprintf("at most %d frames are accepted", constants.MaxLivenessFrames)},
		{"bad interval", &fakeLiveness{}, map[string][][]byte{"frames": {frame}}, map[string]string{"interval_ms": "-5"}, http.StatusBadRequest, "invalid interval_ms"},
		{"undecodable frame", &fakeLiveness{}, map[string][][]byte{"frames": {frame, []byte("junk")}}, nil, http.StatusBadRequest, "frame 1: " + fingerprint.ErrDecode.Error() + ": image: unknown format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewIdentityHandler(nil, tc.checker, nil)
			recorder := httptest.NewRecorder()

			handler.Liveness(recorder, multipartRequest(t, "/api/v1/identity/liveness", tc.files, tc.fields))

			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.message)
		})
	}
}
