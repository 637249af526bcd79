package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/fingerprint"
	"github.com/kozaktomas/face-gate/internal/gate"
)

func enrollRequest(t *testing.T, user, img string) *http.Request {
	t.Helper()
	req := uploadRequest(t, "/api/v1/users/"+user+"/assess_image_quality",
		constants.UploadFormField, "face.jpg", []byte(img))
	return requestWithChiParams(req, map[string]string{"user_id": user})
}

func identifyRequest(t *testing.T, img string) *http.Request {
	t.Helper()
	return uploadRequest(t, "/api/v1/users/identify", constants.UploadFormField, "face.jpg", []byte(img))
}

func decodeAssess(t *testing.T, rec *httptest.ResponseRecorder) AssessResponse {
	t.Helper()
	var resp AssessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp
}

func decodeIdentify(t *testing.T, rec *httptest.ResponseRecorder) IdentifyResponse {
	t.Helper()
	var resp IdentifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp
}

func waitSignal(t *testing.T, env *testEnv) gate.Signal {
	t.Helper()
	select {
	case s := <-env.notifier.Sent():
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no gate signal sent")
		return ""
	}
}

func TestAssessImageQuality_FirstEnrollment(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.SetFace([]byte("alice-1"), aliceFace)

	rec := httptest.NewRecorder()
	env.handler.AssessImageQuality(rec, enrollRequest(t, "alice", "alice-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeAssess(t, rec); !resp.IsImageValid {
		t.Error("expected is_image_valid true")
	}
	if env.store.Count() != 1 {
		t.Errorf("store count = %d, want 1", env.store.Count())
	}
	if got := env.store.Label(0); got != "alice" {
		t.Errorf("label = %s, want alice", got)
	}
}

func TestAssessImageQuality_Unusable(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.SetAssessment([]byte("blurry"), fingerprint.Assessment{Usable: false, Score: 0.2, Embedding: aliceFace})

	rec := httptest.NewRecorder()
	env.handler.AssessImageQuality(rec, enrollRequest(t, "alice", "blurry"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if resp := decodeAssess(t, rec); resp.IsImageValid {
		t.Error("expected is_image_valid false")
	}
	if !env.store.IsEmpty() {
		t.Error("unusable image must not be ingested")
	}
}

func TestAssessImageQuality_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, env *testEnv)
		img     string
		status  int
		message string
	}{
		{
			name:   "duplicate image",
			setup:  func(t *testing.T, env *testEnv) { env.seed(t, "alice", "alice-1", aliceFace) },
			img:    "alice-1",
			status: http.StatusBadRequest,
		},
		{
			name:    "no face",
			setup:   func(t *testing.T, env *testEnv) {},
			img:     "landscape",
			status:  http.StatusBadRequest,
			message: fingerprint.ErrNoFace.Error(),
		},
		{
			name: "quality policy",
			setup: func(t *testing.T, env *testEnv) {
				env.oracle.AssessError = &fingerprint.QualityError{Reason: "Face is too small"}
			},
			img:     "tiny",
			status:  http.StatusBadRequest,
			message: "Face is too small",
		},
		{
			name:    "oracle down",
			setup:   func(t *testing.T, env *testEnv) { env.oracle.AssessError = errors.New("connection refused") },
			img:     "alice-2",
			status:  http.StatusInternalServerError,
			message: constants.GenericErrorMessage,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			tc.setup(t, env)
			before := env.store.Count()

			rec := httptest.NewRecorder()
			env.handler.AssessImageQuality(rec, enrollRequest(t, "alice", tc.img))

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			resp := decodeAssess(t, rec)
			if resp.IsImageValid {
				t.Error("expected is_image_valid false")
			}
			if resp.Message == "" {
				t.Error("expected a message")
			}
			if tc.message != "" && resp.Message != tc.message {
				t.Errorf("message = %q, want %q", resp.Message, tc.message)
			}
			if env.store.Count() != before {
				t.Errorf("store count changed from %d to %d", before, env.store.Count())
			}
		})
	}
}

func TestAssessImageQuality_IdentityConflict(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "alice-1", aliceFace)
	env.oracle.SetFace([]byte("alice-2"), nearAlice)

	rec := httptest.NewRecorder()
	env.handler.AssessImageQuality(rec, enrollRequest(t, "bob", "alice-2"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ConflictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Label != "alice" {
		t.Errorf("label = %q, want alice", resp.Label)
	}
	if env.store.Count() != 1 {
		t.Errorf("store count = %d, want 1", env.store.Count())
	}
}

func TestAssessImageQuality_SameIdentitySecondPhoto(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "alice-1", aliceFace)
	env.oracle.SetFace([]byte("alice-2"), nearAlice)

	rec := httptest.NewRecorder()
	env.handler.AssessImageQuality(rec, enrollRequest(t, "alice", "alice-2"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if env.store.Count() != 2 {
		t.Errorf("store count = %d, want 2", env.store.Count())
	}
}

func TestAssessImageQuality_MissingImage(t *testing.T) {
	env := newTestEnv(t)
	req := requestWithChiParams(uploadRequest(t, "/", "", "", nil), map[string]string{"user_id": "alice"})

	rec := httptest.NewRecorder()
	env.handler.AssessImageQuality(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if resp := decodeAssess(t, rec); resp.Message != errMissingImage {
		t.Errorf("message = %q", resp.Message)
	}
	if env.oracle.AssessCalls != 0 {
		t.Error("oracle must not be called for a malformed request")
	}
}

func TestAssessImageQuality_MissingUser(t *testing.T) {
	env := newTestEnv(t)
	req := uploadRequest(t, "/", constants.UploadFormField, "face.jpg", []byte("x"))

	rec := httptest.NewRecorder()
	env.handler.AssessImageQuality(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestIdentify_EmptyIndex(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.SetFace([]byte("alice-1"), aliceFace)

	rec := httptest.NewRecorder()
	env.handler.Identify(rec, identifyRequest(t, "alice-1"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	resp := decodeIdentify(t, rec)
	if resp.Identified || resp.Message == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if env.oracle.EmbedCalls != 0 {
		t.Error("oracle must not be called on an empty index")
	}
}

func TestIdentify_NewExemplar(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "alice-1", aliceFace)
	env.seed(t, "bob", "bob-1", bobFace)
	env.oracle.SetFace([]byte("alice-2"), nearAlice)

	rec := httptest.NewRecorder()
	env.handler.Identify(rec, identifyRequest(t, "alice-2"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeIdentify(t, rec)
	if !resp.Identified || resp.Message != "alice" || resp.Similarity != 95 {
		t.Errorf("unexpected response %+v", resp)
	}
	if env.store.Count() != 3 {
		t.Errorf("store count = %d, want 3", env.store.Count())
	}
	if s := waitSignal(t, env); s != gate.SignalNewExemplar {
		t.Errorf("signal = %q, want %q", s, gate.SignalNewExemplar)
	}
}

func TestIdentify_KnownImage(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", "alice-1", aliceFace)

	rec := httptest.NewRecorder()
	env.handler.Identify(rec, identifyRequest(t, "alice-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decodeIdentify(t, rec)
	if resp.Message != "alice" || resp.Similarity != 100 {
		t.Errorf("unexpected response %+v", resp)
	}
	if env.store.Count() != 1 {
		t.Errorf("known image must not be ingested again, count = %d", env.store.Count())
	}
	if s := waitSignal(t, env); s != gate.SignalKnownImage {
		t.Errorf("signal = %q, want %q", s, gate.SignalKnownImage)
	}
}

func TestIdentify_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, env *testEnv)
		img     string
		status  int
		message string
	}{
		{
			name:   "stranger",
			setup:  func(t *testing.T, env *testEnv) { env.oracle.SetFace([]byte("carol-1"), stranger) },
			img:    "carol-1",
			status: http.StatusBadRequest,
		},
		{
			name:    "no face",
			setup:   func(t *testing.T, env *testEnv) {},
			img:     "landscape",
			status:  http.StatusBadRequest,
			message: fingerprint.ErrNoFace.Error(),
		},
		{
			name:    "oracle down",
			setup:   func(t *testing.T, env *testEnv) { env.oracle.EmbedError = errors.New("timeout") },
			img:     "alice-2",
			status:  http.StatusInternalServerError,
			message: constants.GenericErrorMessage,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seed(t, "alice", "alice-1", aliceFace)
			tc.setup(t, env)

			rec := httptest.NewRecorder()
			env.handler.Identify(rec, identifyRequest(t, tc.img))

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			resp := decodeIdentify(t, rec)
			if resp.Identified {
				t.Error("expected identified false")
			}
			if resp.Message == "" {
				t.Error("expected a message")
			}
			if tc.message != "" && resp.Message != tc.message {
				t.Errorf("message = %q, want %q", resp.Message, tc.message)
			}
			if env.store.Count() != 1 {
				t.Errorf("store count = %d, want 1", env.store.Count())
			}
			if got := env.notifier.Signals(); len(got) != 0 {
				t.Errorf("unexpected gate signals %v", got)
			}
		})
	}
}
