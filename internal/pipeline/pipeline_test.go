package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/database/mock"
	"github.com/kozaktomas/face-gate/internal/fingerprint"
	"github.com/kozaktomas/face-gate/internal/gate"
	"github.com/kozaktomas/face-gate/internal/imagestore"
)

var (
	aliceFace = []float32{1, 0, 0, 0}
	nearAlice = []float32{0.92, float32(math.Sqrt(1 - 0.92*0.92)), 0, 0}
	stranger  = []float32{0, 0, 1, 0}
)

type testEnv struct {
	pipeline *Pipeline
	store    *database.Store
	oracle   *mock.MockOracle
	notifier *mock.MockNotifier
	dataDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := database.OpenStore(database.StoreConfig{Dir: t.TempDir(), Dim: 4})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	env := &testEnv{
		store:    store,
		oracle:   mock.NewMockOracle(),
		notifier: mock.NewMockNotifier(),
		dataDir:  t.TempDir(),
	}
	env.pipeline = New(store, env.oracle, imagestore.New(env.dataDir), env.notifier, nil)
	return env
}

// enroll registers img with the mock oracle and enrolls it as user.
func (e *testEnv) enroll(t *testing.T, user string, img string, emb []float32) {
	t.Helper()
	e.oracle.SetFace([]byte(img), emb)
	res, err := e.pipeline.Enroll(context.Background(), Upload{Data: []byte(img), Filename: "a.jpg", UserID: user})
	if err != nil {
		t.Fatalf("Enroll(%s) failed: %v", user, err)
	}
	if !res.Usable {
		t.Fatalf("Enroll(%s) not usable", user)
	}
}

func rejectionKind(t *testing.T, err error) *Rejection {
	t.Helper()
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("error = %v, want *Rejection", err)
	}
	return rej
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", dir, err)
	}
	return n
}

func TestEnroll_FreshIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.SetFace([]byte("alice-1"), aliceFace)

	res, err := env.pipeline.Enroll(context.Background(), Upload{Data: []byte("alice-1"), Filename: "me.png", UserID: "alice"})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if !res.Usable {
		t.Fatal("expected usable result")
	}
	if filepath.Ext(res.ImagePath) != ".png" {
		t.Errorf("image path %s should keep the upload extension", res.ImagePath)
	}
	if _, err := os.Stat(res.ImagePath); err != nil {
		t.Errorf("exemplar not on disk: %v", err)
	}

	rec, ok := env.store.Record(0)
	if !ok || rec.UserID != "alice" || rec.ContentHash != fingerprint.ContentHash([]byte("alice-1")) {
		t.Errorf("ledger record = %+v", rec)
	}

	// The enrolled face now identifies itself at full confidence.
	match, err := database.NewMatchEngine(env.store).Identify(aliceFace)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if match.Similarity != 100 || match.Label != "alice" {
		t.Errorf("self match = {%d, %q}, want {100, alice}", match.Similarity, match.Label)
	}
}

func TestEnroll_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "alice", "alice-1", aliceFace)
	calls := env.oracle.AssessCalls

	_, err := env.pipeline.Enroll(context.Background(), Upload{Data: []byte("alice-1"), UserID: "alice"})
	rej := rejectionKind(t, err)
	if rej.Kind != KindDuplicateImage {
		t.Errorf("Kind = %s, want %s", rej.Kind, KindDuplicateImage)
	}
	if env.oracle.AssessCalls != calls {
		t.Error("duplicate upload should not reach the oracle")
	}
	if env.store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", env.store.Count())
	}
}

func TestEnroll_FaceDetectionErrors(t *testing.T) {
	tests := []struct {
		name        string
		assessErr   error
		wantMessage string
	}{
		{"no face", fingerprint.ErrNoFace, fingerprint.ErrNoFace.Error()},
		{"quality policy", &fingerprint.QualityError{Reason: "Face is too tilted."}, "Face is too tilted."},
		{"wrapped", errors.Join(errors.New("ctx"), fingerprint.ErrNoFace), ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.oracle.AssessError = tc.assessErr

			_, err := env.pipeline.Enroll(context.Background(), Upload{Data: []byte("x"), UserID: "alice"})
			rej := rejectionKind(t, err)
			if rej.Kind != KindFaceDetection {
				t.Errorf("Kind = %s, want %s", rej.Kind, KindFaceDetection)
			}
			if tc.wantMessage != "" && rej.Message != tc.wantMessage {
				t.Errorf("Message = %q, want %q", rej.Message, tc.wantMessage)
			}
			if env.store.Count() != 0 {
				t.Error("failed detection must not ingest")
			}
		})
	}
}

func TestEnroll_Unusable(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.SetAssessment([]byte("blurry"), fingerprint.Assessment{Usable: false, Score: 0.2, Embedding: aliceFace})

	res, err := env.pipeline.Enroll(context.Background(), Upload{Data: []byte("blurry"), UserID: "alice"})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if res.Usable {
		t.Error("expected unusable result")
	}
	if env.store.Count() != 0 {
		t.Errorf("unusable photo must not be ingested, Count() = %d", env.store.Count())
	}
	if countFiles(t, env.dataDir) != 0 {
		t.Error("unusable photo must not be stored")
	}
}

func TestEnroll_IdentityConflict(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "alice", "alice-1", aliceFace)
	env.oracle.SetFace([]byte("bob-claims"), nearAlice)

	_, err := env.pipeline.Enroll(context.Background(), Upload{Data: []byte("bob-claims"), UserID: "bob"})
	rej := rejectionKind(t, err)
	if rej.Kind != KindIdentityConflict {
		t.Fatalf("Kind = %s, want %s", rej.Kind, KindIdentityConflict)
	}
	if rej.Label != "alice" {
		t.Errorf("Label = %q, want alice", rej.Label)
	}
	if env.store.Count() != 1 {
		t.Errorf("conflict must not ingest, Count() = %d", env.store.Count())
	}
	if countFiles(t, env.dataDir) != 1 {
		t.Error("conflicting photo must not be stored")
	}
}

// Labels are opaque: a user enrolled as "Unknown" is matched like anyone else.
func TestUserNamedUnknown(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, database.UnknownLabel, "unknown-1", aliceFace)

	env.oracle.SetFace([]byte("unknown-at-door"), aliceFace)
	res, err := env.pipeline.Identify(context.Background(), Upload{Data: []byte("unknown-at-door")})
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.Label != database.UnknownLabel || res.Similarity != 100 {
		t.Errorf("result = {%q, %d}, want {%q, 100}", res.Label, res.Similarity, database.UnknownLabel)
	}
	waitSignal(t, env.notifier)

	env.oracle.SetFace([]byte("bob-claims"), nearAlice)
	_, err = env.pipeline.Enroll(context.Background(), Upload{Data: []byte("bob-claims"), UserID: "bob"})
	rej := rejectionKind(t, err)
	if rej.Kind != KindIdentityConflict || rej.Label != database.UnknownLabel {
		t.Errorf("rejection = %+v, want identity conflict with %q", rej, database.UnknownLabel)
	}
	if env.store.Count() != 2 {
		t.Errorf("Count() = %d, want 2", env.store.Count())
	}
}

func TestEnroll_SameIdentityAccumulates(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "alice", "alice-1", aliceFace)
	env.enroll(t, "alice", "alice-2", nearAlice)
	env.enroll(t, "carol", "carol-1", stranger)

	if env.store.Count() != 3 {
		t.Errorf("Count() = %d, want 3", env.store.Count())
	}
	if env.store.Label(2) != "carol" {
		t.Errorf("Label(2) = %q, want carol", env.store.Label(2))
	}
}

func TestIdentify_EmptyIndex(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.SetFace([]byte("anyone"), aliceFace)

	_, err := env.pipeline.Identify(context.Background(), Upload{Data: []byte("anyone")})
	if rej := rejectionKind(t, err); rej.Kind != KindEmptyIndex {
		t.Errorf("Kind = %s, want %s", rej.Kind, KindEmptyIndex)
	}
	if env.oracle.EmbedCalls != 0 {
		t.Error("empty index should short-circuit before the oracle")
	}
}

func waitSignal(t *testing.T, n *mock.MockNotifier) gate.Signal {
	t.Helper()
	select {
	case s := <-n.Sent():
		return s
	case <-time.After(time.Second):
		t.Fatal("gate was never notified")
		return ""
	}
}

func TestIdentify_FreshExemplar(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "alice", "alice-1", aliceFace)
	env.oracle.SetFace([]byte("alice-at-door"), nearAlice)

	res, err := env.pipeline.Identify(context.Background(), Upload{Data: []byte("alice-at-door"), Filename: "cam.jpg"})
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.Label != "alice" || res.Similarity != 92 {
		t.Errorf("result = {%q, %d}, want {alice, 92}", res.Label, res.Similarity)
	}
	if !res.Ingested || res.Signal != gate.SignalNewExemplar {
		t.Errorf("fresh photo should be ingested with signal 1, got %+v", res)
	}
	if env.store.Count() != 2 || env.store.Label(1) != "alice" {
		t.Errorf("new exemplar should be stored under alice, Count() = %d", env.store.Count())
	}
	if s := waitSignal(t, env.notifier); s != gate.SignalNewExemplar {
		t.Errorf("gate signal = %q, want %q", s, gate.SignalNewExemplar)
	}
}

func TestIdentify_KnownImage(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "alice", "alice-1", aliceFace)

	res, err := env.pipeline.Identify(context.Background(), Upload{Data: []byte("alice-1")})
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.Ingested || res.Signal != gate.SignalKnownImage {
		t.Errorf("known photo should not be ingested, got %+v", res)
	}
	if res.Similarity != 100 {
		t.Errorf("Similarity = %d, want 100", res.Similarity)
	}
	if env.store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", env.store.Count())
	}
	if s := waitSignal(t, env.notifier); s != gate.SignalKnownImage {
		t.Errorf("gate signal = %q, want %q", s, gate.SignalKnownImage)
	}
}

func TestIdentify_NotIdentified(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "alice", "alice-1", aliceFace)
	env.oracle.SetFace([]byte("stranger"), stranger)

	_, err := env.pipeline.Identify(context.Background(), Upload{Data: []byte("stranger")})
	rej := rejectionKind(t, err)
	if rej.Kind != KindNotIdentified {
		t.Errorf("Kind = %s, want %s", rej.Kind, KindNotIdentified)
	}
	if env.store.Count() != 1 {
		t.Error("unidentified photo must not be ingested")
	}
	env.pipeline.Wait()
	if len(env.notifier.Signals()) != 0 {
		t.Error("gate must not be signalled for an unknown face")
	}
}

func TestIdentify_GateFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.NotifyError = errors.New("gate offline")
	env.enroll(t, "alice", "alice-1", aliceFace)

	if _, err := env.pipeline.Identify(context.Background(), Upload{Data: []byte("alice-1")}); err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	env.pipeline.Wait()
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "alice", "alice-1", aliceFace)
	cause := errors.New("connection reset by peer")
	env.oracle.EmbedError = cause

	_, err := env.pipeline.Identify(context.Background(), Upload{Data: []byte("x")})
	rej := rejectionKind(t, err)
	if rej.Kind != KindUnexpected {
		t.Fatalf("Kind = %s, want %s", rej.Kind, KindUnexpected)
	}
	if rej.Message != constants.GenericErrorMessage {
		t.Errorf("Message = %q, want the generic message", rej.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("the original cause should stay reachable for logging")
	}
}

func TestEnroll_WrongEmbeddingWidth(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.SetFace([]byte("odd"), []float32{1, 0})

	_, err := env.pipeline.Enroll(context.Background(), Upload{Data: []byte("odd"), UserID: "alice"})
	if rej := rejectionKind(t, err); rej.Kind != KindUnexpected {
		t.Errorf("Kind = %s, want %s", rej.Kind, KindUnexpected)
	}
	if countFiles(t, env.dataDir) != 0 {
		t.Error("exemplar must be removed when the store rejects the entry")
	}
}
