package handlers

import (
	"bytes"
	"context"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/database/mock"
	"github.com/kozaktomas/face-gate/internal/imagestore"
	"github.com/kozaktomas/face-gate/internal/pipeline"
)

var (
	aliceFace = []float32{1, 0, 0, 0}
	nearAlice = []float32{0.95, float32(math.Sqrt(1 - 0.95*0.95)), 0, 0}
	bobFace   = []float32{0, 1, 0, 0}
	stranger  = []float32{0, 0, 1, 0}
)

type testEnv struct {
	handler  *IdentityHandler
	pipeline *pipeline.Pipeline
	store    *database.Store
	oracle   *mock.MockOracle
	notifier *mock.MockNotifier
}

// newTestEnv wires a handler to a real 4-dimensional store and mock collaborators.
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
	}
	env.pipeline = pipeline.New(store, env.oracle, imagestore.New(t.TempDir()), env.notifier, nil)
	env.handler = NewIdentityHandler(env.pipeline, nil)
	t.Cleanup(env.pipeline.Wait)
	return env
}

// seed enrolls img as user through the pipeline.
func (e *testEnv) seed(t *testing.T, user, img string, emb []float32) {
	t.Helper()
	e.oracle.SetFace([]byte(img), emb)
	if _, err := e.pipeline.Enroll(context.Background(), pipeline.Upload{
		Data: []byte(img), Filename: "seed.jpg", UserID: user,
	}); err != nil {
		t.Fatalf("seeding %s failed: %v", user, err)
	}
}

// uploadRequest builds a multipart POST carrying data in field.
func uploadRequest(t *testing.T, path, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		part.Write(data)
	} else {
		mw.WriteField("note", "no file")
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
