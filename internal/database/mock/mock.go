// Package mock provides mock implementations of the face-gate interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/fingerprint"
	"github.com/kozaktomas/face-gate/internal/gate"
)

// MockOracle is a mock implementation of fingerprint.Oracle. Responses are
// keyed by the exact image bytes.
type MockOracle struct {
	mu          sync.Mutex
	assessments map[string]fingerprint.Assessment
	embeddings  map[string][]float32

	// Error injection
	AssessError error
	EmbedError  error

	AssessCalls int
	EmbedCalls  int
}

// NewMockOracle creates a new mock oracle
func NewMockOracle() *MockOracle {
	return &MockOracle{
		assessments: make(map[string]fingerprint.Assessment),
		embeddings:  make(map[string][]float32),
	}
}

// SetFace registers a usable face for image; both Assess and Embed return embedding.
func (m *MockOracle) SetFace(image []byte, embedding []float32) {
	m.SetAssessment(image, fingerprint.Assessment{Usable: true, Score: 0.9, Embedding: embedding})
}

// SetAssessment registers the assessment returned for image.
func (m *MockOracle) SetAssessment(image []byte, a fingerprint.Assessment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments[string(image)] = a
	m.embeddings[string(image)] = a.Embedding
}

// Assess returns the registered assessment, or ErrNoFace for unknown images.
func (m *MockOracle) Assess(ctx context.Context, image []byte) (fingerprint.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AssessCalls++
	if m.AssessError != nil {
		return fingerprint.Assessment{}, m.AssessError
	}
	a, ok := m.assessments[string(image)]
	if !ok {
		return fingerprint.Assessment{}, fingerprint.ErrNoFace
	}
	return a, nil
}

// Embed returns the registered embedding, or ErrNoFace for unknown images.
func (m *MockOracle) Embed(ctx context.Context, image []byte) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmbedCalls++
	if m.EmbedError != nil {
		return nil, m.EmbedError
	}
	emb, ok := m.embeddings[string(image)]
	if !ok {
		return nil, fingerprint.ErrNoFace
	}
	return emb, nil
}

// MockNotifier is a mock implementation of gate.Notifier that records signals.
type MockNotifier struct {
	mu      sync.Mutex
	signals []gate.Signal
	sent    chan gate.Signal

	NotifyError error
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{sent: make(chan gate.Signal, 64)}
}

// Notify records the signal
func (m *MockNotifier) Notify(ctx context.Context, signal gate.Signal) error {
	m.mu.Lock()
	m.signals = append(m.signals, signal)
	err := m.NotifyError
	m.mu.Unlock()
	m.sent <- signal
	return err
}

// Sent returns the channel every notified signal is copied to.
func (m *MockNotifier) Sent() <-chan gate.Signal { return m.sent }

// Signals returns the signals received so far
func (m *MockNotifier) Signals() []gate.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gate.Signal, len(m.signals))
	copy(out, m.signals)
	return out
}

// MockMirror is a mock implementation of database.Mirror
type MockMirror struct {
	mu      sync.Mutex
	entries map[string]database.Entry
	pushed  chan database.Entry

	PushError  error
	CountError error
	Closed     bool
}

// NewMockMirror creates a new mock mirror
func NewMockMirror() *MockMirror {
	return &MockMirror{
		entries: make(map[string]database.Entry),
		pushed:  make(chan database.Entry, 64),
	}
}

// Push stores the entry keyed by content hash
func (m *MockMirror) Push(ctx context.Context, entry database.Entry) error {
	m.mu.Lock()
	err := m.PushError
	if err == nil {
		m.entries[entry.Record.ContentHash] = entry
	}
	m.mu.Unlock()
	m.pushed <- entry
	return err
}

// Pushed returns the channel every pushed entry is copied to.
func (m *MockMirror) Pushed() <-chan database.Entry { return m.pushed }

// Get returns the mirrored entry for hash
func (m *MockMirror) Get(hash string) (database.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[hash]
	return e, ok
}

// Count returns the number of mirrored entries
func (m *MockMirror) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountError != nil {
		return 0, m.CountError
	}
	return len(m.entries), nil
}

// Close marks the mirror closed
func (m *MockMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
