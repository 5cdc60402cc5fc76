package recognition

import (
	"context"
	"fmt"
	"sync"
)

// MockEngine is the test/development recognition variant. It produces
// recognizers that emit a deterministic final result on every tenth accepted
// buffer and numbered partial hypotheses in between.
type MockEngine struct {
	mu      sync.Mutex
	closed  bool
	created uint64
}

// NewMockEngine creates the mock recognition engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// NewRecognizer implements Engine.
func (e *MockEngine) NewRecognizer(ctx context.Context) (Recognizer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrUnavailable
	}

	e.created++
	return &mockRecognizer{}, nil
}

// Stats implements Engine.
func (e *MockEngine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStats{RecognizersCreated: e.created}
}

// Close implements Engine.
func (e *MockEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// finalEvery controls how often the mock recognizer commits a final result.
const finalEvery = 10

type mockRecognizer struct {
	accepts int
	closed  bool
}

func (r *mockRecognizer) Accept(ctx context.Context, pcm []byte) (Result, error) {
	if r.closed {
		return Result{}, fmt.Errorf("recognizer is closed")
	}

	r.accepts++
	if r.accepts%finalEvery == 0 {
		return Result{
			Type:       ResultFinal,
			Text:       "Mock final transcription result",
			Confidence: 0.95,
		}, nil
	}

	return Result{
		Type: ResultPartial,
		Text: fmt.Sprintf("Mock partial result %d", r.accepts),
	}, nil
}

func (r *mockRecognizer) Finalize(ctx context.Context) (Result, error) {
	if r.closed {
		return Result{}, fmt.Errorf("recognizer is closed")
	}

	return Result{
		Type:       ResultFinal,
		Text:       "Mock final session result",
		Confidence: 0.92,
	}, nil
}

func (r *mockRecognizer) Close() error {
	r.closed = true
	return nil
}
