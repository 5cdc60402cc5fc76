package recognition

import (
	"context"
	"testing"
)

func TestMockRecognizerFinalCadence(t *testing.T) {
	engine := NewMockEngine()
	defer engine.Close()

	rec, err := engine.NewRecognizer(context.Background())
	if err != nil {
		t.Fatalf("NewRecognizer failed: %v", err)
	}
	defer rec.Close()

	pcm := make([]byte, 3200)

	for i := 1; i <= 25; i++ {
		result, err := rec.Accept(context.Background(), pcm)
		if err != nil {
			t.Fatalf("Accept %d failed: %v", i, err)
		}

		wantFinal := i%10 == 0
		if result.Final() != wantFinal {
			t.Errorf("accept %d: final = %v, want %v", i, result.Final(), wantFinal)
		}

		if wantFinal && result.Text != "Mock final transcription result" {
			t.Errorf("accept %d: unexpected final text %q", i, result.Text)
		}
	}
}

func TestMockRecognizerFinalize(t *testing.T) {
	engine := NewMockEngine()
	defer engine.Close()

	rec, err := engine.NewRecognizer(context.Background())
	if err != nil {
		t.Fatalf("NewRecognizer failed: %v", err)
	}

	result, err := rec.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if !result.Final() {
		t.Error("Finalize should return a final result")
	}

	if result.Text != "Mock final session result" {
		t.Errorf("unexpected finalize text %q", result.Text)
	}
}

func TestMockEngineClosed(t *testing.T) {
	engine := NewMockEngine()
	engine.Close()

	if _, err := engine.NewRecognizer(context.Background()); err != ErrUnavailable {
		t.Errorf("NewRecognizer after Close: err = %v, want ErrUnavailable", err)
	}
}

func TestMockEngineStats(t *testing.T) {
	engine := NewMockEngine()
	defer engine.Close()

	for i := 0; i < 3; i++ {
		if _, err := engine.NewRecognizer(context.Background()); err != nil {
			t.Fatalf("NewRecognizer failed: %v", err)
		}
	}

	if got := engine.Stats().RecognizersCreated; got != 3 {
		t.Errorf("RecognizersCreated = %d, want 3", got)
	}
}
