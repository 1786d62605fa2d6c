package ocr

import (
	"errors"
	"sync"
	"testing"

	"github.com/nexuslabs/docoptic/internal/logging"
	"github.com/nexuslabs/docoptic/internal/ocrerr"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.NewLogger("ocr-test")
}

func mockTransformer(t *testing.T, confidence float64) *TransformerEngine {
	t.Helper()
	return NewTransformerEngine(func(image ImageBytes) ([]LineDetection, error) {
		return []LineDetection{{Text: "<e1-result>", Confidence: confidence, Box: [4]int{0, 0, 10, 10}}}, nil
	}, testLogger(t))
}

func mockTraditional(t *testing.T, confidence float64) Engine {
	t.Helper()
	return &fakeEngine{name: EngineTraditional, confidence: confidence, text: "<e2-result>"}
}

func mockLayout(t *testing.T, confidence float64) Engine {
	t.Helper()
	return &fakeEngine{name: EngineNeuralLayout, confidence: confidence, text: "<e3-result>"}
}

func mockSeq2Seq(t *testing.T, confidence float64) Engine {
	t.Helper()
	return &fakeEngine{name: EngineSeq2Seq, confidence: confidence, text: "<e4-result>"}
}

// fakeEngine is a minimal scripted Engine used only by tests in this
// package; it is not wired into any production path.
type fakeEngine struct {
	name       EngineName
	confidence float64
	text       string
	fail       bool
}

func (f *fakeEngine) Name() EngineName { return f.name }
func (f *fakeEngine) Available() bool  { return true }
func (f *fakeEngine) ExtractText(image ImageBytes) (OcrResult, error) {
	if f.fail {
		return OcrResult{}, ocrerr.NewExhaustedError(string(f.name), errors.New("boom"))
	}
	return OcrResult{Text: f.text, Confidence: f.confidence, Engine: f.name}, nil
}

// freshMEO resets the package-level singleton so each test gets its own
// MultiEngineOCR instance. Only safe because tests in this package never
// run the suite concurrently with t.Parallel().
func freshMEO(t *testing.T, engines []Engine) *MultiEngineOCR {
	t.Helper()
	meoOnce = sync.Once{}
	meoInstance = nil
	return NewMultiEngineOCR(engines, testLogger(t))
}

func TestExtractWithOCR_StrategyStopAtFirst(t *testing.T) {
	engines := []Engine{
		mockTransformer(t, 0.95),
		mockTraditional(t, 0.85),
		mockLayout(t, 0.80),
		mockSeq2Seq(t, 0.75),
	}
	meo := freshMEO(t, engines)

	result, err := meo.ExtractWithOCR(ImageBytes("fake-png-bytes"), StrategyQualityFirst, 0.8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Engine != EngineTransformer {
		t.Fatalf("expected engine e1, got %s", result.Engine)
	}
	if result.Confidence != 0.95 {
		t.Fatalf("expected confidence 0.95, got %f", result.Confidence)
	}
	if result.Text != "<e1-result>" {
		t.Fatalf("expected e1 text, got %q", result.Text)
	}
}

func TestExtractWithOCR_ThresholdFallback(t *testing.T) {
	engines := []Engine{
		mockTransformer(t, 0.6),
		mockTraditional(t, 0.5),
		mockLayout(t, 0.7),
		mockSeq2Seq(t, 0.65),
	}
	meo := freshMEO(t, engines)

	result, err := meo.ExtractWithOCR(ImageBytes("fake-png-bytes"), StrategyQualityFirst, 0.9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Engine != EngineNeuralLayout {
		t.Fatalf("expected best-available engine e3, got %s", result.Engine)
	}
	if result.Confidence != 0.7 {
		t.Fatalf("expected confidence 0.7, got %f", result.Confidence)
	}
}

func TestExtractWithOCR_AllFailing(t *testing.T) {
	engines := []Engine{
		&fakeEngine{name: EngineTransformer, fail: true},
		&fakeEngine{name: EngineTraditional, fail: true},
		&fakeEngine{name: EngineNeuralLayout, fail: true},
		&fakeEngine{name: EngineSeq2Seq, fail: true},
	}
	meo := freshMEO(t, engines)

	result, err := meo.ExtractWithOCR(ImageBytes("fake-png-bytes"), StrategyQualityFirst, 0.8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Engine != EngineNone {
		t.Fatalf("expected synthetic none result, got %s", result.Engine)
	}
	if result.Confidence != 0.0 || result.Text != "" {
		t.Fatalf("expected empty synthetic result, got %+v", result)
	}
	if result.Error == "" {
		t.Fatalf("expected a non-empty diagnostic error string")
	}
}

func TestExtractWithOCR_EmptyInput(t *testing.T) {
	meo := freshMEO(t, []Engine{mockTransformer(t, 0.9)})
	_, err := meo.ExtractWithOCR(ImageBytes(nil), StrategyQualityFirst, 0.8)
	if !errors.Is(err, ocrerr.ErrEmptyInput) {
		t.Fatalf("expected EmptyInput error, got %v", err)
	}
}

func TestExtractWithOCR_RangeError(t *testing.T) {
	meo := freshMEO(t, []Engine{mockTransformer(t, 0.9)})
	_, err := meo.ExtractWithOCR(ImageBytes("x"), StrategyQualityFirst, -0.1)
	if !errors.Is(err, ocrerr.ErrRangeError) {
		t.Fatalf("expected RangeError, got %v", err)
	}
}

func TestExtractWithOCR_InvalidStrategy(t *testing.T) {
	meo := freshMEO(t, []Engine{mockTransformer(t, 0.9)})
	_, err := meo.ExtractWithOCR(ImageBytes("x"), Strategy("nope"), 0.8)
	if !errors.Is(err, ocrerr.ErrInvalidStrategy) {
		t.Fatalf("expected InvalidStrategy, got %v", err)
	}
}

func TestExtractWithOCR_NoEngines(t *testing.T) {
	meo := freshMEO(t, nil)
	_, err := meo.ExtractWithOCR(ImageBytes("x"), StrategyQualityFirst, 0.8)
	if !errors.Is(err, ocrerr.ErrNoEngines) {
		t.Fatalf("expected NoEngines, got %v", err)
	}
}

func TestGetAvailableEngines_ExcludesUnavailable(t *testing.T) {
	unavailable := NewTransformerEngine(nil, testLogger(t))
	meo := freshMEO(t, []Engine{unavailable, mockTraditional(t, 0.5)})

	available := meo.GetAvailableEngines()
	for _, name := range available {
		if name == EngineTransformer {
			t.Fatalf("expected e1 to be excluded from available engines")
		}
	}
}

func TestMultiEngineOCR_IsSingleton(t *testing.T) {
	a := freshMEO(t, []Engine{mockTraditional(t, 0.5)})
	b := NewMultiEngineOCR([]Engine{mockTraditional(t, 0.9)}, testLogger(t))
	if a != b {
		t.Fatalf("expected MultiEngineOCR to be a process-wide singleton")
	}
}
