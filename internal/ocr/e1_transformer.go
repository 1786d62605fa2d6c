package ocr

import (
	"github.com/nexuslabs/docoptic/internal/logging"
	"github.com/nexuslabs/docoptic/internal/ocrerr"
)

// LineDetection is one detected text line from a transformer detector+
// recognizer backend: axis-aligned bbox, recognized text, and a per-line
// model confidence in [0,1].
type LineDetection struct {
	Text       string
	Confidence float64
	Box        [4]int
}

// TransformerPredictor is the injectable model backend for e1. Real
// deployments wire this to whatever detection+recognition model they load;
// the engine itself only owns dispatch, validation, and confidence
// aggregation, per SPEC_FULL §4.2's note that e1/e3/e4 are
// model-backend-agnostic by design.
type TransformerPredictor func(image ImageBytes) ([]LineDetection, error)

// TransformerEngine is e1: a transformer-based detector+recognizer with
// per-line axis-aligned bounding boxes and multilingual layout tolerance.
//
// Grounded on ocr_engine.py's SuryaOCR (detection.DetectionPredictor +
// recognition.RecognitionPredictor), generalized from a hardcoded model
// import to an injected predictor function.
type TransformerEngine struct {
	*baseEngine
	predict TransformerPredictor
}

// NewTransformerEngine constructs e1. If predict is nil, the engine reports
// available=false (no model backend configured) without erroring —
// mirroring the construction contract: initialize() failing never
// propagates, it just leaves the engine unavailable.
func NewTransformerEngine(predict TransformerPredictor, log *logging.Logger) *TransformerEngine {
	e := &TransformerEngine{predict: predict}
	e.baseEngine = newBaseEngine(EngineTransformer, log, func() error {
		if predict == nil {
			return ocrerr.ErrNotAvailable
		}
		return nil
	})
	return e
}

func (e *TransformerEngine) ExtractText(image ImageBytes) (OcrResult, error) {
	if !e.Available() {
		return OcrResult{}, ocrerr.NewNotAvailableError(string(EngineTransformer))
	}
	if len(image) == 0 {
		return OcrResult{}, ocrerr.NewEmptyInputError(string(EngineTransformer))
	}

	lines, err := e.predict(image)
	if err != nil {
		return OcrResult{}, ocrerr.NewInvalidImageError(string(EngineTransformer), err)
	}

	var text string
	var blocks []TextBlock
	var sum float64
	for i, line := range lines {
		if i > 0 {
			text += "\n"
		}
		text += line.Text
		sum += line.Confidence
		blocks = append(blocks, TextBlock{
			Text:       line.Text,
			Confidence: line.Confidence,
			Bbox:       BBox{Box: line.Box[:]},
		})
	}

	confidence := 0.0
	if len(lines) > 0 {
		confidence = sum / float64(len(lines))
	}

	return OcrResult{
		Text:       text,
		Confidence: confidence,
		Engine:     EngineTransformer,
		Blocks:     blocks,
	}, nil
}
