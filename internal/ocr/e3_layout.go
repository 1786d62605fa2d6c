package ocr

import (
	"github.com/nexuslabs/docoptic/internal/logging"
	"github.com/nexuslabs/docoptic/internal/ocrerr"
)

// LayoutBlock is one detected region from a neural layout model: a
// polygon (not a bbox) plus recognized text and a per-block model score.
type LayoutBlock struct {
	Text       string
	Confidence float64
	Polygon    [][]int
}

// LayoutPredictor is the injectable model backend for e3.
type LayoutPredictor func(image ImageBytes) ([]LayoutBlock, error)

// LayoutEngine is e3: a neural layout detector that returns polygon-shaped
// regions instead of axis-aligned boxes, suited to skewed or irregular
// document layouts.
//
// Grounded on ocr_engine.py's NougatOCR/layout-model engine, generalized to
// an injected predictor the same way as e1.
type LayoutEngine struct {
	*baseEngine
	predict LayoutPredictor
}

func NewLayoutEngine(predict LayoutPredictor, log *logging.Logger) *LayoutEngine {
	e := &LayoutEngine{predict: predict}
	e.baseEngine = newBaseEngine(EngineNeuralLayout, log, func() error {
		if predict == nil {
			return ocrerr.ErrNotAvailable
		}
		return nil
	})
	return e
}

func (e *LayoutEngine) ExtractText(image ImageBytes) (OcrResult, error) {
	if !e.Available() {
		return OcrResult{}, ocrerr.NewNotAvailableError(string(EngineNeuralLayout))
	}
	if len(image) == 0 {
		return OcrResult{}, ocrerr.NewEmptyInputError(string(EngineNeuralLayout))
	}

	regions, err := e.predict(image)
	if err != nil {
		return OcrResult{}, ocrerr.NewInvalidImageError(string(EngineNeuralLayout), err)
	}

	var text string
	var blocks []TextBlock
	var sum float64
	for i, region := range regions {
		if i > 0 {
			text += "\n"
		}
		text += region.Text
		sum += region.Confidence
		blocks = append(blocks, TextBlock{
			Text:       region.Text,
			Confidence: region.Confidence,
			Bbox:       BBox{Polygon: region.Polygon},
		})
	}

	confidence := 0.0
	if len(regions) > 0 {
		confidence = sum / float64(len(regions))
	}

	return OcrResult{
		Text:       text,
		Confidence: confidence,
		Engine:     EngineNeuralLayout,
		Blocks:     blocks,
	}, nil
}
