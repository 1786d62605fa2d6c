package ocr

import (
	"github.com/nexuslabs/docoptic/internal/logging"
	"github.com/nexuslabs/docoptic/internal/ocrerr"
)

// Seq2SeqPredictor is the injectable model backend for e4: a
// whole-image-in, whole-text-out recognizer with no internal notion of
// lines or blocks.
type Seq2SeqPredictor func(image ImageBytes) (string, error)

// Seq2SeqEngine is e4: a sequence-to-sequence recognizer that consumes the
// whole image (converted to RGB when a converter is configured) and emits plain text with no spatial
// structure and no model-reported confidence.
//
// Grounded on ocr_engine.py's TrOCR-style engine, which always converts to
// RGB before inference and never reports a confidence score (hardcoded to
// 0.0 downstream).
type Seq2SeqEngine struct {
	*baseEngine
	predict  Seq2SeqPredictor
	toRGB    func(image ImageBytes) (ImageBytes, error)
}

// NewSeq2SeqEngine constructs e4. toRGB may be nil, in which case the image
// is forwarded to predict unchanged — RGB coercion is a concern of whatever
// image-decoding dependency the deployment wires in, not MEO's core.
func NewSeq2SeqEngine(predict Seq2SeqPredictor, toRGB func(ImageBytes) (ImageBytes, error), log *logging.Logger) *Seq2SeqEngine {
	e := &Seq2SeqEngine{predict: predict, toRGB: toRGB}
	e.baseEngine = newBaseEngine(EngineSeq2Seq, log, func() error {
		if predict == nil {
			return ocrerr.ErrNotAvailable
		}
		return nil
	})
	return e
}

func (e *Seq2SeqEngine) ExtractText(image ImageBytes) (OcrResult, error) {
	if !e.Available() {
		return OcrResult{}, ocrerr.NewNotAvailableError(string(EngineSeq2Seq))
	}
	if len(image) == 0 {
		return OcrResult{}, ocrerr.NewEmptyInputError(string(EngineSeq2Seq))
	}

	rgb := image
	if e.toRGB != nil {
		converted, err := e.toRGB(image)
		if err != nil {
			return OcrResult{}, ocrerr.NewInvalidImageError(string(EngineSeq2Seq), err)
		}
		rgb = converted
	}

	text, err := e.predict(rgb)
	if err != nil {
		return OcrResult{}, ocrerr.NewInvalidImageError(string(EngineSeq2Seq), err)
	}

	// e4 never reports a model confidence; the orchestrator treats 0.0 as
	// "accept only if nothing else qualifies".
	return OcrResult{
		Text:       text,
		Confidence: 0.0,
		Engine:     EngineSeq2Seq,
	}, nil
}
