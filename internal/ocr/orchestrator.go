package ocr

import (
	"fmt"
	"math"
	"sync"

	"github.com/nexuslabs/docoptic/internal/logging"
	"github.com/nexuslabs/docoptic/internal/ocrerr"
)

// MultiEngineOCR is the strategy-ordered dispatcher (MEO). It is a
// process-wide singleton: NewMultiEngineOCR always returns the same
// instance once constructed, mirroring the source's module-level
// singleton via sync.Once.
//
// Grounded on ocr_engine.py's OCREngine registry/dispatch loop, reworked
// from exception-driven control flow to Go's error-return convention.
type MultiEngineOCR struct {
	mu      sync.Mutex
	engines map[EngineName]Engine
	log     *logging.Logger
}

var (
	meoOnce     sync.Once
	meoInstance *MultiEngineOCR
)

// NewMultiEngineOCR builds (on first call) or returns (on subsequent calls)
// the process-wide MEO singleton. engines is only consulted on the first
// call; later calls ignore it and return the existing instance.
func NewMultiEngineOCR(engines []Engine, log *logging.Logger) *MultiEngineOCR {
	meoOnce.Do(func() {
		m := &MultiEngineOCR{
			engines: make(map[EngineName]Engine, len(engines)),
			log:     log,
		}
		for _, e := range engines {
			m.engines[e.Name()] = e
		}
		meoInstance = m
	})
	return meoInstance
}

// GetAvailableEngines reflects current availability, not mere construction
// membership — an engine present in the map with available=false is
// excluded. Order is unspecified (map iteration order).
func (m *MultiEngineOCR) GetAvailableEngines() []EngineName {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []EngineName
	for name, e := range m.engines {
		if e.Available() {
			out = append(out, name)
		}
	}
	return out
}

// ClassifyDocumentType is a best-effort hint; it never errors. With no
// analyzer configured it always returns printed, per the non-goal excluding
// image-decoding primitives from this rewrite's core.
func (m *MultiEngineOCR) ClassifyDocumentType(image ImageBytes, analyzer DocumentAnalyzer) DocumentType {
	if analyzer == nil {
		return DocTypePrinted
	}
	docType, err := analyzer(image)
	if err != nil {
		if m.log != nil {
			m.log.Warn("document classification analyzer failed; defaulting to printed", "error", err)
		}
		return DocTypePrinted
	}
	return docType
}

// DocumentAnalyzer is the injectable edge-density/line-regularity analyzer
// backing ClassifyDocumentType.
type DocumentAnalyzer func(image ImageBytes) (DocumentType, error)

// ExtractWithOCR runs the dispatch algorithm: strategy-ordered,
// availability-filtered, threshold-stopping, with graceful degradation to a
// synthetic "none" result when every engine fails.
func (m *MultiEngineOCR) ExtractWithOCR(image ImageBytes, strategy Strategy, confidenceThreshold float64) (OcrResult, error) {
	if len(image) == 0 {
		return OcrResult{}, ocrerr.NewEmptyInputError("")
	}
	if math.IsNaN(confidenceThreshold) || math.IsInf(confidenceThreshold, 0) || confidenceThreshold < 0 || confidenceThreshold > 1 {
		return OcrResult{}, ocrerr.NewRangeError("", "confidence_threshold", confidenceThreshold)
	}

	order, ok := strategyOrder[strategy]
	if !ok {
		return OcrResult{}, ocrerr.NewInvalidStrategyError(string(strategy))
	}

	m.mu.Lock()
	if len(m.engines) == 0 {
		m.mu.Unlock()
		return OcrResult{}, ocrerr.NewNoEnginesError()
	}

	var candidates []Engine
	for _, name := range order {
		e, present := m.engines[name]
		if present && e.Available() {
			candidates = append(candidates, e)
		}
	}
	m.mu.Unlock()

	var best OcrResult
	haveBest := false

	for _, e := range candidates {
		result, err := e.ExtractText(image)
		if err != nil {
			if m.log != nil {
				m.log.Warn("engine failed during dispatch; continuing", "engine", e.Name(), "error", err)
			}
			continue
		}
		result.Engine = e.Name()

		if result.Confidence >= confidenceThreshold {
			return result, nil
		}

		if !haveBest || result.Confidence > best.Confidence {
			best = result
			haveBest = true
		}
	}

	if haveBest {
		return best, nil
	}

	return OcrResult{
		Text:       "",
		Confidence: 0.0,
		Engine:     EngineNone,
		Error:      fmt.Sprintf("all %d candidate engine(s) failed or produced no usable result", len(candidates)),
	}, nil
}
