package ocr

import (
	"sync/atomic"

	"github.com/nexuslabs/docoptic/internal/logging"
)

// Engine is the smallest contract that makes OCR back-ends interchangeable.
//
// Construction contract: implementations perform engine-specific
// initialization during construction. If initialization fails, Available
// must return false and the constructor must still return a usable object —
// it must never propagate the initialization error. This lets MultiEngineOCR
// enumerate engines without one bad back-end poisoning the whole process.
type Engine interface {
	// Name returns the engine's short identifier.
	Name() EngineName

	// Available reports whether the engine is ready to serve ExtractText.
	// Pure, idempotent, safe to call concurrently.
	Available() bool

	// ExtractText runs OCR over image. It must fail with one of:
	// NotAvailable, EmptyInput, InvalidImage, Unsupported, or Exhausted.
	ExtractText(image ImageBytes) (OcrResult, error)
}

// baseEngine centralizes the construction-never-fails discipline shared by
// every concrete engine: initialize() runs under recover() so a panicking
// or error-returning backend never prevents the engine object from existing
// in an (unavailable) state.
//
// Grounded on ocr_engine.py's OCREngine.__init__, which wraps _initialize()
// in a try/except that logs and swallows any exception.
type baseEngine struct {
	name      EngineName
	available atomic.Bool
	log       *logging.Logger
}

func newBaseEngine(name EngineName, log *logging.Logger, initialize func() error) *baseEngine {
	b := &baseEngine{name: name, log: log}
	b.available.Store(safeInitialize(name, log, initialize))
	return b
}

// markUnavailable lets a running engine flip itself permanently unavailable
// (e.g. after exhausting a resource it cannot recover), without ever
// restoring availability — matches EngineAvailability's "set at
// construction, never later restored" invariant from the other direction:
// it only ever moves false, and only ever moves toward false.
func (b *baseEngine) markUnavailable() {
	b.available.Store(false)
}

func safeInitialize(name EngineName, log *logging.Logger, initialize func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if log != nil {
				log.Warn("engine initialization panicked; marking unavailable", "engine", name, "panic", r)
			}
			ok = false
		}
	}()
	if err := initialize(); err != nil {
		if log != nil {
			log.Warn("engine initialization failed; marking unavailable", "engine", name, "error", err)
		}
		return false
	}
	return true
}

func (b *baseEngine) Name() EngineName { return b.name }
func (b *baseEngine) Available() bool  { return b.available.Load() }
