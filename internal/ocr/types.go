// Package ocr implements the Multi-Engine OCR Orchestrator (MEO): a
// polymorphic dispatcher that extracts text from raster images by trying
// several OCR back-ends in a strategy-driven order until a confidence
// threshold is met, with graceful degradation when back-ends are missing,
// slow, or error out.
package ocr

// ImageBytes is an opaque, borrowed image buffer. MEO never decodes or
// mutates it; only engines that need to (e.g. e2's preprocessing step) do so
// internally.
type ImageBytes []byte

// EngineName is a short, lowercase ASCII engine identifier. The four
// built-in engines are e1..e4; forks may register others.
type EngineName string

const (
	EngineTransformer EngineName = "e1" // transformer detector + recognizer
	EngineTraditional EngineName = "e2" // CPU-based, Tesseract-backed
	EngineNeuralLayout EngineName = "e3" // neural layout detector, polygon outputs
	EngineSeq2Seq     EngineName = "e4" // sequence-to-sequence whole-image recognizer
	EngineNone        EngineName = "none"
)

// BBox is a spatial bounding region attached to a TextBlock. Exactly one of
// Box (axis-aligned 4-tuple [x1,y1,x2,y2]) or Polygon (4-point polygon) is
// populated; which one is part of the producing engine's stable contract.
type BBox struct {
	Box     []int   `json:"box,omitempty"`
	Polygon [][]int `json:"polygon,omitempty"`
}

// TextBlock is a spatial text fragment inside an OcrResult.
type TextBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Bbox       BBox    `json:"bbox"`
}

// OcrResult is the extraction outcome common to every engine.
type OcrResult struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Engine     EngineName  `json:"engine"`
	Blocks     []TextBlock `json:"blocks,omitempty"`
	WordBoxes  []TextBlock `json:"word_boxes,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Strategy is MEO's closed set of priority policies over engines.
type Strategy string

const (
	StrategyQualityFirst  Strategy = "quality_first"
	StrategySpeedFirst    Strategy = "speed_first"
	StrategyAccuracyFirst Strategy = "accuracy_first"
)

// strategyOrder is the closed-set engine ordering table. Any strategy value
// not present here is an *InvalidStrategy error.
var strategyOrder = map[Strategy][]EngineName{
	StrategyQualityFirst:  {EngineTransformer, EngineTraditional, EngineNeuralLayout, EngineSeq2Seq},
	StrategySpeedFirst:    {EngineTraditional, EngineTransformer, EngineNeuralLayout, EngineSeq2Seq},
	StrategyAccuracyFirst: {EngineTransformer, EngineNeuralLayout, EngineSeq2Seq, EngineTraditional},
}

// DocumentType is ClassifyDocumentType's closed output set.
type DocumentType string

const (
	DocTypePrinted     DocumentType = "printed"
	DocTypeHandwritten DocumentType = "handwritten"
	DocTypeScientific  DocumentType = "scientific"
	DocTypeMixed       DocumentType = "mixed"
)
