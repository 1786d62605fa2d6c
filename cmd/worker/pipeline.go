package main

import (
	"context"
	"fmt"

	"github.com/nexuslabs/docoptic/internal/config"
	"github.com/nexuslabs/docoptic/internal/logging"
	"github.com/nexuslabs/docoptic/internal/ocr"
	"github.com/nexuslabs/docoptic/internal/queryopt"
	"github.com/nexuslabs/docoptic/internal/queue"
	"github.com/nexuslabs/docoptic/internal/storage"
)

// ocrQOSPipeline composes MEO and the QOS stack into the queue.Pipeline
// contract: extract text from the job's image, then, if the job asks for
// a follow-up similarity lookup, run it through the vector optimizer
// against the real Qdrant-backed executor.
type ocrQOSPipeline struct {
	meo     *ocr.MultiEngineOCR
	qos     *queryopt.Stack
	storage *storage.StorageManager
	cfg     *config.Config
	log     *logging.Logger
}

func newOCRQOSPipeline(meo *ocr.MultiEngineOCR, qos *queryopt.Stack, sm *storage.StorageManager, cfg *config.Config, log *logging.Logger) *ocrQOSPipeline {
	return &ocrQOSPipeline{meo: meo, qos: qos, storage: sm, cfg: cfg, log: log}
}

func (p *ocrQOSPipeline) Run(ctx context.Context, job queue.JobData) (queue.PipelineResult, error) {
	strategy := ocr.Strategy(job.Strategy)
	if strategy == "" {
		strategy = ocr.Strategy(p.cfg.OCR.DefaultStrategy)
	}

	threshold := job.ConfidenceThreshold
	if threshold == 0 {
		threshold = p.cfg.OCR.DefaultThreshold
	}

	result, err := p.meo.ExtractWithOCR(job.ImageData, strategy, threshold)
	if err != nil {
		return queue.PipelineResult{}, fmt.Errorf("ocr extraction failed: %w", err)
	}

	out := queue.PipelineResult{
		OCRText:       result.Text,
		OCRConfidence: result.Confidence,
		OCREngine:     string(result.Engine),
	}

	if len(job.VectorQuery) == 0 {
		return out, nil
	}

	topK := job.TopK
	if topK <= 0 {
		topK = 10
	}

	params := queryopt.Params{
		"query_vector": job.VectorQuery,
		"top_k":        float64(topK),
		"dimension":    len(job.VectorQuery),
	}

	value, _, err := p.qos.Vector.ExecuteVectorSearch(params, p.storage.VectorExecutor(), nil)
	if err != nil {
		return queue.PipelineResult{}, fmt.Errorf("vector search failed: %w", err)
	}

	if hits, ok := value.([]*storage.DocumentDNASearchResult); ok {
		out.VectorHits = len(hits)
	}

	return out, nil
}
