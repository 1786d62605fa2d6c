package queryopt

import "time"

// QueryMetrics is a value object created at dispatch and finalized exactly
// once via Complete, which sets EndTime and derives DurationMs.
//
// Grounded on query_optimizer.py's QueryMetrics dataclass.
type QueryMetrics struct {
	QueryID      string
	QueryType    string
	StartTime    time.Time
	EndTime      time.Time
	DurationMs   float64
	ResultCount  int
	ScanCount    int
	CacheHit     bool
	IndexUsed    bool
	IndexName    string
	ExecutionPlan map[string]interface{}
	Error        string
}

// NewQueryMetrics opens a metrics record at the current instant.
func NewQueryMetrics(queryID, queryType string) *QueryMetrics {
	return &QueryMetrics{
		QueryID:   queryID,
		QueryType: queryType,
		StartTime: time.Now(),
	}
}

// Complete finalizes the metrics record. Calling it more than once is a
// caller bug; the second call simply overwrites end_time/duration, matching
// the source's lack of a finalized guard.
func (m *QueryMetrics) Complete(resultCount, scanCount int, indexUsed bool, indexName string, err error) {
	m.EndTime = time.Now()
	m.DurationMs = float64(m.EndTime.Sub(m.StartTime)) / float64(time.Millisecond)
	m.ResultCount = resultCount
	m.ScanCount = scanCount
	m.IndexUsed = indexUsed
	m.IndexName = indexName
	if err != nil {
		m.Error = err.Error()
	}
}
