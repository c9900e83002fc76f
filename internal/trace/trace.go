// Package trace records the structured execution trace of one pipeline
// run. The trace is a request-local value threaded through the stages, not
// a shared logger; stages become immutable once completed so the persisted
// trace is a faithful audit record.
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Status is the terminal state of a stage.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Pipeline stage names. Stages never repeat at the top level of a trace;
// retry attempts nest under their parent stage.
const (
	StageCacheCheck    = "cache_check"
	StageStaticMapping = "static_mapping"
	StageKnowledgeBase = "knowledge_base"
	StageQueryBuilder  = "query_builder"
	StageWebResearch   = "web_research"
	StageSynthesis     = "ownership_synthesis"
	StageCompliance    = "compliance_routing"
	StageVerification  = "verification"
	StageConfidence    = "confidence_estimation"
	StageCacheWrite    = "cache_write"
)

// Decision records a choice a stage made, with the alternatives it rejected.
type Decision struct {
	Choice        string   `json:"choice"`
	Rejected      []string `json:"rejected_alternatives,omitempty"`
	Justification string   `json:"justification,omitempty"`
}

// Stage is one step of the pipeline. Field names are stable: external
// tooling (evaluation dashboards, replay) consumes them directly.
type Stage struct {
	Name       string         `json:"stage"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Reasoning  []string       `json:"reasoning,omitempty"`
	Decisions  []Decision     `json:"decisions,omitempty"`
	Error      string         `json:"error,omitempty"`
	Retries    []Stage        `json:"retries,omitempty"`
}

// Trace is the complete audit record of one research request.
type Trace struct {
	ID              string    `json:"trace_id"`
	Brand           string    `json:"brand"`
	ProductName     string    `json:"product_name,omitempty"`
	Barcode         string    `json:"barcode,omitempty"`
	Stages          []Stage   `json:"stages"`
	FinalResultType string    `json:"final_result_type,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
}

// HasStage reports whether a top-level stage with the given name exists.
func (t *Trace) HasStage(name string) bool {
	for _, s := range t.Stages {
		if s.Name == name {
			return true
		}
	}
	return false
}

// StageByName returns the named top-level stage, or nil.
func (t *Trace) StageByName(name string) *Stage {
	for i := range t.Stages {
		if t.Stages[i].Name == name {
			return &t.Stages[i]
		}
	}
	return nil
}

// Recorder builds a Trace for one in-flight request. It requires no
// synchronization: a trace belongs to exactly one request.
type Recorder struct {
	trace *Trace
	now   func() time.Time
}

// NewRecorder starts a trace for the given request identifiers.
func NewRecorder(brand, productName, barcode string) *Recorder {
	r := &Recorder{
		trace: &Trace{
			ID:          uuid.NewString(),
			Brand:       brand,
			ProductName: productName,
			Barcode:     barcode,
		},
		now: time.Now,
	}
	r.trace.StartedAt = r.now()
	return r
}

// WithNow fixes the clock for testing.
func (r *Recorder) WithNow(now func() time.Time) *Recorder {
	r.now = now
	r.trace.StartedAt = r.now()
	return r
}

// TraceID returns the trace identifier.
func (r *Recorder) TraceID() string {
	return r.trace.ID
}

// Begin opens a stage. The returned tracker must be closed with exactly
// one of Succeed, Skip, or Fail.
func (r *Recorder) Begin(name string, input map[string]any) *StageTracker {
	return &StageTracker{
		recorder: r,
		stage: Stage{
			Name:      name,
			StartedAt: r.now(),
			Input:     input,
		},
	}
}

// Finalize stamps the result type and total duration and returns the
// completed trace. The recorder must not be used afterwards.
func (r *Recorder) Finalize(resultType string) *Trace {
	r.trace.FinalResultType = resultType
	r.trace.DurationMS = r.now().Sub(r.trace.StartedAt).Milliseconds()
	return r.trace
}

// StageTracker accumulates reasoning and decisions for one open stage.
type StageTracker struct {
	recorder *Recorder
	stage    Stage
	closed   bool
}

// Reason appends a free-text reasoning entry.
func (s *StageTracker) Reason(msg string) {
	if s.closed {
		return
	}
	s.stage.Reasoning = append(s.stage.Reasoning, msg)
}

// Decide records a decision with the rejected alternatives.
func (s *StageTracker) Decide(choice string, rejected []string, justification string) {
	if s.closed {
		return
	}
	s.stage.Decisions = append(s.stage.Decisions, Decision{
		Choice:        choice,
		Rejected:      rejected,
		Justification: justification,
	})
}

// Retry nests a retry attempt under this stage rather than duplicating it
// at the top level.
func (s *StageTracker) Retry(attempt string, status Status, err error) {
	if s.closed {
		return
	}
	sub := Stage{
		Name:      attempt,
		Status:    status,
		StartedAt: s.recorder.now(),
	}
	if err != nil {
		sub.Error = err.Error()
	}
	s.stage.Retries = append(s.stage.Retries, sub)
}

// Succeed closes the stage with StatusSuccess.
func (s *StageTracker) Succeed(output map[string]any) {
	s.close(StatusSuccess, output, "")
}

// Skip closes the stage with StatusSkipped.
func (s *StageTracker) Skip(reason string) {
	s.close(StatusSkipped, nil, reason)
}

// Fail closes the stage with StatusError. The pipeline continues to the
// next fallback stage; the error lives only in the trace.
func (s *StageTracker) Fail(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.close(StatusError, nil, msg)
}

func (s *StageTracker) close(status Status, output map[string]any, errMsg string) {
	if s.closed {
		return
	}
	s.closed = true
	s.stage.Status = status
	s.stage.Output = output
	if status == StatusSkipped && errMsg != "" {
		s.stage.Reasoning = append(s.stage.Reasoning, errMsg)
	} else {
		s.stage.Error = errMsg
	}
	s.stage.DurationMS = s.recorder.now().Sub(s.stage.StartedAt).Milliseconds()
	s.recorder.trace.Stages = append(s.recorder.trace.Stages, s.stage)
}
