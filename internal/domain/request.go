package domain

import (
	"slices"
	"time"
)

// RequestState enumerates the lifecycle of an analysis request.
type RequestState string

const (
	StatePending    RequestState = "pending"
	StateExtracting RequestState = "extracting"
	StateAnalyzing  RequestState = "analyzing"
	StateCompleted  RequestState = "completed"
	StateFailed     RequestState = "failed"
	StateRated      RequestState = "rated"
)

// InFlightStates are the states a request may still leave through the pipeline.
var InFlightStates = []RequestState{StatePending, StateExtracting, StateAnalyzing}

// IsInFlight reports whether the request has not reached a terminal state yet.
func (s RequestState) IsInFlight() bool {
	return slices.Contains(InFlightStates, s)
}

// HasResult reports whether the request carries a usable analysis result.
func (s RequestState) HasResult() bool {
	return s == StateCompleted || s == StateRated
}

// Request is one analysis transaction. CreatedAt never changes after insert.
type Request struct {
	ID                 string
	Owner              string
	CategoryID         string
	AdviceID           string
	ImageRefs          []string
	ImageCount         int
	ExtractedText      string
	AnalysisResult     string
	Fingerprint        string
	CacheHit           bool
	SourceRequestID    string
	Rating             *int
	State              RequestState
	FailureReason      string
	ExtractionFailures int
	UsageDay           time.Time
	ReservedUnits      int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Origin returns the id of the request that computed this result.
func (r *Request) Origin() string {
	if r.CacheHit && r.SourceRequestID != "" {
		return r.SourceRequestID
	}
	return r.ID
}

// Outputs is what the orchestrator hands back for persistence.
type Outputs struct {
	ExtractedText      string
	AnalysisResult     string
	ExtractionFailures int
}
