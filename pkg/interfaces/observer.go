package interfaces

import "github.com/qingrongy/logtmpl/pkg/types"

// Observer receives fire-and-forget stage events from the orchestrator
// (C8). Implementations must never block the pipeline or affect control
// flow (spec §4.8 "Observer protocol").
type Observer interface {
	OnStage(event StageEvent)
}

// StageEventKind enumerates the stage names spec §4.8 lists.
type StageEventKind string

const (
	StageRouting        StageEventKind = "routing"
	StageHead           StageEventKind = "head"
	StageParsing        StageEventKind = "parsing"
	StageValidation     StageEventKind = "validation"
	StageRefine         StageEventKind = "refine"
	StageMatching       StageEventKind = "matching"
	StageUpdate         StageEventKind = "update"
	StageBatchProgress  StageEventKind = "batch_progress"
	StageFailure        StageEventKind = "failure"
	StageUnmatched      StageEventKind = "unmatched"
)

// StageEvent is one observer notification. Fields beyond Kind/Message are
// optional and populated as relevant to the stage.
type StageEvent struct {
	Kind       StageEventKind
	LibraryID  string
	LineIndex  uint64
	Message    string
	Count      int
	Total      int
	Err        error
	Latency    types.MatchLatencySnapshot
}

// NopObserver discards every event; the default when no observer is wired.
type NopObserver struct{}

func (NopObserver) OnStage(StageEvent) {}
