package types

import "time"

// MatchRecord is one line's outcome from the match engine (C3): either it
// matched a template and carries captured variables, or it passed through
// unmatched.
type MatchRecord struct {
	LineIndex uint64            `json:"line_index"`
	Raw       string            `json:"raw"`
	Content   string            `json:"content,omitempty"`
	Matched   bool              `json:"matched"`
	Template  *TemplateRecord   `json:"template,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// ConflictReportEntry documents one candidate template that conflicted with
// existing templates and how (or whether) it was resolved.
type ConflictReportEntry struct {
	LineIndex        uint64   `json:"line_index"`
	CandidateSample  string   `json:"candidate_sample"`
	ConflictingIDs   []string `json:"conflicting_template_ids"`
	Resolution       string   `json:"resolution"` // the orchestrator only writes "unresolved", on budget exhaustion
	IterationsUsed   int      `json:"iterations_used"`
}

// MatchLatencySnapshot reports the match engine's (C3) latency distribution
// in nanoseconds as observed up to the point it's taken.
type MatchLatencySnapshot struct {
	P50, P95, P99 int64
	Count         int64
}

// LogProcessingSummary is what the orchestrator (C8) returns for a batch:
// run identity, totals, and the three report payloads.
type LogProcessingSummary struct {
	RunID            string                 `json:"run_id"`
	LibraryID        string                 `json:"library_id"`
	TotalLines       int                    `json:"total_lines"`
	MatchedLines     int                    `json:"matched_lines"`
	UnresolvedLines  int                    `json:"unresolved_lines"`
	NewTemplates     []TemplateRecord       `json:"new_templates"`
	Matches          []MatchRecord          `json:"matches"`
	Conflicts        []ConflictReportEntry  `json:"conflicts"`
	Failures         []FailureRecord        `json:"failures"`
	Latency          MatchLatencySnapshot   `json:"latency"`
	StartedAt        time.Time              `json:"started_at"`
	FinishedAt       time.Time              `json:"finished_at"`
}
