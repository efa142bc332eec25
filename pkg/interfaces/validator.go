package interfaces

import "github.com/qingrongy/logtmpl/pkg/types"

// ValidationOutcome is the result of gating a candidate template against a
// sample line (C5, spec §4.5).
type ValidationOutcome struct {
	Valid   bool
	Error   error
	Details map[string]interface{}
}

// TemplateValidator confirms a candidate PT compiles, matches the full
// target text, and round-trips it; it also annotates content-only
// metadata once a head pattern is in play.
type TemplateValidator interface {
	Validate(candidate *types.CompiledTemplate, entry types.LogEntry, contentOnly bool) ValidationOutcome

	// AttachHeadMetadata marks a template record as content_only and
	// records the head pattern plus a raw/content sample pair, so C3 picks
	// the right target text and C6 avoids false conflicts.
	AttachHeadMetadata(rec *types.TemplateRecord, entry types.LogEntry, head *types.HeadPattern)
}
