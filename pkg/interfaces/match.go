package interfaces

import "github.com/qingrongy/logtmpl/pkg/types"

// MatchEngine applies a set of templates to a batch of log entries,
// first-match-wins in library order, fanning work across an internal
// worker pool (C3, spec §4.3, §5).
type MatchEngine interface {
	// Match partitions entries into matched/unmatched against the given
	// templates (an immutable view for the duration of the call). Output
	// order is preserved per-worker only; callers sort by LineIndex for a
	// globally ordered result.
	Match(entries []types.LogEntry, templates []types.TemplateRecord) []types.MatchRecord

	// Invalidate drops a template from the compiled-regex cache. Must be
	// called on every SaveTemplate/DeleteTemplate so stale compiled
	// patterns never serve a match.
	Invalidate(templateID string)

	// LatencySnapshot reports the match-latency distribution observed so
	// far, surfaced through the batch summary and the observer's
	// batch_progress event.
	LatencySnapshot() types.MatchLatencySnapshot
}
