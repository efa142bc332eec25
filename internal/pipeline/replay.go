package pipeline

import (
	"sort"

	"github.com/qingrongy/logtmpl/pkg/types"
)

// Replay re-runs the match engine (C3) over every line against a library's
// finalized template set, independent of any LM agent (spec §4.8.3: "The
// caller later replays the entire input once against the finalized
// library to generate the authoritative report"; spec §8.4 scenario 6,
// property P6: replay is deterministic and reproducible from the library
// alone). This is also what `--match-only` mode runs directly: it never
// touches the LM facade, so it works with no credentials configured.
func Replay(match MatchEngineReplayer, libraryID string, lines []types.RawLine, head HeadExtractor, headPattern *types.HeadPattern, templates []types.TemplateRecord) []types.MatchRecord {
	entries := make([]types.LogEntry, len(lines))
	for i, l := range lines {
		entry := types.LogEntry{Index: l.Index, Raw: l.Text}
		if headPattern != nil && head != nil {
			matched, content := head.ExtractContent(l.Text, headPattern)
			entry.HeadMatched = matched
			entry.Content = content
		}
		entries[i] = entry
	}

	records := match.Match(entries, templates)
	sort.Slice(records, func(i, j int) bool { return records[i].LineIndex < records[j].LineIndex })
	return records
}

// MatchEngineReplayer is the subset of interfaces.MatchEngine Replay needs;
// accepting the narrow interface keeps this file testable without pulling
// in the full orchestrator dependency graph.
type MatchEngineReplayer interface {
	Match(entries []types.LogEntry, templates []types.TemplateRecord) []types.MatchRecord
}

// HeadExtractor is the subset of interfaces.HeadManager Replay needs.
type HeadExtractor interface {
	ExtractContent(raw string, head *types.HeadPattern) (bool, string)
}
