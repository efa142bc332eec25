// Package report writes a batch's LogProcessingSummary to the three
// per-run report files spec §6.4 describes: a matches CSV, a conflicts
// JSON array, and a line-delimited failures JSONL file. All three are
// written via write-temp-then-rename (github.com/natefinch/atomic) so a
// crash mid-write never leaves a half-finished report on disk (spec §4.2
// durability requirement, carried over to the exported artifacts).
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/qingrongy/logtmpl/pkg/types"
)

// Writer persists LogProcessingSummary reports under a fixed output
// directory, one file set per run id.
type Writer struct {
	dir    string
	logger *log.Logger
}

// New returns a Writer rooted at dir, creating it if necessary.
func New(dir string, logger *log.Logger) (*Writer, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[Report] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory %q: %w", dir, err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// Write emits <runId>-matches.csv always, and <runId>-conflicts.json /
// <runId>-failures.jsonl only when summary carries any (spec §6.4: "when
// any exist").
func (w *Writer) Write(summary *types.LogProcessingSummary) error {
	if err := w.writeMatches(summary); err != nil {
		return err
	}
	if len(summary.Conflicts) > 0 {
		if err := w.writeConflicts(summary); err != nil {
			return err
		}
	}
	if len(summary.Failures) > 0 {
		if err := w.writeFailures(summary); err != nil {
			return err
		}
	}
	w.logger.Printf("run %s: %d matched, %d unresolved, %d new templates, %d conflicts, %d failures",
		summary.RunID, summary.MatchedLines, summary.UnresolvedLines, len(summary.NewTemplates),
		len(summary.Conflicts), len(summary.Failures))
	return nil
}

func (w *Writer) path(runID, suffix string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s", runID, suffix))
}

// writeMatches renders the matches.csv columns spec §6.4 names: raw_log,
// template_id, template_pattern, variables (JSON-encoded map).
func (w *Writer) writeMatches(summary *types.LogProcessingSummary) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{"raw_log", "template_id", "template_pattern", "variables"}); err != nil {
		return fmt.Errorf("failed to write matches header: %w", err)
	}
	for _, m := range summary.Matches {
		var id, pattern string
		if m.Template != nil {
			id = m.Template.ID
			pattern = m.Template.PlaceholderTemplate
		}
		vars, err := json.Marshal(m.Variables)
		if err != nil {
			return fmt.Errorf("failed to encode variables for line %d: %w", m.LineIndex, err)
		}
		if err := cw.Write([]string{m.Raw, id, pattern, string(vars)}); err != nil {
			return fmt.Errorf("failed to write match row for line %d: %w", m.LineIndex, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush matches CSV: %w", err)
	}
	return atomic.WriteFile(w.path(summary.RunID, "matches.csv"), &buf)
}

func (w *Writer) writeConflicts(summary *types.LogProcessingSummary) error {
	data, err := json.MarshalIndent(summary.Conflicts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode conflicts report: %w", err)
	}
	return atomic.WriteFile(w.path(summary.RunID, "conflicts.json"), bytes.NewReader(data))
}

func (w *Writer) writeFailures(summary *types.LogProcessingSummary) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, f := range summary.Failures {
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("failed to encode failure record for line %d: %w", f.LineIndex, err)
		}
	}
	return atomic.WriteFile(w.path(summary.RunID, "failures.jsonl"), &buf)
}
