package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qingrongy/logtmpl/pkg/types"
)

func TestWriteMatchesAlwaysProducesCSV(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary := &types.LogProcessingSummary{
		RunID: "run-1",
		Matches: []types.MatchRecord{
			{
				LineIndex: 0, Raw: "User alice logged in", Matched: true,
				Template:  &types.TemplateRecord{ID: "svc#1", PlaceholderTemplate: "User ⟪alice⟫ logged in"},
				Variables: map[string]string{"v1": "alice"},
			},
			{LineIndex: 1, Raw: "unmatched line", Matched: false},
		},
	}
	if err := w.Write(summary); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "run-1-matches.csv")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("expected matches.csv to exist: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "raw_log" || rows[0][1] != "template_id" || rows[0][2] != "template_pattern" || rows[0][3] != "variables" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][1] != "svc#1" || !strings.Contains(rows[1][3], "alice") {
		t.Fatalf("unexpected matched row: %v", rows[1])
	}
	if rows[2][1] != "" {
		t.Fatalf("expected empty template id for an unmatched row, got %q", rows[2][1])
	}

	if _, err := os.Stat(filepath.Join(dir, "run-1-conflicts.json")); !os.IsNotExist(err) {
		t.Fatal("expected no conflicts.json when there are no conflicts")
	}
	if _, err := os.Stat(filepath.Join(dir, "run-1-failures.jsonl")); !os.IsNotExist(err) {
		t.Fatal("expected no failures.jsonl when there are no failures")
	}
}

func TestWriteConflictsAndFailuresWhenPresent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary := &types.LogProcessingSummary{
		RunID: "run-2",
		Conflicts: []types.ConflictReportEntry{
			{LineIndex: 3, CandidateSample: "x 1", ConflictingIDs: []string{"svc#1", "svc#2"}, Resolution: "unresolved", IterationsUsed: 5},
		},
		Failures: []types.FailureRecord{
			{LineIndex: 4, Raw: "bad line", Stage: "parsing", Reason: "lm_agent_failure", Timestamp: time.Unix(0, 0)},
		},
	}
	if err := w.Write(summary); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conflictsData, err := os.ReadFile(filepath.Join(dir, "run-2-conflicts.json"))
	if err != nil {
		t.Fatalf("expected conflicts.json to exist: %v", err)
	}
	var conflicts []types.ConflictReportEntry
	if err := json.Unmarshal(conflictsData, &conflicts); err != nil {
		t.Fatalf("Unmarshal conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Resolution != "unresolved" {
		t.Fatalf("unexpected conflicts payload: %+v", conflicts)
	}

	failuresData, err := os.ReadFile(filepath.Join(dir, "run-2-failures.jsonl"))
	if err != nil {
		t.Fatalf("expected failures.jsonl to exist: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(failuresData)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one JSONL line, got %d", len(lines))
	}
	var rec types.FailureRecord
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("Unmarshal failure line: %v", err)
	}
	if rec.Reason != "lm_agent_failure" {
		t.Fatalf("unexpected failure record: %+v", rec)
	}
}
