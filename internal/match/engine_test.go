package match

import (
	"testing"

	"github.com/qingrongy/logtmpl/pkg/types"
)

func TestMatchFirstMatchWins(t *testing.T) {
	e := New(2, nil)
	templates := []types.TemplateRecord{
		{ID: "t1", PlaceholderTemplate: "user ⟪alice⟫ logged in"},
		{ID: "t2", PlaceholderTemplate: "user ⟪bob⟫ logged in"},
	}
	entries := []types.LogEntry{
		{Index: 0, Raw: "user alice logged in"},
		{Index: 1, Raw: "user carol logged in"},
		{Index: 2, Raw: "totally unrelated line"},
	}

	results := e.Match(entries, templates)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Matched || results[0].Template.ID != "t1" {
		t.Fatalf("expected line 0 to match t1, got %+v", results[0])
	}
	if !results[1].Matched || results[1].Template.ID != "t1" {
		t.Fatalf("expected line 1 (carol) to match the generic-alice template t1, got %+v", results[1])
	}
	if results[2].Matched {
		t.Fatalf("expected line 2 to be unmatched, got %+v", results[2])
	}
}

func TestMatchExtractsVariables(t *testing.T) {
	e := New(1, nil)
	templates := []types.TemplateRecord{
		{ID: "t1", PlaceholderTemplate: "request id ⟪req-123⟫ took ⟪42⟫ms"},
	}
	entries := []types.LogEntry{{Index: 0, Raw: "request id req-456 took 99ms"}}

	results := e.Match(entries, templates)
	if !results[0].Matched {
		t.Fatalf("expected match, got %+v", results[0])
	}
	if results[0].Variables["v1"] != "req-456" || results[0].Variables["v2"] != "99" {
		t.Fatalf("unexpected variables: %+v", results[0].Variables)
	}
}

func TestInvalidateDropsCacheEntry(t *testing.T) {
	e := New(1, nil)
	t1 := types.TemplateRecord{ID: "t1", PlaceholderTemplate: "hello ⟪world⟫"}
	if _, err := e.compile(t1); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, ok := e.cache.Load("t1"); !ok {
		t.Fatal("expected cache entry for t1")
	}
	e.Invalidate("t1")
	if _, ok := e.cache.Load("t1"); ok {
		t.Fatal("expected cache entry to be evicted after Invalidate")
	}
}

func TestMatchRespectsContentOnlyTargetText(t *testing.T) {
	e := New(1, nil)
	templates := []types.TemplateRecord{
		{
			ID:                  "t1",
			PlaceholderTemplate: "GET ⟪/api/v1/users⟫",
			Metadata:            types.TemplateMetadata{ContentOnly: true},
		},
	}
	entries := []types.LogEntry{
		{Index: 0, Raw: "[2026-01-01T00:00:00Z] GET /api/v1/orders", Content: "GET /api/v1/orders", HeadMatched: true},
	}
	results := e.Match(entries, templates)
	if !results[0].Matched {
		t.Fatalf("expected content-only match against Content field, got %+v", results[0])
	}
}
