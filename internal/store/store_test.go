package store

import (
	"testing"

	"github.com/qingrongy/logtmpl/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(t.TempDir(), 3, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveTemplateAssignsID(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.SaveTemplate("nginx-access", types.TemplateRecord{
		PlaceholderTemplate: "user ⟪alice⟫ logged in",
		ExampleValues:       map[string]string{"v1": "alice"},
	})
	if err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	if rec.ID != "nginx-access#1" {
		t.Fatalf("expected assigned id nginx-access#1, got %q", rec.ID)
	}

	rec2, err := s.SaveTemplate("nginx-access", types.TemplateRecord{
		PlaceholderTemplate: "user ⟪bob⟫ logged out",
		ExampleValues:       map[string]string{"v1": "bob"},
	})
	if err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	if rec2.ID != "nginx-access#2" {
		t.Fatalf("expected assigned id nginx-access#2, got %q", rec2.ID)
	}
}

func TestLoadLibraryOrdersTemplatesByCreation(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.SaveTemplate("lib", types.TemplateRecord{PlaceholderTemplate: "a ⟪1⟫"})
	second, _ := s.SaveTemplate("lib", types.TemplateRecord{PlaceholderTemplate: "b ⟪2⟫"})

	view, err := s.LoadLibrary("lib")
	if err != nil {
		t.Fatalf("LoadLibrary: %v", err)
	}
	if len(view.Templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(view.Templates))
	}
	if view.Templates[0].ID != first.ID || view.Templates[1].ID != second.ID {
		t.Fatalf("templates not in creation order: %+v", view.Templates)
	}
	if view.NextTemplateNumber != 3 {
		t.Fatalf("expected next_template_number 3, got %d", view.NextTemplateNumber)
	}
}

func TestRecordMatchesEvictsOldest(t *testing.T) {
	s := newTestStore(t) // maxSamples = 3
	for i := 0; i < 5; i++ {
		err := s.RecordMatches("lib", []types.MatchedSample{{
			Raw:       "line",
			LineIndex: uint64(i),
			Variables: map[string]string{},
		}})
		if err != nil {
			t.Fatalf("RecordMatches: %v", err)
		}
	}
	view, err := s.LoadLibrary("lib")
	if err != nil {
		t.Fatalf("LoadLibrary: %v", err)
	}
	if len(view.MatchedSamples) != 3 {
		t.Fatalf("expected ring buffer bounded to 3, got %d", len(view.MatchedSamples))
	}
	// Newest-first per LoadLibrary's documented order: the two oldest
	// (LineIndex 0, 1) must have been evicted.
	seen := map[uint64]bool{}
	for _, s := range view.MatchedSamples {
		seen[s.LineIndex] = true
	}
	for _, want := range []uint64{2, 3, 4} {
		if !seen[want] {
			t.Fatalf("expected sample with LineIndex %d to survive eviction, samples=%+v", want, view.MatchedSamples)
		}
	}
}

func TestDeleteTemplateRemovesMatchedSamples(t *testing.T) {
	s := newTestStore(t)
	rec, _ := s.SaveTemplate("lib", types.TemplateRecord{PlaceholderTemplate: "x ⟪1⟫"})
	if err := s.RecordMatches("lib", []types.MatchedSample{{Raw: "x 1", TemplateID: rec.ID, Variables: map[string]string{"v1": "1"}}}); err != nil {
		t.Fatalf("RecordMatches: %v", err)
	}
	if err := s.DeleteTemplate("lib", rec.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	view, err := s.LoadLibrary("lib")
	if err != nil {
		t.Fatalf("LoadLibrary: %v", err)
	}
	if len(view.Templates) != 0 {
		t.Fatalf("expected template deleted, got %+v", view.Templates)
	}
	if len(view.MatchedSamples) != 0 {
		t.Fatalf("expected matched samples deleted with their template, got %+v", view.MatchedSamples)
	}
}

func TestSaveHeadPatternRoundTrips(t *testing.T) {
	s := newTestStore(t)
	head := types.HeadPattern{Pattern: `^\[(?<ts>[^\]]+)\] (?<content>.*)$`, ContentGroup: "content"}
	if err := s.SaveHeadPattern("lib", head); err != nil {
		t.Fatalf("SaveHeadPattern: %v", err)
	}
	view, err := s.LoadLibrary("lib")
	if err != nil {
		t.Fatalf("LoadLibrary: %v", err)
	}
	if view.Head == nil || view.Head.Pattern != head.Pattern || view.Head.ContentGroup != head.ContentGroup {
		t.Fatalf("head pattern did not round-trip: %+v", view.Head)
	}
}

func TestListLibrariesPercentEncodesFilenames(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SaveTemplate("app logs/prod", types.TemplateRecord{PlaceholderTemplate: "x ⟪1⟫"}); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	ids, err := s.ListLibraries()
	if err != nil {
		t.Fatalf("ListLibraries: %v", err)
	}
	if len(ids) != 1 || ids[0] != "app logs/prod" {
		t.Fatalf("expected decoded library id, got %+v", ids)
	}
}
