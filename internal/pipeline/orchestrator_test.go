package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/qingrongy/logtmpl/internal/conflict"
	"github.com/qingrongy/logtmpl/internal/match"
	"github.com/qingrongy/logtmpl/internal/validator"
	"github.com/qingrongy/logtmpl/pkg/errors"
	"github.com/qingrongy/logtmpl/pkg/interfaces"
	"github.com/qingrongy/logtmpl/pkg/types"
)

// fakeStore is a minimal in-memory TemplateStore, enough to drive the
// orchestrator's state machine deterministically without sqlite.
type fakeStore struct {
	mu       sync.Mutex
	views    map[string]*types.LibraryView
	nextID   map[string]int
	deleted  []string
	recorded []types.MatchedSample
}

func newFakeStore() *fakeStore {
	return &fakeStore{views: map[string]*types.LibraryView{}, nextID: map[string]int{}}
}

func (s *fakeStore) ListLibraries() ([]string, error) { return nil, nil }

func (s *fakeStore) LoadLibrary(id string) (*types.LibraryView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if !ok {
		v = &types.LibraryView{ID: id}
		s.views[id] = v
	}
	return v, nil
}

func (s *fakeStore) SaveTemplate(libraryID string, t types.TemplateRecord) (types.TemplateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		s.nextID[libraryID]++
		t.ID = fmt.Sprintf("%s#%d", libraryID, s.nextID[libraryID])
	}
	t.LibraryID = libraryID
	t.CreatedAt = time.Now()
	return t, nil
}

func (s *fakeStore) DeleteTemplate(libraryID, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, templateID)
	return nil
}

func (s *fakeStore) RecordMatches(libraryID string, records []types.MatchedSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, records...)
	return nil
}

func (s *fakeStore) SaveHeadPattern(libraryID string, head types.HeadPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.views[libraryID]
	if v != nil {
		h := head
		v.Head = &h
	}
	return nil
}

// noHeadManager always reports SKIPPED: no head, content is the raw line.
type noHeadManager struct{}

func (noHeadManager) Ensure(ctx context.Context, libraryID string, lines []types.RawLine, current *types.HeadPattern) (*types.HeadPattern, error) {
	return nil, nil
}

func (noHeadManager) ExtractContent(raw string, head *types.HeadPattern) (bool, string) {
	return false, ""
}

// fixedHeadManager returns a pre-derived head pattern and extracts content
// via stdlib regexp (tests don't need C4's LM-driven derivation, only C8's
// consumption of the manager's output contract).
type fixedHeadManager struct {
	head *types.HeadPattern
	re   *regexp.Regexp
}

func (f fixedHeadManager) Ensure(ctx context.Context, libraryID string, lines []types.RawLine, current *types.HeadPattern) (*types.HeadPattern, error) {
	return f.head, nil
}

func (f fixedHeadManager) ExtractContent(raw string, head *types.HeadPattern) (bool, string) {
	m := f.re.FindStringSubmatch(raw)
	if m == nil {
		return false, ""
	}
	return true, m[len(m)-1]
}

// fakeAgent scripts the four LM calls; nil funcs panic if invoked, so a
// test only wires the agents its scenario actually exercises.
type fakeAgent struct {
	routeFunc  func(ctx context.Context, samples []string, hint string) (types.RoutingResult, error)
	parseFunc  func(ctx context.Context, sample string) (types.ParsingResult, error)
	refineFunc func(ctx context.Context, candidatePT, candidateSample, conflictingPT string, conflictingSamples []string) (types.RefineResult, error)
}

func (f *fakeAgent) Route(ctx context.Context, samples []string, hint string) (types.RoutingResult, error) {
	return f.routeFunc(ctx, samples, hint)
}
func (f *fakeAgent) Parse(ctx context.Context, sample string) (types.ParsingResult, error) {
	return f.parseFunc(ctx, sample)
}
func (f *fakeAgent) Refine(ctx context.Context, candidatePT, candidateSample, conflictingPT string, conflictingSamples []string) (types.RefineResult, error) {
	return f.refineFunc(ctx, candidatePT, candidateSample, conflictingPT, conflictingSamples)
}
func (f *fakeAgent) Head(ctx context.Context, samples []string, previousPattern string) (types.HeadResult, error) {
	panic("Head not used by these scenarios")
}

func parseSuccess(template string) (types.ParsingResult, error) {
	return types.ParsingResult{
		Envelope: types.AgentEnvelope{Status: types.StatusSuccess},
		Output:   &types.ParsingOutput{Template: template},
	}, nil
}

func rawLines(texts ...string) []types.RawLine {
	out := make([]types.RawLine, len(texts))
	for i, t := range texts {
		out[i] = types.RawLine{Index: uint64(i), Text: t}
	}
	return out
}

// --- Scenario 1: fresh library, single template (spec §8.4 #1) ---

func TestProcessBatchFreshLibrarySingleTemplate(t *testing.T) {
	store := newFakeStore()
	me := match.New(2, nil)
	v := validator.New()
	cd := conflict.New()
	agent := &fakeAgent{
		parseFunc: func(ctx context.Context, sample string) (types.ParsingResult, error) {
			return parseSuccess("User ⟪alice⟫ logged in")
		},
	}

	o := New(store, me, noHeadManager{}, v, cd, agent, nil, nil, Config{})

	lines := rawLines(
		"User alice logged in",
		"User alice logged in",
		"User alice logged in",
		"User bob logged in",
		"User bob logged in",
	)
	summary, err := o.ProcessBatch(context.Background(), "run-1", lines, "", "app")
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(summary.NewTemplates) != 1 {
		t.Fatalf("expected exactly one new template, got %d: %+v", len(summary.NewTemplates), summary.NewTemplates)
	}
	if summary.MatchedLines != 5 {
		t.Fatalf("expected 5 matched lines, got %d", summary.MatchedLines)
	}
	if summary.UnresolvedLines != 0 {
		t.Fatalf("expected 0 unresolved, got %d", summary.UnresolvedLines)
	}
}

// --- Scenario 2: head induction (spec §8.4 #2) ---

func TestProcessBatchHeadInduction(t *testing.T) {
	store := newFakeStore()
	me := match.New(2, nil)
	v := validator.New()
	cd := conflict.New()

	headRe := regexp.MustCompile(`^\[[^\]]+\] (.*)$`)
	head := fixedHeadManager{head: &types.HeadPattern{Pattern: `^\[[^\]]+\] (.*)$`}, re: headRe}

	agent := &fakeAgent{
		parseFunc: func(ctx context.Context, sample string) (types.ParsingResult, error) {
			return parseSuccess("auth: user=⟪alice⟫")
		},
	}

	o := New(store, me, head, v, cd, agent, nil, nil, Config{})

	lines := rawLines(
		"[2024-01-01 10:00:00] auth: user=alice",
		"[2024-02-02 12:34:56] auth: user=bob",
	)
	summary, err := o.ProcessBatch(context.Background(), "run-2", lines, "", "auth")
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(summary.NewTemplates) != 1 {
		t.Fatalf("expected one content-only template, got %d", len(summary.NewTemplates))
	}
	tmpl := summary.NewTemplates[0]
	if !tmpl.Metadata.ContentOnly {
		t.Fatalf("expected template to be content_only")
	}
	if tmpl.Metadata.RawSample == "" || tmpl.Metadata.ContentSample == "" {
		t.Fatalf("expected raw_sample/content_sample to be populated, got %+v", tmpl.Metadata)
	}
	if summary.MatchedLines != 2 {
		t.Fatalf("expected both lines matched via content-only template, got %d", summary.MatchedLines)
	}
}

// --- Scenario 3: conflict + refine_candidate (spec §8.4 #3) ---
//
// Uses a scripted conflict detector (and a validator that always accepts)
// so the refinement loop's control flow — delete the conflicting set,
// adopt the refined PT, re-queue orphans — is exercised deterministically,
// independent of real regex overlap subtleties already covered by
// internal/conflict's own tests. The match engine stays real throughout:
// it is what lets a just-committed template correctly absorb the very
// sample that produced it, so the outer pending loop actually drains.

type fakeValidator struct{}

func (fakeValidator) Validate(ct *types.CompiledTemplate, entry types.LogEntry, contentOnly bool) interfaces.ValidationOutcome {
	return interfaces.ValidationOutcome{Valid: true}
}
func (fakeValidator) AttachHeadMetadata(rec *types.TemplateRecord, entry types.LogEntry, head *types.HeadPattern) {
	rec.Metadata.ContentOnly = true
	rec.Metadata.HeadPattern = head.Pattern
	rec.Metadata.RawSample = entry.Raw
	rec.Metadata.ContentSample = entry.Content
}

type fakeConflictDetector struct {
	responses []map[string][]string
	calls     int
}

func (f *fakeConflictDetector) Detect(candidatePT string, view *types.LibraryView) (map[string][]string, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func TestProcessBatchConflictRefine(t *testing.T) {
	store := newFakeStore()
	existing := types.TemplateRecord{ID: "svc#1", PlaceholderTemplate: "User ⟪alice⟫ logged in"}
	view, _ := store.LoadLibrary("svc")
	view.Templates = append(view.Templates, existing)
	view.MatchedSamples = append(view.MatchedSamples, types.MatchedSample{
		Raw: "User carol logged in", LineIndex: 0, TemplateID: "svc#1",
	})

	me := match.New(2, nil)
	cd := &fakeConflictDetector{responses: []map[string][]string{
		{"svc#1": {"User carol logged in"}},
		{},
	}}

	var refineCalls int
	agent := &fakeAgent{
		parseFunc: func(ctx context.Context, sample string) (types.ParsingResult, error) {
			return parseSuccess("User ⟪alice⟫ logged in at ⟪14:30⟫")
		},
		refineFunc: func(ctx context.Context, candidatePT, candidateSample, conflictingPT string, conflictingSamples []string) (types.RefineResult, error) {
			refineCalls++
			return types.RefineResult{
				Envelope: types.AgentEnvelope{Status: types.StatusSuccess},
				Output: &types.RefineOutput{
					Action:   types.RefineActionRefine,
					Template: "User ⟪alice⟫ logged in at ⟪14:30⟫",
				},
			}, nil
		},
	}

	o := New(store, me, noHeadManager{}, fakeValidator{}, cd, agent, nil, nil, Config{})

	lines := rawLines("User alice logged in at 14:30")
	summary, err := o.ProcessBatch(context.Background(), "run-3", lines, "", "svc")
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if refineCalls != 1 {
		t.Fatalf("expected exactly one refine call, got %d", refineCalls)
	}
	if len(summary.NewTemplates) != 1 {
		t.Fatalf("expected one new (refined) template, got %d", len(summary.NewTemplates))
	}
	if summary.NewTemplates[0].PlaceholderTemplate != "User ⟪alice⟫ logged in at ⟪14:30⟫" {
		t.Fatalf("expected refined candidate committed, got %q", summary.NewTemplates[0].PlaceholderTemplate)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "svc#1" {
		t.Fatalf("expected the conflicting template to be deleted, got %+v", store.deleted)
	}
}

// --- Scenario 4: adopt_candidate (spec §8.4 #4) ---

func TestProcessBatchAdoptCandidate(t *testing.T) {
	store := newFakeStore()
	existing := types.TemplateRecord{ID: "svc#1", PlaceholderTemplate: "User alice logged in"}
	view, _ := store.LoadLibrary("svc")
	view.Templates = append(view.Templates, existing)
	view.MatchedSamples = append(view.MatchedSamples, types.MatchedSample{
		Raw: "User alice logged in", LineIndex: 0, TemplateID: "svc#1",
	})

	me := match.New(2, nil)
	cd := &fakeConflictDetector{responses: []map[string][]string{
		{"svc#1": {"User alice logged in"}},
		{},
	}}

	agent := &fakeAgent{
		parseFunc: func(ctx context.Context, sample string) (types.ParsingResult, error) {
			return parseSuccess("User ⟪bob⟫ logged in")
		},
		refineFunc: func(ctx context.Context, candidatePT, candidateSample, conflictingPT string, conflictingSamples []string) (types.RefineResult, error) {
			return types.RefineResult{
				Envelope: types.AgentEnvelope{Status: types.StatusSuccess},
				Output: &types.RefineOutput{
					Action:   types.RefineActionAdopt,
					Template: "User ⟪bob⟫ logged in",
				},
			}, nil
		},
	}

	o := New(store, me, noHeadManager{}, fakeValidator{}, cd, agent, nil, nil, Config{})

	lines := rawLines("User bob logged in")
	summary, err := o.ProcessBatch(context.Background(), "run-4", lines, "", "svc")
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "svc#1" {
		t.Fatalf("expected the over-specific template deleted, got %+v", store.deleted)
	}
	if len(summary.NewTemplates) != 1 || summary.NewTemplates[0].Metadata.Provenance != string(types.RefineActionAdopt) {
		t.Fatalf("expected adopted template with provenance recorded, got %+v", summary.NewTemplates)
	}
}

// --- Bounded budget exhaustion ---

// TestProcessBatchConflictBudgetExhausted simulates a pathological library
// that keeps reporting a fresh conflicting template every round, so the
// MAX_REFINE_ITERATIONS budget is the only thing that stops the loop. Each
// round's conflicting id is distinct and still live when the loop reaches
// it, so the "stale id already removed" shortcut in resolveConflicts never
// fires — this exercises the genuine exhaustion path, not that shortcut.
func TestProcessBatchConflictBudgetExhausted(t *testing.T) {
	store := newFakeStore()
	view, _ := store.LoadLibrary("svc")
	view.Templates = append(view.Templates,
		types.TemplateRecord{ID: "svc#1", PlaceholderTemplate: "unrelated-one"},
		types.TemplateRecord{ID: "svc#2", PlaceholderTemplate: "unrelated-two"},
		types.TemplateRecord{ID: "svc#3", PlaceholderTemplate: "unrelated-three"},
	)

	me := match.New(2, nil)
	cd := &fakeConflictDetector{responses: []map[string][]string{
		{"svc#1": {"x 1"}},
		{"svc#2": {"x 1"}},
		{"svc#3": {"x 1"}},
	}}
	agent := &fakeAgent{
		parseFunc: func(ctx context.Context, sample string) (types.ParsingResult, error) {
			return parseSuccess("x ⟪1⟫")
		},
		refineFunc: func(ctx context.Context, candidatePT, candidateSample, conflictingPT string, conflictingSamples []string) (types.RefineResult, error) {
			return types.RefineResult{
				Envelope: types.AgentEnvelope{Status: types.StatusSuccess},
				Output:   &types.RefineOutput{Action: types.RefineActionRefine, Template: "x ⟪1⟫"},
			}, nil
		},
	}

	o := New(store, me, noHeadManager{}, fakeValidator{}, cd, agent, nil, nil, Config{MaxRefineIterations: 2})

	lines := rawLines("x 1")
	summary, err := o.ProcessBatch(context.Background(), "run-5", lines, "", "svc")
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if summary.UnresolvedLines != 1 {
		t.Fatalf("expected the line to end up unresolved, got %d", summary.UnresolvedLines)
	}
	if len(summary.Conflicts) != 1 || summary.Conflicts[0].Resolution != "unresolved" {
		t.Fatalf("expected one unresolved conflict report entry, got %+v", summary.Conflicts)
	}
	if len(store.deleted) != 2 {
		t.Fatalf("expected exactly the two rounds' worth of templates deleted, got %+v", store.deleted)
	}
}

// --- Skip-threshold short-circuit ---

func TestProcessBatchSkipThreshold(t *testing.T) {
	store := newFakeStore()
	me := match.New(2, nil)
	agent := &fakeAgent{
		parseFunc: func(ctx context.Context, sample string) (types.ParsingResult, error) {
			t.Fatal("parse should not be called once skip_threshold is reached")
			return types.ParsingResult{}, nil
		},
	}
	o := New(store, me, noHeadManager{}, fakeValidator{}, &fakeConflictDetector{}, agent, nil, nil, Config{SkipThreshold: 5})

	lines := rawLines("a", "b", "c")
	summary, err := o.ProcessBatch(context.Background(), "run-6", lines, "", "svc")
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if summary.UnresolvedLines != 3 {
		t.Fatalf("expected all 3 lines unresolved via skip_threshold, got %d", summary.UnresolvedLines)
	}
	if len(summary.NewTemplates) != 0 {
		t.Fatalf("expected no templates learned, got %d", len(summary.NewTemplates))
	}
}

// --- Fatal errors ---

func TestProcessBatchEmptyInputIsFatal(t *testing.T) {
	o := New(newFakeStore(), match.New(2, nil), noHeadManager{}, fakeValidator{}, &fakeConflictDetector{}, nil, nil, nil, Config{})
	_, err := o.ProcessBatch(context.Background(), "run-7", nil, "", "svc")
	if err == nil {
		t.Fatal("expected an error for empty input")
	}
	var inputErr *errors.InputError
	if !asInputError(err, &inputErr) {
		t.Fatalf("expected *errors.InputError, got %T: %v", err, err)
	}
}

func asInputError(err error, target **errors.InputError) bool {
	if e, ok := err.(*errors.InputError); ok {
		*target = e
		return true
	}
	return false
}

func TestProcessBatchRoutingFailureIsFatal(t *testing.T) {
	o := New(newFakeStore(), match.New(2, nil), noHeadManager{}, fakeValidator{}, &fakeConflictDetector{}, nil, nil, nil, Config{})
	_, err := o.ProcessBatch(context.Background(), "run-8", rawLines("a line with no hint"), "", "")
	if err == nil {
		t.Fatal("expected a routing failure with no source_hint, no override, and no agent")
	}
	if _, ok := err.(*errors.RoutingError); !ok {
		t.Fatalf("expected *errors.RoutingError, got %T: %v", err, err)
	}
}
