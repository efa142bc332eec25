// Package pipeline implements the pipeline orchestrator (C8): the
// per-batch state machine that drives routing, head induction, matching,
// and the per-line parse/validate/conflict/refine loop against the
// template library (spec §4.8). It is single-writer cooperative — the
// only fan-out in the whole system lives inside the match engine it
// calls.
package pipeline

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/qingrongy/logtmpl/internal/codec"
	"github.com/qingrongy/logtmpl/pkg/errors"
	"github.com/qingrongy/logtmpl/pkg/interfaces"
	"github.com/qingrongy/logtmpl/pkg/types"
)

// Config holds the orchestrator's tunables; everything else it needs is
// injected as an interface (spec §9 "No global state").
type Config struct {
	SkipThreshold       int
	MaxRefineIterations int
}

func (c Config) withDefaults() Config {
	if c.MaxRefineIterations <= 0 {
		c.MaxRefineIterations = 5
	}
	return c
}

// Orchestrator wires C1-C7 and C9 together into the per-batch state
// machine.
type Orchestrator struct {
	store     interfaces.TemplateStore
	match     interfaces.MatchEngine
	head      interfaces.HeadManager
	validator interfaces.TemplateValidator
	conflict  interfaces.ConflictDetector
	agent     interfaces.LMAgentFacade
	observer  interfaces.Observer
	logger    *log.Logger
	codec     *codec.PT
	cfg       Config
}

// New builds an orchestrator. agent may be nil (e.g. --match-only
// callers use Replay instead, but a nil agent here still degrades
// gracefully: routing falls back to source_hint and every pending line
// is declared unresolved immediately).
func New(
	store interfaces.TemplateStore,
	match interfaces.MatchEngine,
	head interfaces.HeadManager,
	validator interfaces.TemplateValidator,
	conflict interfaces.ConflictDetector,
	agent interfaces.LMAgentFacade,
	observer interfaces.Observer,
	logger *log.Logger,
	cfg Config,
) *Orchestrator {
	if observer == nil {
		observer = interfaces.NopObserver{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Pipeline] ", log.LstdFlags)
	}
	return &Orchestrator{
		store:     store,
		match:     match,
		head:      head,
		validator: validator,
		conflict:  conflict,
		agent:     agent,
		observer:  observer,
		logger:    logger,
		codec:     codec.New(),
		cfg:       cfg.withDefaults(),
	}
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "unknown"
	}
	return slug
}

func failureRecord(entry types.LogEntry, stage, reason string) types.FailureRecord {
	return types.FailureRecord{
		LineIndex: entry.Index,
		Raw:       entry.Raw,
		Stage:     stage,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func sampleToEntry(s types.MatchedSample) types.LogEntry {
	return types.LogEntry{
		Index:       s.LineIndex,
		Raw:         s.Raw,
		Content:     s.Content,
		HeadMatched: s.Content != "",
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func findTemplate(templates []types.TemplateRecord, id string) *types.TemplateRecord {
	for i := range templates {
		if templates[i].ID == id {
			return &templates[i]
		}
	}
	return nil
}

func removeTemplate(templates []types.TemplateRecord, id string) []types.TemplateRecord {
	out := templates[:0:0]
	for _, t := range templates {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// ProcessBatch runs the full route → load → head → match → learn loop
// over one batch of raw lines and returns its summary. libraryOverride,
// when non-empty (the CLI's --library flag), bypasses routing entirely.
func (o *Orchestrator) ProcessBatch(ctx context.Context, runID string, lines []types.RawLine, sourceHint, libraryOverride string) (*types.LogProcessingSummary, error) {
	if len(lines) == 0 {
		return nil, errors.NewInputError("no lines read")
	}

	libraryID, err := o.route(ctx, lines, sourceHint, libraryOverride)
	if err != nil {
		return nil, err
	}
	o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageRouting, LibraryID: libraryID, Message: "routed batch"})

	view, err := o.store.LoadLibrary(libraryID)
	if err != nil {
		return nil, err
	}

	head := o.ensureHead(ctx, libraryID, lines, view)

	entries := o.buildEntries(lines, head)

	summary := &types.LogProcessingSummary{
		RunID:      runID,
		LibraryID:  libraryID,
		TotalLines: len(lines),
		StartedAt:  time.Now(),
	}
	matched := make(map[uint64]bool)
	recordMatch := func(mr types.MatchRecord) {
		if matched[mr.LineIndex] {
			return
		}
		matched[mr.LineIndex] = true
		summary.Matches = append(summary.Matches, mr)
	}

	pending, err := o.initialMatch(libraryID, entries, view, recordMatch)
	if err != nil {
		return nil, err
	}
	o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageMatching, LibraryID: libraryID, Count: len(entries) - len(pending), Total: len(entries)})

	for len(pending) > 0 {
		if o.agent == nil || len(pending) <= o.cfg.SkipThreshold {
			for _, e := range pending {
				summary.Failures = append(summary.Failures, failureRecord(e, "skip_threshold", "skip_threshold_reached"))
			}
			summary.UnresolvedLines += len(pending)
			o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageUnmatched, LibraryID: libraryID, Count: len(pending)})
			break
		}

		entry := pending[0]
		pending = pending[1:]

		target := entry.Raw
		contentOnly := false
		if head != nil {
			if !entry.HeadMatched {
				summary.Failures = append(summary.Failures, failureRecord(entry, "parsing", "head_uncovered"))
				summary.UnresolvedLines++
				continue
			}
			target = entry.Content
			contentOnly = true
		}

		o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageParsing, LibraryID: libraryID, LineIndex: entry.Index})
		parseResult, err := o.agent.Parse(ctx, target)
		if err != nil || parseResult.Envelope.Status != types.StatusSuccess {
			summary.Failures = append(summary.Failures, failureRecord(entry, "parsing", "lm_agent_failure"))
			summary.UnresolvedLines++
			continue
		}

		parsed, err := o.codec.Parse(parseResult.Output.Template)
		if err != nil {
			summary.Failures = append(summary.Failures, failureRecord(entry, "parsing", "codec_error"))
			summary.UnresolvedLines++
			continue
		}
		ct, err := o.codec.Compile(parsed, target)
		if err != nil {
			summary.Failures = append(summary.Failures, failureRecord(entry, "parsing", "codec_error"))
			summary.UnresolvedLines++
			continue
		}

		rec := types.TemplateRecord{
			PlaceholderTemplate: codec.RenderFromCompiled(parsed, ct),
			ExampleValues:       ct.ExampleValues,
		}
		if head != nil {
			o.validator.AttachHeadMetadata(&rec, entry, head)
		}
		rec.Metadata.Provenance = "parse"

		o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageValidation, LibraryID: libraryID, LineIndex: entry.Index})
		outcome := o.validator.Validate(ct, entry, contentOnly)
		if !outcome.Valid {
			summary.Failures = append(summary.Failures, failureRecord(entry, "validation", "validation_mismatch"))
			summary.UnresolvedLines++
			continue
		}

		offenders, err := o.conflict.Detect(rec.PlaceholderTemplate, view)
		if err != nil {
			summary.Failures = append(summary.Failures, failureRecord(entry, "conflict", "conflict_detect_error"))
			summary.UnresolvedLines++
			continue
		}

		if len(offenders) == 0 {
			saved, err := o.store.SaveTemplate(libraryID, rec)
			if err != nil {
				return nil, err
			}
			o.match.Invalidate(saved.ID)
			view.Templates = append(view.Templates, saved)
			residual, matches, err := o.finalizeTemplate(libraryID, saved, entry, pending)
			if err != nil {
				return nil, err
			}
			for _, mr := range matches {
				recordMatch(mr)
			}
			summary.NewTemplates = append(summary.NewTemplates, saved)
			pending = residual
			o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageUpdate, LibraryID: libraryID, Message: "committed template " + saved.ID})
			continue
		}

		o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageRefine, LibraryID: libraryID, LineIndex: entry.Index, Count: len(offenders)})
		result := o.resolveConflicts(ctx, libraryID, view, head, rec.PlaceholderTemplate, entry, target, contentOnly, offenders)
		if result.fatalErr != nil {
			return nil, result.fatalErr
		}
		if result.newTemplate != nil {
			summary.NewTemplates = append(summary.NewTemplates, *result.newTemplate)
		}
		for _, mr := range result.matches {
			recordMatch(mr)
		}
		if result.failure != nil {
			summary.Failures = append(summary.Failures, *result.failure)
			summary.UnresolvedLines++
		}
		if result.conflictEntry != nil {
			summary.Conflicts = append(summary.Conflicts, *result.conflictEntry)
		}
		pending = append(pending, result.residualPending...)
	}

	summary.MatchedLines = len(summary.Matches)
	summary.FinishedAt = time.Now()
	summary.Latency = o.match.LatencySnapshot()
	o.observer.OnStage(interfaces.StageEvent{
		Kind:      interfaces.StageBatchProgress,
		LibraryID: libraryID,
		Count:     summary.MatchedLines,
		Total:     summary.TotalLines,
		Latency:   summary.Latency,
	})
	return summary, nil
}

func (o *Orchestrator) route(ctx context.Context, lines []types.RawLine, sourceHint, libraryOverride string) (string, error) {
	if libraryOverride != "" {
		return libraryOverride, nil
	}
	if o.agent != nil {
		n := len(lines)
		if n > 10 {
			n = 10
		}
		samples := make([]string, n)
		for i := 0; i < n; i++ {
			samples[i] = lines[i].Text
		}
		result, err := o.agent.Route(ctx, samples, sourceHint)
		if err == nil && result.Envelope.Status == types.StatusSuccess && result.Output != nil && result.Output.Type != "" {
			return result.Output.Type, nil
		}
	}
	if sourceHint != "" {
		return slugify(sourceHint), nil
	}
	return "", errors.NewRoutingError("LM classification failed and no source_hint was provided")
}

func (o *Orchestrator) ensureHead(ctx context.Context, libraryID string, lines []types.RawLine, view *types.LibraryView) *types.HeadPattern {
	derived, err := o.head.Ensure(ctx, libraryID, lines, view.Head)
	if err != nil {
		o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageFailure, LibraryID: libraryID, Message: "head derivation failed: " + err.Error(), Err: err})
		return view.Head
	}
	if derived != nil && (view.Head == nil || derived.Pattern != view.Head.Pattern) {
		if err := o.store.SaveHeadPattern(libraryID, *derived); err != nil {
			o.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageFailure, LibraryID: libraryID, Message: "failed to persist head pattern: " + err.Error(), Err: err})
		}
	}
	return derived
}

func (o *Orchestrator) buildEntries(lines []types.RawLine, head *types.HeadPattern) []types.LogEntry {
	entries := make([]types.LogEntry, len(lines))
	for i, l := range lines {
		e := types.LogEntry{Index: l.Index, Raw: l.Text}
		if head != nil {
			matched, content := o.head.ExtractContent(l.Text, head)
			e.HeadMatched = matched
			e.Content = content
		}
		entries[i] = e
	}
	return entries
}

func (o *Orchestrator) initialMatch(libraryID string, entries []types.LogEntry, view *types.LibraryView, recordMatch func(types.MatchRecord)) ([]types.LogEntry, error) {
	results := o.match.Match(entries, view.Templates)
	var pending []types.LogEntry
	var toRecord []types.MatchedSample
	for i, res := range results {
		if res.Matched {
			recordMatch(res)
			toRecord = append(toRecord, types.MatchedSample{
				Raw: res.Raw, Content: res.Content, LineIndex: res.LineIndex,
				TemplateID: res.Template.ID, Variables: res.Variables, CreatedAt: time.Now(),
			})
		} else {
			pending = append(pending, entries[i])
		}
	}
	if len(toRecord) > 0 {
		if err := o.store.RecordMatches(libraryID, toRecord); err != nil {
			return nil, err
		}
	}
	return pending, nil
}

// finalizeTemplate implements spec §4.8.1: re-match sample+pending
// against the just-committed template, record matches, return residual.
func (o *Orchestrator) finalizeTemplate(libraryID string, tmpl types.TemplateRecord, sample types.LogEntry, pendingEntries []types.LogEntry) ([]types.LogEntry, []types.MatchRecord, error) {
	candidates := make([]types.LogEntry, 0, len(pendingEntries)+1)
	candidates = append(candidates, sample)
	candidates = append(candidates, pendingEntries...)

	results := o.match.Match(candidates, []types.TemplateRecord{tmpl})

	var residual []types.LogEntry
	var matches []types.MatchRecord
	var toRecord []types.MatchedSample
	for i, res := range results {
		if res.Matched {
			matches = append(matches, res)
			toRecord = append(toRecord, types.MatchedSample{
				Raw: res.Raw, Content: res.Content, LineIndex: res.LineIndex,
				TemplateID: tmpl.ID, Variables: res.Variables, CreatedAt: time.Now(),
			})
		} else {
			residual = append(residual, candidates[i])
		}
	}
	if len(toRecord) > 0 {
		if err := o.store.RecordMatches(libraryID, toRecord); err != nil {
			return nil, nil, err
		}
	}
	return residual, matches, nil
}

// conflictOutcome threads every possible result of resolveConflicts back
// to the caller without panicking across package-internal control flow.
type conflictOutcome struct {
	residualPending []types.LogEntry
	matches         []types.MatchRecord
	newTemplate     *types.TemplateRecord
	failure         *types.FailureRecord
	conflictEntry   *types.ConflictReportEntry
	fatalErr        error
}

// resolveConflicts implements spec §4.8.2: the bounded refinement loop
// that either converges on a conflict-free template (committed via
// finalizeTemplate) or exhausts MAX_REFINE_ITERATIONS and reports an
// unresolved conflict.
func (o *Orchestrator) resolveConflicts(
	ctx context.Context,
	libraryID string,
	view *types.LibraryView,
	head *types.HeadPattern,
	candidatePT string,
	candidateEntry types.LogEntry,
	candidateTarget string,
	contentOnly bool,
	offenders map[string][]string,
) conflictOutcome {
	currentPT := candidatePT
	var orphaned []types.LogEntry
	var lastAction types.RefineAction

	for iteration := 0; iteration < o.cfg.MaxRefineIterations; iteration++ {
		if len(offenders) == 0 {
			parsed, err := o.codec.Parse(currentPT)
			if err != nil {
				return conflictOutcome{residualPending: orphaned, failure: ptrFailure(failureRecord(candidateEntry, "refine", "codec_error"))}
			}
			ct, err := o.codec.Compile(parsed, candidateTarget)
			if err != nil {
				return conflictOutcome{residualPending: orphaned, failure: ptrFailure(failureRecord(candidateEntry, "refine", "codec_error"))}
			}
			rec := types.TemplateRecord{
				PlaceholderTemplate: codec.RenderFromCompiled(parsed, ct),
				ExampleValues:       ct.ExampleValues,
			}
			if head != nil {
				o.validator.AttachHeadMetadata(&rec, candidateEntry, head)
			}
			if lastAction != "" {
				rec.Metadata.Provenance = string(lastAction)
			} else {
				rec.Metadata.Provenance = "parse"
			}
			saved, err := o.store.SaveTemplate(libraryID, rec)
			if err != nil {
				return conflictOutcome{fatalErr: err}
			}
			o.match.Invalidate(saved.ID)
			view.Templates = append(view.Templates, saved)

			residual, matches, err := o.finalizeTemplate(libraryID, saved, candidateEntry, orphaned)
			if err != nil {
				return conflictOutcome{fatalErr: err}
			}
			return conflictOutcome{residualPending: residual, matches: matches, newTemplate: &saved}
		}

		ids := sortedKeys(offenders)
		firstID := ids[0]
		conflicting := findTemplate(view.Templates, firstID)
		if conflicting == nil {
			delete(offenders, firstID)
			iteration--
			continue
		}

		refineResult, err := o.agent.Refine(ctx, currentPT, candidateTarget, conflicting.PlaceholderTemplate, offenders[firstID])
		if err != nil || refineResult.Envelope.Status != types.StatusSuccess || refineResult.Output == nil {
			return conflictOutcome{
				residualPending: orphaned,
				failure:         ptrFailure(failureRecord(candidateEntry, "refine", "lm_agent_failure")),
			}
		}

		for _, id := range ids {
			_ = o.store.DeleteTemplate(libraryID, id)
			o.match.Invalidate(id)
			for _, s := range view.MatchedSamples {
				if s.TemplateID == id {
					orphaned = append(orphaned, sampleToEntry(s))
				}
			}
			view.Templates = removeTemplate(view.Templates, id)
		}

		currentPT = refineResult.Output.Template
		lastAction = refineResult.Output.Action

		parsed, err := o.codec.Parse(currentPT)
		if err != nil {
			return conflictOutcome{residualPending: orphaned, failure: ptrFailure(failureRecord(candidateEntry, "refine", "codec_error"))}
		}
		ct, err := o.codec.Compile(parsed, candidateTarget)
		if err != nil {
			return conflictOutcome{residualPending: orphaned, failure: ptrFailure(failureRecord(candidateEntry, "refine", "codec_error"))}
		}
		validated := o.validator.Validate(ct, candidateEntry, contentOnly)
		if !validated.Valid {
			return conflictOutcome{residualPending: orphaned, failure: ptrFailure(failureRecord(candidateEntry, "refine", "validation_mismatch"))}
		}
		currentPT = codec.RenderFromCompiled(parsed, ct)

		nextOffenders, err := o.conflict.Detect(currentPT, view)
		if err != nil {
			return conflictOutcome{residualPending: orphaned, failure: ptrFailure(failureRecord(candidateEntry, "refine", "conflict_detect_error"))}
		}
		offenders = nextOffenders
	}

	entry := failureRecord(candidateEntry, "refine", "conflict_budget_exhausted")
	return conflictOutcome{
		residualPending: orphaned,
		failure:         &entry,
		conflictEntry: &types.ConflictReportEntry{
			LineIndex:       candidateEntry.Index,
			CandidateSample: candidateTarget,
			ConflictingIDs:  sortedKeys(offenders),
			Resolution:      "unresolved",
			IterationsUsed:  o.cfg.MaxRefineIterations,
		},
	}
}

func ptrFailure(f types.FailureRecord) *types.FailureRecord { return &f }
