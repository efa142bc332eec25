// Package head implements the head-pattern manager (C4): deriving and
// incrementally refining the per-library line-prefix regex that exposes a
// content tail for downstream template learning (spec §4.4).
package head

import (
	"context"
	"log"
	"sync"

	"github.com/dlclark/regexp2"

	"github.com/qingrongy/logtmpl/pkg/interfaces"
	"github.com/qingrongy/logtmpl/pkg/types"
)

const (
	seedK         = 10
	picksPerRound = 3
	maxRounds     = 10
)

// Manager is the HeadManager implementation.
type Manager struct {
	agent    interfaces.LMAgentFacade
	sampler  interfaces.DiverseSampler
	observer interfaces.Observer
	logger   *log.Logger

	mu    sync.Mutex
	cache map[string]*regexp2.Regexp
}

// New builds a head manager. agent may be nil, in which case Ensure
// always returns SKIPPED (nil, nil) when no head pattern already exists.
func New(agent interfaces.LMAgentFacade, sampler interfaces.DiverseSampler, observer interfaces.Observer, logger *log.Logger) *Manager {
	if observer == nil {
		observer = interfaces.NopObserver{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Head] ", log.LstdFlags)
	}
	return &Manager{
		agent:    agent,
		sampler:  sampler,
		observer: observer,
		logger:   logger,
		cache:    make(map[string]*regexp2.Regexp),
	}
}

func (m *Manager) compile(pattern string) (*regexp2.Regexp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if re, ok := m.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	m.cache[pattern] = re
	return re, nil
}

// ExtractContent implements the output contract: content is the named
// group "content" (or head.ContentGroup, if set) when present, else
// capture group 1, else the raw line itself.
func (m *Manager) ExtractContent(raw string, head *types.HeadPattern) (bool, string) {
	if head == nil || head.Pattern == "" {
		return false, ""
	}
	re, err := m.compile(head.Pattern)
	if err != nil {
		return false, ""
	}
	match, err := re.FindStringMatch(raw)
	if err != nil || match == nil {
		return false, ""
	}
	groupName := "content"
	if head.ContentGroup != "" {
		groupName = head.ContentGroup
	}
	if g := match.GroupByName(groupName); g != nil && len(g.Captures) > 0 {
		return true, g.String()
	}
	if len(match.Groups()) > 1 {
		return true, match.GroupByNumber(1).String()
	}
	return true, raw
}

// acceptable reports whether a candidate pattern compiles and exposes a
// content group, named or first unnamed (spec §4.4 "Derive").
func acceptable(re *regexp2.Regexp) bool {
	for _, name := range re.GetGroupNames() {
		if name == "content" {
			return true
		}
	}
	return re.GroupCount() > 1
}

func unmatchedLines(m *Manager, head *types.HeadPattern, lines []string) []string {
	var unmatched []string
	for _, line := range lines {
		if matched, _ := m.ExtractContent(line, head); !matched {
			unmatched = append(unmatched, line)
		}
	}
	return unmatched
}

// Ensure runs the C4 state machine once per call: derive a head if none
// exists and an agent is available, then refine it against the given
// lines for up to MAX_ROUNDS, adopting only non-worsening candidates.
func (m *Manager) Ensure(ctx context.Context, libraryID string, lines []types.RawLine, current *types.HeadPattern) (*types.HeadPattern, error) {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}

	best := current
	seen := make(map[string]bool)
	var accumulator []string

	if best == nil {
		if m.agent == nil {
			m.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageHead, LibraryID: libraryID, Message: "no head pattern and no LM agent configured, skipping"})
			return nil, nil
		}
		seeds := m.sampler.Sample(texts, seedK)
		for _, s := range seeds {
			seen[s] = true
		}
		accumulator = append(accumulator, seeds...)

		result, err := m.agent.Head(ctx, accumulator, "")
		if err != nil {
			return nil, err
		}
		if result.Output == nil {
			m.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageHead, LibraryID: libraryID, Message: "head agent produced no usable output"})
			return nil, nil
		}
		re, err := m.compile(result.Output.Pattern)
		if err != nil || !acceptable(re) {
			m.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageFailure, LibraryID: libraryID, Message: "head candidate failed to compile or lacks a content group"})
			return nil, nil
		}
		best = &types.HeadPattern{Pattern: result.Output.Pattern}
		m.observer.OnStage(interfaces.StageEvent{Kind: interfaces.StageHead, LibraryID: libraryID, Message: "derived initial head pattern"})
	}

	for round := 0; round < maxRounds; round++ {
		unmatched := unmatchedLines(m, best, texts)
		if len(unmatched) == 0 {
			break
		}

		var fresh []string
		for _, line := range unmatched {
			if !seen[line] {
				fresh = append(fresh, line)
			}
		}
		if len(fresh) == 0 {
			// Nothing new to show the agent: refinement has stalled.
			break
		}
		picks := m.sampler.Sample(fresh, picksPerRound)
		for _, p := range picks {
			seen[p] = true
			accumulator = append(accumulator, p)
		}

		if m.agent == nil {
			break
		}
		result, err := m.agent.Head(ctx, accumulator, best.Pattern)
		if err != nil || result.Output == nil {
			break
		}
		re, err := m.compile(result.Output.Pattern)
		if err != nil || !acceptable(re) {
			continue
		}
		candidate := &types.HeadPattern{Pattern: result.Output.Pattern}
		candidateUnmatched := unmatchedLines(m, candidate, texts)
		if len(candidateUnmatched) <= len(unmatched) {
			best = candidate
			m.observer.OnStage(interfaces.StageEvent{
				Kind:      interfaces.StageHead,
				LibraryID: libraryID,
				Message:   "adopted refined head pattern",
				Count:     len(texts) - len(candidateUnmatched),
				Total:     len(texts),
			})
		}
	}

	return best, nil
}
