// Package match implements the worker-pool match engine (C3): applying a
// library's compiled templates to log entries, first-match-wins, with a
// process-local content-addressed compiled-regex cache (spec §4.3).
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/dlclark/regexp2"

	"github.com/qingrongy/logtmpl/internal/codec"
	"github.com/qingrongy/logtmpl/pkg/types"
)

// compiledEntry is one cache slot: the regexp2 matcher plus the variable
// name order needed to turn a match into a map.
type compiledEntry struct {
	re      *regexp2.Regexp
	varOrder []string
}

// Engine is the MatchEngine implementation. The cache is safe to share
// read-only across worker goroutines; writes go through sync.Map so no
// external locking is required (spec §4.3 "Shared resources").
type Engine struct {
	workers int
	cache   sync.Map // string -> *compiledEntry
	hist    *hdrhistogram.Histogram
	histMu  sync.Mutex
	logger  *log.Logger
	codec   *codec.PT
}

// New builds a match engine with the given worker count. workers <= 0
// defaults to GOMAXPROCS, mirroring the teacher's "size the pool to the
// machine" convention.
func New(workers int, logger *log.Logger) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Match] ", log.LstdFlags)
	}
	return &Engine{
		workers: workers,
		hist:    hdrhistogram.New(1, 10_000_000, 3), // nanoseconds, microsecond precision-ish
		logger:  logger,
		codec:   codec.New(),
	}
}

// cacheKey implements spec §4.3's "Compiled-template cache... keyed by
// template.id when available, else by a stable hash of
// placeholder_template + example_values."
func cacheKey(t types.TemplateRecord) string {
	if t.ID != "" {
		return t.ID
	}
	h := sha256.New()
	h.Write([]byte(t.PlaceholderTemplate))
	// Fold each name/value pair in with XOR so the key does not depend on
	// map iteration order.
	var acc [sha256.Size]byte
	for k, v := range t.ExampleValues {
		pair := sha256.Sum256([]byte(k + "\x00" + v))
		for i := range acc {
			acc[i] ^= pair[i]
		}
	}
	h.Write(acc[:])
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) compile(t types.TemplateRecord) (*compiledEntry, error) {
	key := cacheKey(t)
	if v, ok := e.cache.Load(key); ok {
		return v.(*compiledEntry), nil
	}

	parsed, err := e.codec.Parse(t.PlaceholderTemplate)
	if err != nil {
		return nil, err
	}
	ct, err := e.codec.Compile(parsed, "")
	if err != nil {
		return nil, err
	}
	re, err := regexp2.Compile(ct.Pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	entry := &compiledEntry{re: re, varOrder: ct.VariableOrder}
	e.cache.Store(key, entry)
	return entry, nil
}

// Invalidate drops a cached compiled regex, required on template
// save/delete so stale entries never outlive their template (spec §9.321).
func (e *Engine) Invalidate(templateID string) {
	e.cache.Delete(templateID)
}

// Match applies templates to entries, first template whose compiled
// pattern fully matches the target text wins (first-match-wins, not
// longest-match, per spec §4.3). Entries are dispatched across a worker
// pool; each entry's result is independent of every other's.
func (e *Engine) Match(entries []types.LogEntry, templates []types.TemplateRecord) []types.MatchRecord {
	results := make([]types.MatchRecord, len(entries))

	type job struct {
		idx   int
		entry types.LogEntry
	}
	jobs := make(chan job, len(entries))
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			results[j.idx] = e.matchOne(j.entry, templates)
		}
	}

	n := e.workers
	if n > len(entries) {
		n = len(entries)
	}
	if n < 1 {
		n = 1
	}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go worker()
	}
	for i, entry := range entries {
		jobs <- job{idx: i, entry: entry}
	}
	close(jobs)
	wg.Wait()

	return results
}

func (e *Engine) matchOne(entry types.LogEntry, templates []types.TemplateRecord) types.MatchRecord {
	start := timeNow()
	defer func() {
		elapsed := timeNow().Sub(start).Nanoseconds()
		if elapsed < 1 {
			elapsed = 1
		}
		e.histMu.Lock()
		_ = e.hist.RecordValue(elapsed)
		e.histMu.Unlock()
	}()

	for i := range templates {
		tmpl := templates[i]
		compiled, err := e.compile(tmpl)
		if err != nil {
			e.logger.Printf("skip uncompilable template %s: %v", tmpl.ID, err)
			continue
		}
		target := entry.TargetText(tmpl.Metadata.ContentOnly)
		m, err := compiled.re.FindStringMatch(target)
		if err != nil || m == nil || m.String() != target {
			continue
		}
		vars := make(map[string]string, len(compiled.varOrder))
		for vi, name := range compiled.varOrder {
			g := m.GroupByName(name)
			if g != nil && len(g.Captures) > 0 {
				vars[name] = g.String()
				continue
			}
			if vi+1 < len(m.Groups()) {
				vars[name] = m.GroupByNumber(vi + 1).String()
			}
		}
		return types.MatchRecord{
			LineIndex: entry.Index,
			Raw:       entry.Raw,
			Content:   entry.Content,
			Matched:   true,
			Template:  &tmpl,
			Variables: vars,
		}
	}
	return types.MatchRecord{
		LineIndex: entry.Index,
		Raw:       entry.Raw,
		Content:   entry.Content,
		Matched:   false,
	}
}

// LatencySnapshot reports the p50/p95/p99 match latency in nanoseconds
// observed so far, surfaced through LogProcessingSummary and the
// observer's batch_progress event (interfaces.MatchEngine).
func (e *Engine) LatencySnapshot() types.MatchLatencySnapshot {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	return types.MatchLatencySnapshot{
		P50:   e.hist.ValueAtQuantile(50),
		P95:   e.hist.ValueAtQuantile(95),
		P99:   e.hist.ValueAtQuantile(99),
		Count: e.hist.TotalCount(),
	}
}

var timeNow = time.Now
