package types

import "time"

// Placeholder delimiters for the annotated template wire format (spec §6.1).
// This is the single fixed choice for the whole system — mixing delimiter
// grammars is disallowed (spec §9, open question 3).
const (
	PlaceholderOpen  = "⟪" // "⟪"
	PlaceholderClose = "⟫" // "⟫"
)

// PlaceholderSegment is one element of a parsed Placeholder Template: either
// literal text or a placeholder carrying its raw example value.
type PlaceholderSegment struct {
	Literal bool
	Text    string // literal text when Literal is true
	Value   string // raw example value when Literal is false
}

// PlaceholderTemplate is the annotated string an LM produces: literal text
// interleaved with placeholder spans delimited by PlaceholderOpen/Close.
type PlaceholderTemplate struct {
	Raw      string               `json:"raw"`
	Segments []PlaceholderSegment `json:"-"`
}

// CompiledTemplate is a Placeholder Template turned into a matcher: a fully
// anchored regex with named capture groups v1..vN, the order those names
// appear in, and the example values read off the originating PT.
type CompiledTemplate struct {
	Pattern        string            `json:"pattern"`
	VariableOrder  []string          `json:"variable_order"`
	ExampleValues  map[string]string `json:"example_values"`
}

// TemplateRecord is the persisted form of a committed template.
type TemplateRecord struct {
	ID                  string            `json:"id"`
	LibraryID           string            `json:"library_id"`
	PlaceholderTemplate string            `json:"placeholder_template"`
	ExampleValues       map[string]string `json:"example_values"`
	Metadata            TemplateMetadata  `json:"metadata"`
	CreatedAt           time.Time         `json:"created_at"`
}

// TemplateMetadata carries the provenance and content-only routing flag
// attached to a template by the validator (C5, §4.5).
type TemplateMetadata struct {
	ContentOnly   bool   `json:"content_only"`
	HeadPattern   string `json:"head_pattern,omitempty"`
	RawSample     string `json:"raw_sample,omitempty"`
	ContentSample string `json:"content_sample,omitempty"`
	Provenance    string `json:"provenance,omitempty"` // "parse" | "refine_candidate" | "adopt_candidate"
}

// HeadPattern is the per-library line-prefix regex exposing a content tail
// (spec §3.1, §4.4).
type HeadPattern struct {
	Pattern       string `json:"pattern"`
	ContentGroup  string `json:"content_group,omitempty"` // named group, empty means "first unnamed group"
}

// MatchedSample is one successful match recorded against a library, used
// later by the conflict detector (C6) to test candidate templates against
// real history.
type MatchedSample struct {
	Raw       string            `json:"raw"`
	Content   string            `json:"content,omitempty"`
	LineIndex uint64            `json:"line_index"`
	TemplateID string           `json:"template_id"`
	Variables map[string]string `json:"variables"`
	CreatedAt time.Time         `json:"created_at"`
}

// LibraryView is the in-memory snapshot C2.load_library returns: templates
// ordered by creation time, the most recent matched samples (bounded by
// N_max_samples), the current head pattern, and the next-id counter.
type LibraryView struct {
	ID                 string
	Templates          []TemplateRecord
	MatchedSamples     []MatchedSample
	Head               *HeadPattern
	NextTemplateNumber int
}

// FailureRecord captures a line-level failure for the *-failures.jsonl
// report (spec §6.4, §7).
type FailureRecord struct {
	LineIndex uint64                 `json:"line_index"`
	Raw       string                 `json:"raw"`
	Stage     string                 `json:"stage"`
	Reason    string                 `json:"reason"`
	Timestamp time.Time              `json:"timestamp"`
	Template  *TemplateRecord        `json:"template,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
