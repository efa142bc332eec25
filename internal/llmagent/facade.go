// Package llmagent implements the LM agent facade (C7): four typed
// agents — routing, parsing, refine, head — sharing one HTTP transport,
// retry policy, and STRUCTURE/BUSINESS-DATA preamble, narrowing raw JSON
// responses into the typed result shapes the orchestrator consumes
// (spec §4.7).
package llmagent

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/qingrongy/logtmpl/pkg/types"
)

// Facade is the LMAgentFacade implementation.
type Facade struct {
	client *client
}

// New builds a facade backed by a single HTTP transport shared by all
// four agent kinds.
func New(cfg Config, logger *log.Logger) *Facade {
	return &Facade{client: newClient(cfg, logger)}
}

func buildUser(instructions string, samples []string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nSamples:\n")
	for _, s := range samples {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSON trims any prose/markdown fencing the LM added around the
// object it was told to return bare, returning the first balanced-looking
// {...} span.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

// callWithRetry sends system+user, and if the response isn't valid JSON
// carrying every field in required, retries exactly once with the
// "JSON only" reminder appended (spec §4.7 "Retry policy").
func callWithRetry(ctx context.Context, c *client, system, user string, required []string) (gjson.Result, []string, error) {
	raw, err := c.send(ctx, system, user)
	if err != nil {
		return gjson.Result{}, nil, err
	}
	parsed := gjson.Parse(extractJSON(raw))
	if missing := missingFields(parsed, required); len(missing) == 0 {
		return parsed, nil, nil
	}

	raw, err = c.send(ctx, system, user+jsonOnlyReminder)
	if err != nil {
		return gjson.Result{}, nil, err
	}
	parsed = gjson.Parse(extractJSON(raw))
	missing := missingFields(parsed, required)
	return parsed, missing, nil
}

func missingFields(parsed gjson.Result, required []string) []string {
	if !parsed.IsObject() {
		return required
	}
	var missing []string
	for _, field := range required {
		if !parsed.Get(field).Exists() {
			missing = append(missing, field)
		}
	}
	return missing
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a routing agent's free-text "type" into a library id:
// lowercase, non-alphanumeric runs collapse to "-", trimmed, falling back
// to "unknown" (spec §4.7).
func slugify(s string) string {
	lower := strings.ToLower(s)
	slug := slugInvalid.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "unknown"
	}
	return slug
}

// Route classifies a batch's samples into a library id.
func (f *Facade) Route(ctx context.Context, samples []string, hint string) (types.RoutingResult, error) {
	instructions := "Classify the log source these lines came from. Respond with JSON: " +
		`{"type": "<short source name>", "evidence": "<why, optional>"}.`
	if hint != "" {
		instructions += fmt.Sprintf(" A hint was supplied by the caller: %q. Prefer it unless the samples clearly contradict it.", hint)
	}
	system := sharedPreamble
	user := buildUser(instructions, samples)

	parsed, missing, err := callWithRetry(ctx, f.client, system, user, []string{"type"})
	if err != nil {
		return types.RoutingResult{Envelope: types.AgentEnvelope{Status: types.StatusRetryableError, Issues: []string{err.Error()}}}, nil
	}
	if len(missing) > 0 {
		return types.RoutingResult{Envelope: types.AgentEnvelope{Status: types.StatusNeedsInput, Issues: missing}}, nil
	}

	out := &types.RoutingOutput{
		Type:     slugify(parsed.Get("type").String()),
		Evidence: parsed.Get("evidence").String(),
	}
	return types.RoutingResult{
		Envelope: types.AgentEnvelope{Status: types.StatusSuccess},
		Output:   out,
	}, nil
}

// Parse asks the LM to annotate one log line as a Placeholder Template.
func (f *Facade) Parse(ctx context.Context, sample string) (types.ParsingResult, error) {
	instructions := "Annotate the BUSINESS DATA spans in this line by wrapping each one in ⟪ and ⟫, " +
		`leaving STRUCTURE untouched. Respond with JSON: {"template": "<annotated line>", "description": "<optional>", "example": "<optional>"}.`
	system := sharedPreamble
	user := buildUser(instructions, []string{sample})

	parsed, missing, err := callWithRetry(ctx, f.client, system, user, []string{"template"})
	if err != nil {
		return types.ParsingResult{Envelope: types.AgentEnvelope{Status: types.StatusRetryableError, Issues: []string{err.Error()}}}, nil
	}
	if len(missing) > 0 {
		return types.ParsingResult{Envelope: types.AgentEnvelope{Status: types.StatusNeedsInput, Issues: missing}}, nil
	}

	out := &types.ParsingOutput{
		Template:    parsed.Get("template").String(),
		Description: parsed.Get("description").String(),
		Example:     parsed.Get("example").String(),
	}
	return types.ParsingResult{
		Envelope: types.AgentEnvelope{Status: types.StatusSuccess},
		Output:   out,
	}, nil
}

// Refine asks the LM to resolve a conflict between a candidate template
// and one it overlaps with, either narrowing the candidate further or
// recommending it replace the existing one outright.
func (f *Facade) Refine(ctx context.Context, candidatePT, candidateSample, conflictingPT string, conflictingSamples []string) (types.RefineResult, error) {
	instructions := fmt.Sprintf(
		`A candidate template %q (sample: %q) also matches samples already owned by an existing template %q. `+
			`Decide whether the candidate should be narrowed ("refine_candidate") so it no longer overlaps, or whether `+
			`the existing template was actually too narrow and the candidate should replace it ("adopt_candidate"). `+
			`Respond with JSON: {"action": "refine_candidate"|"adopt_candidate", "template": "<annotated PT>", "explain": "<optional>"}.`,
		candidatePT, candidateSample, conflictingPT)
	system := sharedPreamble
	user := buildUser(instructions, conflictingSamples)

	parsed, missing, err := callWithRetry(ctx, f.client, system, user, []string{"action", "template"})
	if err != nil {
		return types.RefineResult{Envelope: types.AgentEnvelope{Status: types.StatusRetryableError, Issues: []string{err.Error()}}}, nil
	}
	if len(missing) > 0 {
		return types.RefineResult{Envelope: types.AgentEnvelope{Status: types.StatusNeedsInput, Issues: missing}}, nil
	}

	action := types.RefineAction(parsed.Get("action").String())
	if action != types.RefineActionRefine && action != types.RefineActionAdopt {
		return types.RefineResult{Envelope: types.AgentEnvelope{
			Status: types.StatusNeedsInput,
			Issues: []string{fmt.Sprintf("unrecognized refine action %q", action)},
		}}, nil
	}

	out := &types.RefineOutput{
		Action:   action,
		Template: parsed.Get("template").String(),
		Explain:  parsed.Get("explain").String(),
	}
	return types.RefineResult{
		Envelope: types.AgentEnvelope{Status: types.StatusSuccess},
		Output:   out,
	}, nil
}

// Head asks the LM to derive or refine the library's head pattern.
func (f *Facade) Head(ctx context.Context, samples []string, previousPattern string) (types.HeadResult, error) {
	instructions := "These lines share a common line-prefix STRUCTURE (timestamps, severities, process tags) " +
		`followed by a content tail. Produce a single regular expression with a named capture group "content" ` +
		`spanning that tail. Respond with JSON: {"pattern": "<regex>", "notes": "<optional>"}.`
	if previousPattern != "" {
		instructions += fmt.Sprintf(" The current best pattern is %q; it failed to match at least one of these lines — generalize it.", previousPattern)
	}
	system := sharedPreamble
	user := buildUser(instructions, samples)

	parsed, missing, err := callWithRetry(ctx, f.client, system, user, []string{"pattern"})
	if err != nil {
		return types.HeadResult{Envelope: types.AgentEnvelope{Status: types.StatusRetryableError, Issues: []string{err.Error()}}}, nil
	}
	if len(missing) > 0 {
		return types.HeadResult{Envelope: types.AgentEnvelope{Status: types.StatusNeedsInput, Issues: missing}}, nil
	}

	out := &types.HeadOutput{
		Pattern: parsed.Get("pattern").String(),
		Notes:   parsed.Get("notes").String(),
	}
	return types.HeadResult{
		Envelope: types.AgentEnvelope{Status: types.StatusSuccess},
		Output:   out,
	}, nil
}
