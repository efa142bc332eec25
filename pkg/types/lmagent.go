package types

// AgentKind names one of the four typed LM agents the facade (C7) exposes.
type AgentKind string

const (
	AgentRouting AgentKind = "routing"
	AgentParsing AgentKind = "parsing"
	AgentRefine  AgentKind = "refine"
	AgentHead    AgentKind = "head"
)

// AgentStatus is the envelope's outcome tag — the sum type spec §9 calls
// for: success / needs-input / retryable-error / fatal-error.
type AgentStatus string

const (
	StatusSuccess        AgentStatus = "success"
	StatusNeedsInput      AgentStatus = "needs_input"
	StatusRetryableError AgentStatus = "retryable_error"
	StatusFatalError     AgentStatus = "fatal_error"
)

// AgentEnvelope is the shared response shape every agent call produces
// before the facade narrows it into a typed output (spec §9: "reject
// dynamic-field shapes at the facade boundary").
type AgentEnvelope struct {
	Status      AgentStatus `json:"status"`
	Issues      []string    `json:"issues,omitempty"`
	Diagnostics string      `json:"diagnostics,omitempty"`
}

// RoutingOutput is the parsed, typed result of a routing-agent call.
type RoutingOutput struct {
	Type     string `json:"type"`
	Evidence string `json:"evidence,omitempty"`
}

// ParsingOutput is the parsed, typed result of a parsing-agent call.
type ParsingOutput struct {
	Template    string `json:"template"`
	Description string `json:"description,omitempty"`
	Example     string `json:"example,omitempty"`
}

// RefineAction is the action a refine-agent call recommends.
type RefineAction string

const (
	RefineActionRefine RefineAction = "refine_candidate"
	RefineActionAdopt  RefineAction = "adopt_candidate"
)

// RefineOutput is the parsed, typed result of a refine-agent call.
type RefineOutput struct {
	Action   RefineAction `json:"action"`
	Template string       `json:"template"`
	Explain  string       `json:"explain,omitempty"`
}

// HeadOutput is the parsed, typed result of a head-agent call.
type HeadOutput struct {
	Pattern string `json:"pattern"`
	Notes   string `json:"notes,omitempty"`
}

// RoutingResult, ParsingResult, RefineResult and HeadResult pair a typed
// output with the envelope status/issues, so callers see both in one value
// without reaching into a dynamic map.
type RoutingResult struct {
	Envelope AgentEnvelope
	Output   *RoutingOutput
}

type ParsingResult struct {
	Envelope AgentEnvelope
	Output   *ParsingOutput
}

type RefineResult struct {
	Envelope AgentEnvelope
	Output   *RefineOutput
}

type HeadResult struct {
	Envelope AgentEnvelope
	Output   *HeadOutput
}
