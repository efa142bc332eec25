// Package errors defines the component-tagged error taxonomy used across
// the template-learning pipeline, mirroring the base-plus-embedding shape
// the rest of this codebase's ancestry uses for domain errors.
package errors

import (
	"fmt"
	"time"
)

// ProcessingError is the base error structure every domain error embeds.
// It carries a category, a component tag, recoverability, and a timestamp
// so callers can decide whether to retry, record a FailureRecord, or abort
// the run.
type ProcessingError struct {
	Type        string                 `json:"type"`
	Message     string                 `json:"message"`
	Component   string                 `json:"component"`
	Recoverable bool                   `json:"recoverable"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Component, e.Type, e.Message)
}

func (e *ProcessingError) WithDetails(key string, value interface{}) *ProcessingError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newBase(errType, message, component string, recoverable bool) ProcessingError {
	return ProcessingError{
		Type:        errType,
		Message:     message,
		Component:   component,
		Recoverable: recoverable,
		Timestamp:   time.Now(),
	}
}

// CodecError is raised by the placeholder/regex codec (C1): unterminated
// placeholders, reconstruction mismatches, invalid regex, empty templates.
type CodecError struct {
	ProcessingError
	Reason       string `json:"reason"` // "parse_failed" | "compile_failed" | "invalid_regex"
	Reconstructed string `json:"reconstructed,omitempty"`
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("[%s] codec error (%s): %s", e.Component, e.Reason, e.Message)
}

func NewCodecError(reason, message string) *CodecError {
	return &CodecError{
		ProcessingError: newBase("codec", message, "codec", false),
		Reason:          reason,
	}
}

// InputError is raised when a batch has no lines to process at all.
// Always fatal at the batch level (spec §7).
type InputError struct {
	ProcessingError
}

func (e *InputError) Error() string {
	return fmt.Sprintf("[%s] input error: %s", e.Component, e.Message)
}

func NewInputError(message string) *InputError {
	return &InputError{ProcessingError: newBase("input", message, "orchestrator", false)}
}

// StoreError is raised by the template library store (C2) on persistence
// I/O failure. Always fatal at the batch level (spec §7).
type StoreError struct {
	ProcessingError
	Operation string `json:"operation"`
	LibraryID string `json:"library_id,omitempty"`
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("[%s] store error during %s (library=%s): %s", e.Component, e.Operation, e.LibraryID, e.Message)
}

func NewStoreError(operation, libraryID, message string) *StoreError {
	return &StoreError{
		ProcessingError: newBase("store", message, "store", false),
		Operation:       operation,
		LibraryID:       libraryID,
	}
}

// RoutingError is raised when LM classification fails to resolve a library
// id and no source_hint was given (spec §7: fatal, batch-level).
type RoutingError struct {
	ProcessingError
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("[%s] routing failure: %s", e.Component, e.Message)
}

func NewRoutingError(message string) *RoutingError {
	return &RoutingError{ProcessingError: newBase("routing", message, "orchestrator", false)}
}

// LmAgentError wraps a failed or timed-out LM agent call (C7). Always
// line-level and recoverable (the line goes to unresolved).
type LmAgentError struct {
	ProcessingError
	Agent string `json:"agent"`
}

func (e *LmAgentError) Error() string {
	return fmt.Sprintf("[%s] agent %s failed: %s", e.Component, e.Agent, e.Message)
}

func NewLmAgentError(agent, message string) *LmAgentError {
	return &LmAgentError{
		ProcessingError: newBase("lm_agent", message, "llmagent", true),
		Agent:           agent,
	}
}

// ValidationError is raised by the template validator (C5): full-line
// match mismatch, or a codec round-trip failure surfaced through it.
type ValidationError struct {
	ProcessingError
	Rule string `json:"rule"` // "compiled_template_required" | "missing_head_content" | "match_error"
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] validation failed (%s): %s", e.Component, e.Rule, e.Message)
}

func NewValidationError(rule, message string) *ValidationError {
	return &ValidationError{
		ProcessingError: newBase("validation", message, "validator", true),
		Rule:            rule,
	}
}

// ConflictError records that the refinement budget (MAX_REFINE_ITERATIONS)
// was exhausted without clearing a candidate's conflicts.
type ConflictError struct {
	ProcessingError
	IterationsUsed int `json:"iterations_used"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("[%s] conflict budget exhausted after %d iterations: %s", e.Component, e.IterationsUsed, e.Message)
}

func NewConflictError(iterationsUsed int, message string) *ConflictError {
	return &ConflictError{
		ProcessingError: newBase("conflict", message, "conflict", true),
		IterationsUsed:  iterationsUsed,
	}
}
