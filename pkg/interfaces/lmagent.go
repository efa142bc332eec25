package interfaces

import (
	"context"

	"github.com/qingrongy/logtmpl/pkg/types"
)

// LMAgentFacade provides the four typed agents the orchestrator (C8)
// consumes, hiding every LM-specific knob (prompts, temperature, retry,
// transport) behind these four shapes (C7, spec §4.7, §9).
type LMAgentFacade interface {
	Route(ctx context.Context, samples []string, hint string) (types.RoutingResult, error)
	Parse(ctx context.Context, sample string) (types.ParsingResult, error)
	Refine(ctx context.Context, candidatePT, candidateSample, conflictingPT string, conflictingSamples []string) (types.RefineResult, error)
	Head(ctx context.Context, samples []string, previousPattern string) (types.HeadResult, error)
}
