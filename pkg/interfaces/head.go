package interfaces

import (
	"context"

	"github.com/qingrongy/logtmpl/pkg/types"
)

// HeadManager ensures a library has a regex that matches every line and
// exposes a content tail, deriving and refining it via the head LM agent
// (C4, spec §4.4).
type HeadManager interface {
	// Ensure derives a head pattern if the library has none, otherwise
	// refines the existing one against unmatched lines, up to MAX_ROUNDS.
	// Returns nil if no head agent is configured and no head exists
	// (SKIPPED state) — callers then treat the raw line as content.
	Ensure(ctx context.Context, libraryID string, lines []types.RawLine, current *types.HeadPattern) (*types.HeadPattern, error)

	// ExtractContent applies a head pattern to one line, returning the
	// content group's value (named "content", else capture group 1, else
	// the raw line) and whether the head matched at all.
	ExtractContent(raw string, head *types.HeadPattern) (matched bool, content string)
}
