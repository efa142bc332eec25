package interfaces

import "github.com/qingrongy/logtmpl/pkg/types"

// ConflictDetector tests a candidate template against a library's
// historical matched samples, returning the set of existing templates the
// candidate is less specific than (C6, spec §4.6).
type ConflictDetector interface {
	// Detect compiles the candidate (without a sample anchor) and runs it
	// against every matched sample in view. The result maps an existing
	// template id to the raw samples the candidate would also match.
	Detect(candidatePT string, view *types.LibraryView) (map[string][]string, error)
}
