package interfaces

import "github.com/qingrongy/logtmpl/pkg/types"

// Codec translates between an annotated Placeholder Template string and a
// matcher-ready Compiled Template, enforcing the round-trip invariant
// (C1, spec §4.1).
type Codec interface {
	// Parse scans a PT left-to-right into literal/placeholder segments.
	// An unterminated placeholder is treated as literal text, never an
	// error.
	Parse(pt string) (types.PlaceholderTemplate, error)

	// Compile turns a parsed PT into a CompiledTemplate. If sample is
	// non-empty, the reconstruction is checked against it, with
	// duplication-repair attempted on mismatch before failing.
	Compile(pt types.PlaceholderTemplate, sample string) (*types.CompiledTemplate, error)

	// Decode extracts the variable map from a regex match against a
	// compiled template.
	Decode(target string, ct *types.CompiledTemplate) (map[string]string, bool)
}
