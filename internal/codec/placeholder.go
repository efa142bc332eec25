// Package codec implements the placeholder/regex codec (C1): parsing an
// LM-annotated Placeholder Template into literal/placeholder segments and
// compiling it into a fully anchored Compiled Template, enforcing the
// round-trip invariant along the way (spec §4.1).
package codec

import (
	"fmt"
	"strings"

	"github.com/qingrongy/logtmpl/pkg/types"
)

// PT is the stateless implementation of interfaces.Codec.
type PT struct{}

// New returns a ready-to-use codec. The codec carries no state; a zero
// value works too.
func New() *PT { return &PT{} }

// Parse scans a Placeholder Template left-to-right with an explicit
// cursor — never recursively — so pathological LM output (e.g. an
// unterminated OPEN near the end of a huge string) cannot blow the stack
// (spec §9 "Recursive placeholder scanning must stay iterative").
func (PT) Parse(pt string) (types.PlaceholderTemplate, error) {
	var segs []types.PlaceholderSegment
	var literal strings.Builder

	i := 0
	n := len(pt)
	openLen := len(types.PlaceholderOpen)
	closeLen := len(types.PlaceholderClose)

	for i < n {
		if strings.HasPrefix(pt[i:], types.PlaceholderOpen) {
			closeIdx := strings.Index(pt[i+openLen:], types.PlaceholderClose)
			if closeIdx == -1 {
				// Unterminated OPEN: treat the rest as literal text, per
				// spec §4.1 "malformed OPEN is treated as literal text to
				// avoid data loss".
				literal.WriteString(pt[i:])
				i = n
				break
			}
			value := pt[i+openLen : i+openLen+closeIdx]
			if literal.Len() > 0 {
				segs = append(segs, types.PlaceholderSegment{Literal: true, Text: literal.String()})
				literal.Reset()
			}
			segs = append(segs, types.PlaceholderSegment{Literal: false, Value: value})
			i = i + openLen + closeIdx + closeLen
			continue
		}
		literal.WriteByte(pt[i])
		i++
	}
	if literal.Len() > 0 {
		segs = append(segs, types.PlaceholderSegment{Literal: true, Text: literal.String()})
	}
	if len(segs) == 0 {
		return types.PlaceholderTemplate{}, fmt.Errorf("empty_template: placeholder template has no segments")
	}
	return types.PlaceholderTemplate{Raw: pt, Segments: segs}, nil
}

// Reconstruct concatenates a parsed PT's literal segments with the raw
// example values of its placeholders, i.e. undoes the annotation.
func Reconstruct(parsed types.PlaceholderTemplate) string {
	var b strings.Builder
	for _, seg := range parsed.Segments {
		if seg.Literal {
			b.WriteString(seg.Text)
		} else {
			b.WriteString(seg.Value)
		}
	}
	return b.String()
}
