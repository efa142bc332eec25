// Package validator implements the template validator (C5): a gate that
// confirms a candidate template's placeholder encoding round-trips, its
// compiled regex matches the full target text, and (for content-only
// templates) attaches the head-pattern metadata C3/C6 depend on
// (spec §4.5).
package validator

import (
	"fmt"

	"github.com/dlclark/regexp2"

	"github.com/qingrongy/logtmpl/internal/codec"
	"github.com/qingrongy/logtmpl/pkg/errors"
	"github.com/qingrongy/logtmpl/pkg/interfaces"
	"github.com/qingrongy/logtmpl/pkg/types"
)

// Gate is the TemplateValidator implementation.
type Gate struct {
	codec *codec.PT
}

// New returns a ready-to-use validator.
func New() *Gate {
	return &Gate{codec: codec.New()}
}

// Validate confirms the candidate's regex matches the full target text
// and, implicitly, that codec.Compile already enforced the round-trip
// invariant (or repaired it) for this candidate.
func (g *Gate) Validate(candidate *types.CompiledTemplate, entry types.LogEntry, contentOnly bool) interfaces.ValidationOutcome {
	if candidate == nil {
		return interfaces.ValidationOutcome{
			Valid: false,
			Error: errors.NewValidationError("compiled_template_required", "no compiled template was supplied"),
		}
	}

	target := entry.TargetText(contentOnly)
	if contentOnly && !entry.HeadMatched {
		return interfaces.ValidationOutcome{
			Valid: false,
			Error: errors.NewValidationError("missing_head_content", "template is content_only but the head pattern did not match this entry"),
		}
	}

	re, err := regexp2.Compile(candidate.Pattern, regexp2.None)
	if err != nil {
		return interfaces.ValidationOutcome{
			Valid: false,
			Error: errors.NewCodecError("invalid_regex", fmt.Sprintf("compiled pattern is invalid: %v", err)),
		}
	}
	match, err := re.FindStringMatch(target)
	if err != nil || match == nil || match.String() != target {
		return interfaces.ValidationOutcome{
			Valid: false,
			Error: errors.NewValidationError("match_error", "the anchored regex does not match the full target text"),
			Details: map[string]interface{}{
				"target": target,
			},
		}
	}

	return interfaces.ValidationOutcome{Valid: true}
}

// AttachHeadMetadata annotates a template record with content_only=true,
// the head pattern it was derived against, and a raw/content sample pair
// — the information C3 needs to pick the right target text and C6 needs
// to avoid false conflicts (spec §4.5).
func (g *Gate) AttachHeadMetadata(rec *types.TemplateRecord, entry types.LogEntry, head *types.HeadPattern) {
	if rec == nil || head == nil {
		return
	}
	rec.Metadata.ContentOnly = true
	rec.Metadata.HeadPattern = head.Pattern
	rec.Metadata.RawSample = entry.Raw
	rec.Metadata.ContentSample = entry.Content
}
