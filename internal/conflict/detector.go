// Package conflict implements the conflict detector (C6): testing a
// candidate template against a library's historical matched samples to
// find existing templates the candidate would also now match, i.e. cases
// where the candidate is less specific than what's already committed
// (spec §4.6).
package conflict

import (
	"github.com/dlclark/regexp2"

	"github.com/qingrongy/logtmpl/internal/codec"
	"github.com/qingrongy/logtmpl/pkg/errors"
	"github.com/qingrongy/logtmpl/pkg/types"
)

// Detector is the ConflictDetector implementation.
type Detector struct {
	codec *codec.PT
}

// New returns a ready-to-use conflict detector.
func New() *Detector {
	return &Detector{codec: codec.New()}
}

// Detect compiles candidatePT (without a sample anchor, so no round-trip
// check fires here — the validator already owns that) and runs it
// against every still-live matched sample in view, grouping any full-line
// hits by the existing template that owned the sample.
func (d *Detector) Detect(candidatePT string, view *types.LibraryView) (map[string][]string, error) {
	parsed, err := d.codec.Parse(candidatePT)
	if err != nil {
		return nil, errors.NewCodecError("parse_failed", err.Error())
	}
	ct, err := d.codec.Compile(parsed, "")
	if err != nil {
		return nil, errors.NewCodecError("compile_failed", err.Error())
	}
	re, err := regexp2.Compile(ct.Pattern, regexp2.None)
	if err != nil {
		return nil, errors.NewCodecError("invalid_regex", err.Error())
	}

	live := make(map[string]types.TemplateRecord, len(view.Templates))
	for _, t := range view.Templates {
		live[t.ID] = t
	}

	offenders := make(map[string][]string)
	for _, sample := range view.MatchedSamples {
		owner, ok := live[sample.TemplateID]
		if !ok {
			// Orphaned matched sample: its template no longer exists,
			// ignore it (spec §4.6 "Notes").
			continue
		}

		target := sample.Raw
		if owner.Metadata.ContentOnly {
			if sample.Content == "" {
				// Missing head content drops the sample silently.
				continue
			}
			target = sample.Content
		}

		match, err := re.FindStringMatch(target)
		if err != nil || match == nil || match.String() != target {
			continue
		}
		offenders[sample.TemplateID] = append(offenders[sample.TemplateID], sample.Raw)
	}

	return offenders, nil
}
