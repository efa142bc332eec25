package codec

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"

	"github.com/qingrongy/logtmpl/pkg/types"
)

// wordRune reports whether r belongs to the run-collapsing class
// [A-Za-z0-9_/-] (spec §4.1 step 2).
func wordRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '/' || r == '-'
}

// regexMeta is the set of characters that must be backslash-escaped to be
// used literally in a regexp2/.NET-flavored pattern.
const regexMeta = `\.+*?()|[]{}^$`

// escapeLiteral renders one rune as a literal regex atom: metacharacters
// are backslash-escaped, plain whitespace collapses to \s+, control
// characters become \xHH, runes above ASCII up to U+FFFF become \uHHHH,
// and larger runes become \x{H...}.
func escapeLiteral(r rune) string {
	switch {
	case r == ' ' || r == '\t':
		return `\s+`
	case strings.ContainsRune(regexMeta, r):
		return "\\" + string(r)
	case r < 0x20 || r == 0x7f:
		return fmt.Sprintf(`\x%02X`, r)
	case r > 0x7e:
		if r <= 0xffff {
			return fmt.Sprintf(`\u%04X`, r)
		}
		return fmt.Sprintf(`\x{%X}`, r)
	default:
		return string(r)
	}
}

// inferFragment builds the regex fragment that should match this
// placeholder's example value: runs of word characters collapse to a
// single `+`-quantified class, everything else is escaped rune-by-rune
// (spec §4.1 step 2).
func inferFragment(value string) string {
	if value == "" {
		return `[^\r\n]*`
	}
	var b strings.Builder
	runes := []rune(value)
	i := 0
	for i < len(runes) {
		if wordRune(runes[i]) {
			j := i + 1
			for j < len(runes) && wordRune(runes[j]) {
				j++
			}
			b.WriteString(`[A-Za-z0-9_/-]+`)
			i = j
			continue
		}
		b.WriteString(escapeLiteral(runes[i]))
		i++
	}
	return b.String()
}

// escapeLiteralText renders a literal (non-placeholder) segment as regex
// text that matches it byte-for-byte (spec §4.1 step 1: "literals become
// regex-escaped text"). Unlike escapeLiteral, spaces and tabs are kept
// exact rather than collapsed to \s+, and runes above ASCII are written
// as themselves.
func escapeLiteralText(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r == ' ' || r == '\t' {
			// Literal structure text keeps its exact whitespace, it's not
			// business data — escape it verbatim rather than collapsing
			// to \s+.
			b.WriteString("\\" + string(r))
			continue
		}
		if strings.ContainsRune(regexMeta, r) {
			b.WriteString("\\" + string(r))
			continue
		}
		if r < 0x20 || r == 0x7f {
			b.WriteString(fmt.Sprintf(`\x%02X`, r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Compile turns a parsed PT into a CompiledTemplate: literals become
// escaped regex text, placeholders become named capture groups `(?<vN>..)`
// in the literal wire syntax spec §6.1 specifies, and the whole pattern is
// anchored front and back. If sample is non-empty, the reconstruction is
// checked against it and duplication-repair (spec §4.1 step 4) is
// attempted before giving up.
func (PT) Compile(parsed types.PlaceholderTemplate, sample string) (*types.CompiledTemplate, error) {
	if len(parsed.Segments) == 0 {
		return nil, &templateError{"empty_template", "placeholder template has no segments"}
	}

	working := parsed
	if sample != "" {
		reconstructed := Reconstruct(working)
		if reconstructed != sample {
			repaired, ok := repairDuplication(working, sample)
			if !ok {
				return nil, &templateError{
					"reconstruction_mismatch",
					fmt.Sprintf("reconstructed %q does not equal sample %q", reconstructed, sample),
				}
			}
			working = repaired
		}
	}

	var pattern strings.Builder
	pattern.WriteString("^")
	varOrder := make([]string, 0)
	exampleValues := make(map[string]string)
	varN := 0
	for _, seg := range working.Segments {
		if seg.Literal {
			pattern.WriteString(escapeLiteralText(seg.Text))
			continue
		}
		varN++
		name := fmt.Sprintf("v%d", varN)
		varOrder = append(varOrder, name)
		exampleValues[name] = seg.Value
		fragment := inferFragment(seg.Value)
		pattern.WriteString(fmt.Sprintf("(?<%s>%s)", name, fragment))
	}
	pattern.WriteString("$")

	final := pattern.String()
	if _, err := regexp2.Compile(final, regexp2.None); err != nil {
		return nil, &templateError{"invalid_regex", fmt.Sprintf("compiled pattern is invalid: %v", err)}
	}

	return &types.CompiledTemplate{
		Pattern:       final,
		VariableOrder: varOrder,
		ExampleValues: exampleValues,
	}, nil
}

// repairDuplication implements spec §4.1 step 4: for each placeholder
// value v not found verbatim in sample, test whether v is prefix(k)
// repeated for some shrinking k, and prefix(k) does appear in sample; if
// so, replace v with prefix(k). Returns the repaired template and whether
// repair succeeded (reconstruction now equals sample).
func repairDuplication(parsed types.PlaceholderTemplate, sample string) (types.PlaceholderTemplate, bool) {
	repaired := types.PlaceholderTemplate{Raw: parsed.Raw, Segments: make([]types.PlaceholderSegment, len(parsed.Segments))}
	copy(repaired.Segments, parsed.Segments)

	changed := false
	for idx, seg := range repaired.Segments {
		if seg.Literal || strings.Contains(sample, seg.Value) {
			continue
		}
		v := seg.Value
		for k := len(v) / 2; k >= 1; k-- {
			if len(v)%k != 0 {
				continue
			}
			prefix := v[:k]
			if strings.Repeat(prefix, len(v)/k) != v {
				continue
			}
			if strings.Contains(sample, prefix) {
				repaired.Segments[idx].Value = prefix
				changed = true
				break
			}
		}
	}
	if !changed {
		return parsed, false
	}
	return repaired, Reconstruct(repaired) == sample
}

// Decode extracts the variable map from matching target against ct's
// compiled pattern using named capture groups v1..vN, falling back to
// positional order if a named lookup misses (spec §4.1 Decode).
func (PT) Decode(target string, ct *types.CompiledTemplate) (map[string]string, bool) {
	re, err := regexp2.Compile(ct.Pattern, regexp2.None)
	if err != nil {
		return nil, false
	}
	m, err := re.FindStringMatch(target)
	if err != nil || m == nil {
		return nil, false
	}
	if m.String() != target {
		return nil, false
	}
	out := make(map[string]string, len(ct.VariableOrder))
	for i, name := range ct.VariableOrder {
		g := m.GroupByName(name)
		if g != nil && len(g.Captures) > 0 {
			out[name] = g.String()
			continue
		}
		// Positional fallback: regexp2 groups are 1-indexed after group 0.
		if i+1 < len(m.Groups()) {
			out[name] = m.GroupByNumber(i + 1).String()
		}
	}
	return out, true
}

// templateError is the concrete error codec.Compile returns; pkg/errors
// wraps it into a *errors.CodecError at the call sites that need the full
// taxonomy (validator, orchestrator).
type templateError struct {
	Reason  string
	Message string
}

func (e *templateError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Message) }

// RenderFromCompiled rebuilds the canonical annotated PT string using the
// example values a Compile call settled on — which may have gone through
// duplication-repair — while preserving the original literal/placeholder
// structure. Callers persist this string, not the LM's raw output, so a
// later re-parse sees the repaired values too.
func RenderFromCompiled(parsed types.PlaceholderTemplate, ct *types.CompiledTemplate) string {
	var b strings.Builder
	varN := 0
	for _, seg := range parsed.Segments {
		if seg.Literal {
			b.WriteString(seg.Text)
			continue
		}
		varN++
		name := fmt.Sprintf("v%d", varN)
		value := seg.Value
		if v, ok := ct.ExampleValues[name]; ok {
			value = v
		}
		b.WriteString(types.PlaceholderOpen)
		b.WriteString(value)
		b.WriteString(types.PlaceholderClose)
	}
	return b.String()
}

// IsUnknownRune reports whether r is non-printable or lies above
// printable ASCII.
func IsUnknownRune(r rune) bool {
	return !unicode.IsPrint(r) || r > 0x7e
}
