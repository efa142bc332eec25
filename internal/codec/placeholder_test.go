package codec

import (
	"strings"
	"testing"

	"github.com/lucasjones/reggen"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"user ⟪alice⟫ logged in from ⟪10.0.0.1⟫",
		"no placeholders here",
		"⟪leading⟫ and ⟪trailing⟫",
		"",
	}
	codec := New()
	for _, pt := range cases {
		parsed, err := codec.Parse(pt)
		if pt == "" {
			if err == nil {
				t.Fatalf("expected empty_template error for %q", pt)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q) unexpected error: %v", pt, err)
		}
		if got := Reconstruct(parsed); got != pt {
			t.Fatalf("round-trip mismatch: got %q want %q", got, pt)
		}
	}
}

func TestParseUnterminatedOpenIsLiteral(t *testing.T) {
	codec := New()
	pt := "broken ⟪unterminated"
	parsed, err := codec.Parse(pt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed.Segments) != 1 || !parsed.Segments[0].Literal {
		t.Fatalf("expected single literal segment, got %+v", parsed.Segments)
	}
	if parsed.Segments[0].Text != pt {
		t.Fatalf("expected literal text %q, got %q", pt, parsed.Segments[0].Text)
	}
}

func TestParseEmptyTemplateError(t *testing.T) {
	codec := New()
	if _, err := codec.Parse(""); err == nil {
		t.Fatal("expected error for empty template")
	}
}

func TestCompileAndDecode(t *testing.T) {
	codec := New()
	sample := "user alice logged in from 10.0.0.1"
	pt := "user ⟪alice⟫ logged in from ⟪10.0.0.1⟫"

	parsed, err := codec.Parse(pt)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	ct, err := codec.Compile(parsed, sample)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if !strings.HasPrefix(ct.Pattern, "^") || !strings.HasSuffix(ct.Pattern, "$") {
		t.Fatalf("pattern not anchored: %q", ct.Pattern)
	}

	vars, ok := codec.Decode(sample, ct)
	if !ok {
		t.Fatalf("Decode failed to match sample against its own compiled template: pattern=%q", ct.Pattern)
	}
	if vars["v1"] != "alice" || vars["v2"] != "10.0.0.1" {
		t.Fatalf("unexpected decoded variables: %+v", vars)
	}

	other := "user bob logged in from 10.0.0.2"
	vars, ok = codec.Decode(other, ct)
	if !ok {
		t.Fatalf("Decode should match a structurally identical line")
	}
	if vars["v1"] != "bob" || vars["v2"] != "10.0.0.2" {
		t.Fatalf("unexpected decoded variables for other line: %+v", vars)
	}
}

// TestCompileDuplicationRepair exercises spec §8.4 scenario 5: the LM
// annotates a placeholder value that accidentally contains a duplicated
// copy of itself (e.g. it echoed the fragment twice). Compile must notice
// the reconstructed text doesn't match the sample, detect the value is a
// repetition of a shorter string that DOES appear in the sample, and
// repair it rather than failing outright.
func TestCompileDuplicationRepair(t *testing.T) {
	codec := New()
	sample := "ip=10.0.0.1"
	pt := "ip=⟪10.0.0.110.0.0.1⟫"

	parsed, err := codec.Parse(pt)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	ct, err := codec.Compile(parsed, sample)
	if err != nil {
		t.Fatalf("Compile should have repaired the duplicated placeholder value, got error: %v", err)
	}
	vars, ok := codec.Decode(sample, ct)
	if !ok {
		t.Fatalf("Decode failed against repaired template: pattern=%q", ct.Pattern)
	}
	if vars["v1"] != "10.0.0.1" {
		t.Fatalf("expected repaired value 10.0.0.1, got %q", vars["v1"])
	}
}

func TestCompileReconstructionMismatchIsUnrepairable(t *testing.T) {
	codec := New()
	parsed, err := codec.Parse("value is ⟪completely-unrelated⟫")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if _, err := codec.Compile(parsed, "value is something-else"); err == nil {
		t.Fatal("expected reconstruction_mismatch error")
	}
}

// TestCompileGeneratedSamplesRoundTrip fuzzes the round-trip invariant
// (P3): every string reggen generates from a compiled template's pattern
// must decode successfully against that same compiled template.
func TestCompileGeneratedSamplesRoundTrip(t *testing.T) {
	codec := New()
	sample := "request id req-123 took 42ms"
	pt := "request id ⟪req-123⟫ took ⟪42⟫ms"

	parsed, err := codec.Parse(pt)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	ct, err := codec.Compile(parsed, sample)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	gen, err := reggen.NewGenerator(ct.Pattern)
	if err != nil {
		t.Fatalf("reggen.NewGenerator error: %v", err)
	}
	for i := 0; i < 20; i++ {
		generated := gen.Generate(10)
		if _, ok := codec.Decode(generated, ct); !ok {
			t.Fatalf("generated sample %q did not decode against its own template", generated)
		}
	}
}

func TestRenderFromCompiledReflectsRepair(t *testing.T) {
	codec := New()
	sample := "ip=10.0.0.1"
	pt := "ip=⟪10.0.0.110.0.0.1⟫"

	parsed, err := codec.Parse(pt)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	ct, err := codec.Compile(parsed, sample)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	rendered := RenderFromCompiled(parsed, ct)
	if rendered != "ip=⟪10.0.0.1⟫" {
		t.Fatalf("expected rendered PT to reflect repaired value, got %q", rendered)
	}
}

func TestInferFragmentCollapsesWordRuns(t *testing.T) {
	got := inferFragment("alice123")
	want := "[A-Za-z0-9_/-]+"
	if got != want {
		t.Fatalf("inferFragment(%q) = %q, want %q", "alice123", got, want)
	}
}

func TestInferFragmentEmptyValue(t *testing.T) {
	if got := inferFragment(""); got != `[^\r\n]*` {
		t.Fatalf("inferFragment(\"\") = %q", got)
	}
}

func TestInferFragmentEscapesMeta(t *testing.T) {
	got := inferFragment("a.b")
	if !strings.Contains(got, `\.`) {
		t.Fatalf("expected escaped dot in fragment, got %q", got)
	}
}
