package interfaces

// DiverseSampler selects up to k maximally different lines from a pool for
// LM prompts (C9, spec §4.9).
type DiverseSampler interface {
	Sample(pool []string, k int) []string
}
