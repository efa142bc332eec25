// Package sampler implements the diverse sampler (C9): a k-center
// heuristic over Jaccard distance of token sets, used to pick
// representative lines for LM prompts (spec §4.9).
package sampler

import (
	"regexp"
	"strings"
)

const defaultPoolSize = 200

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// KCenter is the stateless DiverseSampler implementation.
type KCenter struct {
	poolSize int
}

// New returns a sampler that thins its input pool to poolSize before
// running k-center selection. poolSize <= 0 uses the documented default
// of 200.
func New(poolSize int) *KCenter {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &KCenter{poolSize: poolSize}
}

func tokenize(line string) map[string]struct{} {
	tokens := tokenPattern.FindAllString(strings.ToLower(line), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

func jaccardDistance(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return 1 - float64(inter)/float64(union)
}

// Sample implements interfaces.DiverseSampler: dedupe, thin to poolSize,
// tokenize, seed with index 0, then greedily pick whichever remaining
// line maximizes its minimum distance to everything already chosen.
func (s *KCenter) Sample(pool []string, k int) []string {
	if k <= 0 || len(pool) == 0 {
		return nil
	}

	deduped := dedupe(pool)
	thinned := thin(deduped, s.poolSize)

	if k >= len(thinned) {
		return thinned
	}

	tokens := make([]map[string]struct{}, len(thinned))
	for i, line := range thinned {
		tokens[i] = tokenize(line)
	}

	selected := []int{0}
	chosenMask := make([]bool, len(thinned))
	chosenMask[0] = true

	for len(selected) < k {
		bestIdx := -1
		bestMinDist := -1.0
		for i := range thinned {
			if chosenMask[i] {
				continue
			}
			minDist := 2.0 // larger than any possible jaccard distance
			for _, si := range selected {
				d := jaccardDistance(tokens[i], tokens[si])
				if d < minDist {
					minDist = d
				}
			}
			if minDist > bestMinDist {
				bestMinDist = minDist
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		selected = append(selected, bestIdx)
		chosenMask[bestIdx] = true
	}

	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = thinned[idx]
	}
	return out
}

func dedupe(pool []string) []string {
	seen := make(map[string]struct{}, len(pool))
	out := make([]string, 0, len(pool))
	for _, line := range pool {
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

// thin uniformly subsamples lines down to size, preserving input order,
// when the deduplicated pool is larger than size.
func thin(lines []string, size int) []string {
	if len(lines) <= size {
		return lines
	}
	out := make([]string, 0, size)
	stride := float64(len(lines)) / float64(size)
	for i := 0; i < size; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(lines) {
			idx = len(lines) - 1
		}
		out = append(out, lines[idx])
	}
	return out
}
