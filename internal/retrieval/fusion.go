package retrieval

import (
	"cmp"
	"hash/fnv"
	"slices"
)

// Scored is one fused retrieval result.
type Scored struct {
	Source string
	Score  float64
}

// hashSource keys a hit by its source text.
func hashSource(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// normalizeEpsilon keeps normalized scores strictly inside (0,1), so a
// present-but-minimal score stays distinguishable from an absent one.
const normalizeEpsilon = 1e-6

// minMaxNormalize rescales scores into (0,1). Uniform inputs collapse to
// the middle of the interval.
func minMaxNormalize(scores map[uint64]float64) map[uint64]float64 {
	out := make(map[uint64]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	first := true
	var lo, hi float64
	for _, s := range scores {
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	width := hi - lo
	for key, s := range scores {
		if width > 0 {
			out[key] = normalizeEpsilon + (1-2*normalizeEpsilon)*(s-lo)/width
		} else {
			out[key] = 0.5
		}
	}
	return out
}

// fuseScores combines the two sides' normalized scores. alpha weights the
// keyword side when a document appears in both; otherwise the present
// side's normalized score carries through unchanged.
func fuseScores(kw, vec map[uint64]float64, alpha float64) map[uint64]float64 {
	kwNorm := minMaxNormalize(kw)
	vecNorm := minMaxNormalize(vec)

	out := make(map[uint64]float64, len(kwNorm)+len(vecNorm))
	for key, score := range kwNorm {
		if v, ok := vecNorm[key]; ok {
			out[key] = alpha*score + (1-alpha)*v
		} else {
			out[key] = score
		}
	}
	for key, score := range vecNorm {
		if _, ok := out[key]; !ok {
			out[key] = score
		}
	}
	return out
}

// candidate pairs a source text with its hash key, in discovery order.
type candidate struct {
	key    uint64
	source string
}

// rankSources fuses both sides and orders the sources by fused score,
// highest first. Insertion order breaks ties, keyword hits ahead of vector
// points. A document present on both sides keeps the keyword side's text.
func rankSources(kwHits []kwHit, points []point, alpha float64) []Scored {
	kwScores := make(map[uint64]float64, len(kwHits))
	vecScores := make(map[uint64]float64, len(points))
	var cands []candidate
	seen := make(map[uint64]struct{}, len(kwHits)+len(points))

	for _, hit := range kwHits {
		key := hashSource(hit.Content)
		kwScores[key] = hit.Score
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cands = append(cands, candidate{key: key, source: hit.Content})
	}
	for _, p := range points {
		key := hashSource(p.source)
		vecScores[key] = p.score
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cands = append(cands, candidate{key: key, source: p.source})
	}

	fused := fuseScores(kwScores, vecScores, alpha)
	if len(fused) == 0 {
		return nil
	}

	out := make([]Scored, 0, len(cands))
	for _, c := range cands {
		score, ok := fused[c.key]
		if !ok {
			continue
		}
		out = append(out, Scored{Source: c.source, Score: score})
	}
	slices.SortStableFunc(out, func(a, b Scored) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}
