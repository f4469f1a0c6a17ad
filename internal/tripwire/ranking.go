package tripwire

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// mergeTolerance is the "within 0.1% of the same trigger" band used both
// for tie-break merging and for confluence detection.
var mergeTolerance = decimal.NewFromFloat(0.001)

// RankWeights are the score coefficients from the top-N ranking formula:
// score = w_vol*volume_rank + w_conf*confidence + w_conf_cluster*colocated_tripwires.
type RankWeights struct {
	Volume     decimal.Decimal
	Confidence decimal.Decimal
	Cluster    decimal.Decimal
}

// DefaultRankWeights mirrors the relative emphasis implied by the spec:
// confidence dominates, volume rank and cluster size break ties between
// similarly confident tripwires.
func DefaultRankWeights() RankWeights {
	return RankWeights{
		Volume:     decimal.NewFromFloat(0.3),
		Confidence: decimal.NewFromFloat(0.5),
		Cluster:    decimal.NewFromFloat(0.2),
	}
}

// MergeAndRank deduplicates tripwires that land within 0.1% of each other
// for the same symbol/direction (keeping the higher confidence, earlier
// one on exact ties), synthesizes ULTIMATE_BULGARIA confluence tripwires
// where three or more distinct families colocate, then returns the top N
// by rank score.
func MergeAndRank(raw []types.Tripwire, volumeRank map[string]decimal.Decimal, weights RankWeights, topN int, now time.Time) []types.Tripwire {
	merged := mergeColocated(raw)
	merged = append(merged, confluenceTripwires(raw, now)...)

	scored := make([]scoredTripwire, 0, len(merged))
	clusterSize := coLocationCounts(merged)
	for _, tw := range merged {
		vr := volumeRank[tw.Symbol]
		score := weights.Volume.Mul(vr).
			Add(weights.Confidence.Mul(tw.Confidence)).
			Add(weights.Cluster.Mul(decimal.NewFromInt(int64(clusterSize[tw.Key()]))))
		scored = append(scored, scoredTripwire{tw: tw, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if !scored[i].score.Equal(scored[j].score) {
			return scored[i].score.GreaterThan(scored[j].score)
		}
		return scored[i].tw.Symbol < scored[j].tw.Symbol
	})

	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}

	out := make([]types.Tripwire, len(scored))
	for i, s := range scored {
		out[i] = s.tw
	}
	return out
}

type scoredTripwire struct {
	tw    types.Tripwire
	score decimal.Decimal
}

// mergeColocated collapses tripwires within mergeTolerance of each other
// for the same (symbol, direction), keeping the higher-confidence one and
// breaking exact confidence ties in favor of the earlier-created tripwire.
func mergeColocated(raw []types.Tripwire) []types.Tripwire {
	byGroup := map[string][]types.Tripwire{}
	order := make([]string, 0)
	for _, tw := range raw {
		key := tw.Symbol + "|" + string(tw.Direction)
		if _, ok := byGroup[key]; !ok {
			order = append(order, key)
		}
		byGroup[key] = append(byGroup[key], tw)
	}

	var out []types.Tripwire
	for _, key := range order {
		group := byGroup[key]
		used := make([]bool, len(group))
		for i := range group {
			if used[i] {
				continue
			}
			best := group[i]
			used[i] = true
			for j := i + 1; j < len(group); j++ {
				if used[j] {
					continue
				}
				if !withinTolerance(best.TriggerPrice, group[j].TriggerPrice) {
					continue
				}
				used[j] = true
				best = pickWinner(best, group[j])
			}
			out = append(out, best)
		}
	}
	return out
}

func pickWinner(a, b types.Tripwire) types.Tripwire {
	if a.Confidence.GreaterThan(b.Confidence) {
		return a
	}
	if b.Confidence.GreaterThan(a.Confidence) {
		return b
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return a
	}
	return b
}

func withinTolerance(a, b decimal.Decimal) bool {
	if a.IsZero() {
		return b.IsZero()
	}
	return a.Sub(b).Abs().Div(a).LessThanOrEqual(mergeTolerance)
}

// coLocationCounts counts, per tripwire key, how many distinct-type
// tripwires colocate with it (including itself) within mergeTolerance —
// the colocated_tripwires term of the ranking score.
func coLocationCounts(merged []types.Tripwire) map[string]int {
	counts := map[string]int{}
	for _, a := range merged {
		n := 0
		seenTypes := map[types.TripwireType]bool{}
		for _, b := range merged {
			if a.Symbol != b.Symbol || a.Direction != b.Direction {
				continue
			}
			if !withinTolerance(a.TriggerPrice, b.TriggerPrice) {
				continue
			}
			if !seenTypes[b.Type] {
				seenTypes[b.Type] = true
				n++
			}
		}
		counts[a.Key()] = n
	}
	return counts
}

// confluenceTripwires synthesizes an ULTIMATE_BULGARIA tripwire wherever
// three or more distinct calculator families colocate on the same
// (symbol, direction, price) — the highest-conviction setup the engine
// recognizes.
func confluenceTripwires(merged []types.Tripwire, now time.Time) []types.Tripwire {
	counts := coLocationCounts(merged)
	seen := map[string]bool{}
	var out []types.Tripwire

	for _, tw := range merged {
		if tw.Type == types.TripwireUltimateBulgaria {
			continue
		}
		key := tw.Key()
		if counts[key] < 3 || seen[key] {
			continue
		}
		seen[key] = true

		maxLev := tw.Leverage
		maxConf := tw.Confidence
		minStop := tw.StopLossPct
		maxTarget := tw.TargetPct
		for _, peer := range merged {
			if peer.Symbol != tw.Symbol || peer.Direction != tw.Direction {
				continue
			}
			if !withinTolerance(peer.TriggerPrice, tw.TriggerPrice) {
				continue
			}
			if peer.Leverage > maxLev {
				maxLev = peer.Leverage
			}
			if peer.Confidence.GreaterThan(maxConf) {
				maxConf = peer.Confidence
			}
			if peer.StopLossPct.LessThan(minStop) {
				minStop = peer.StopLossPct
			}
			if peer.TargetPct.GreaterThan(maxTarget) {
				maxTarget = peer.TargetPct
			}
		}

		confidence := maxConf.Add(decimal.NewFromInt(5))
		if confidence.GreaterThan(decimal.NewFromInt(100)) {
			confidence = decimal.NewFromInt(100)
		}
		out = append(out, newTripwire(tw.Symbol, tw.TriggerPrice, tw.Direction, types.TripwireUltimateBulgaria,
			confidence, minStop, maxTarget, maxLev, now))
	}
	return out
}
