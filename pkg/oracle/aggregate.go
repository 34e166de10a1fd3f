package oracle

import (
	"math"
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"

	"feed_oracle/pkg/data"
)

// median returns the middle value of the set, averaging the two central
// values for even-sized input. The input slice is not modified.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// medianAbsDeviation returns the median of absolute deviations from center.
func medianAbsDeviation(values []float64, center float64) float64 {
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - center)
	}
	return median(deviations)
}

// flagOutliers marks values whose deviation from the median exceeds
// tolerance times the MAD. The MAD is floored so that a perfectly stable
// feed cannot flag every submission over float noise.
func flagOutliers(values []float64, tolerance, floorRelative, floorAbsolute float64) (center float64, flags []bool) {
	center = median(values)

	floor := math.Max(floorAbsolute, floorRelative*math.Abs(center))
	scale := math.Max(medianAbsDeviation(values, center), floor)
	cutoff := tolerance * scale

	flags = make([]bool, len(values))
	for i, v := range values {
		flags[i] = math.Abs(v-center) > cutoff
	}
	return center, flags
}

// weightedAggregate computes the stake-weighted mean and weighted standard
// deviation of the non-outlier submissions. Weight is the submitting
// reporter's stake at round open; equal stakes naturally split weight
// equally. Summation runs over reporters in lexical ID order so the result
// does not depend on arrival order even at float rounding granularity.
func weightedAggregate(subs []*data.Submission, flags []bool, stakeOf func(peer.ID) uint64) (mean, stddev float64, kept int) {
	type weighted struct {
		id     peer.ID
		value  float64
		weight float64
	}

	items := make([]weighted, 0, len(subs))
	var totalWeight float64
	for i, sub := range subs {
		if flags[i] {
			continue
		}
		w := float64(stakeOf(sub.ReporterID))
		items = append(items, weighted{id: sub.ReporterID, value: sub.Value, weight: w})
		totalWeight += w
	}
	kept = len(items)
	if kept == 0 {
		return 0, 0, 0
	}

	// A round where every remaining reporter has zero stake cannot happen
	// while the minimum-stake check holds; degrade to equal weights rather
	// than divide by zero if it ever does.
	if totalWeight == 0 {
		for i := range items {
			items[i].weight = 1
		}
		totalWeight = float64(kept)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })

	for _, item := range items {
		mean += item.value * item.weight
	}
	mean /= totalWeight

	var variance float64
	for _, item := range items {
		d := item.value - mean
		variance += item.weight * d * d
	}
	variance /= totalWeight

	return mean, math.Sqrt(variance), kept
}
