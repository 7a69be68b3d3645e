package network

import "sort"

const (
	// rttOutlierFactor marks an RTT sample as an outlier when it
	// exceeds this multiple of the median
	rttOutlierFactor = 2
	// rttOutlierFloorMs keeps small absolute RTTs in the sample set
	// even when they exceed the outlier factor
	rttOutlierFloorMs = 20
)

// removeOutlierRTTs filters transient spikes out of the recent RTT
// samples so a single slow round trip does not skew the ping estimate.
func removeOutlierRTTs(recentRTTs []int64) []int64 {
	median := medianRTT(recentRTTs)
	result := make([]int64, 0, len(recentRTTs))
	for _, rtt := range recentRTTs {
		if rtt > rttOutlierFactor*median && rtt > rttOutlierFloorMs {
			continue
		}
		result = append(result, rtt)
	}
	return result
}

// medianRTT returns the median of the samples, or 0 when there are none.
func medianRTT(recentRTTs []int64) int64 {
	if len(recentRTTs) == 0 {
		return 0
	}
	sorted := make([]int64, len(recentRTTs))
	copy(sorted, recentRTTs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
