package analysis

import "sort"

// Scored is one named run taking part in a comparison.
type Scored struct {
	Name    string
	Metrics Metrics
	Rank    int
}

// Rank sorts runs by Sharpe ratio, then total return, both descending, and
// assigns 1-based ranks. Ties keep their input order.
func Rank(runs []Scored) []Scored {
	out := make([]Scored, len(runs))
	copy(out, runs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Metrics.SharpeRatio != out[j].Metrics.SharpeRatio {
			return out[i].Metrics.SharpeRatio > out[j].Metrics.SharpeRatio
		}
		return out[i].Metrics.TotalReturn > out[j].Metrics.TotalReturn
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
