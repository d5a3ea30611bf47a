package competition

import (
	"sort"

	domaincomp "github.com/cowmesh/autopilot/pkg/domain/competition"
)

// rank sorts scored bids by Score descending, breaking ties first by
// driver name ascending, then by solution id ascending, and assigns each
// bid its final rank (0 = winner).
func rank(bids []domaincomp.BidScored) []domaincomp.BidRanked {
	sorted := append([]domaincomp.BidScored(nil), bids...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if cmp := a.Score.Cmp(b.Score.U256); cmp != 0 {
			return cmp > 0
		}
		if a.Driver != b.Driver {
			return a.Driver < b.Driver
		}
		return a.Solution.Id < b.Solution.Id
	})

	out := make([]domaincomp.BidRanked, len(sorted))
	for i, b := range sorted {
		out[i] = b.Rank(i)
	}
	return out
}
