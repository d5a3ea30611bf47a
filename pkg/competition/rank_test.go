package competition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowmesh/autopilot/pkg/domain/eth"

	domaincomp "github.com/cowmesh/autopilot/pkg/domain/competition"
)

func scored(driver string, solutionID uint64, score uint64) domaincomp.BidScored {
	s, err := domaincomp.NewScore(eth.NewU256FromUint64(score))
	if err != nil {
		panic(err)
	}
	return domaincomp.BidScored{
		Driver:   domaincomp.DriverName(driver),
		Solution: domaincomp.Solution{Id: domaincomp.SolutionId(solutionID)},
		Score:    s,
	}
}

func TestRank_HighestScoreWins(t *testing.T) {
	bids := []domaincomp.BidScored{
		scored("low", 1, 10),
		scored("high", 2, 100),
		scored("mid", 3, 50),
	}

	ranked := rank(bids)
	require.Len(t, ranked, 3)
	require.Equal(t, domaincomp.DriverName("high"), ranked[0].Driver)
	require.True(t, ranked[0].IsWinner())
	require.Equal(t, domaincomp.DriverName("mid"), ranked[1].Driver)
	require.Equal(t, domaincomp.DriverName("low"), ranked[2].Driver)
	require.False(t, ranked[1].IsWinner())
}

func TestRank_TiesBreakByDriverNameThenSolutionId(t *testing.T) {
	bids := []domaincomp.BidScored{
		scored("b", 5, 100),
		scored("a", 2, 100),
		scored("a", 1, 100),
	}

	ranked := rank(bids)
	require.Equal(t, domaincomp.DriverName("a"), ranked[0].Driver)
	require.Equal(t, domaincomp.SolutionId(1), ranked[0].Solution.Id)
	require.Equal(t, domaincomp.DriverName("a"), ranked[1].Driver)
	require.Equal(t, domaincomp.SolutionId(2), ranked[1].Solution.Id)
	require.Equal(t, domaincomp.DriverName("b"), ranked[2].Driver)
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	bids := []domaincomp.BidScored{scored("a", 1, 5), scored("b", 2, 50)}
	original := append([]domaincomp.BidScored(nil), bids...)
	_ = rank(bids)
	require.Equal(t, original, bids)
}
