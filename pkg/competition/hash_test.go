package competition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowmesh/autopilot/pkg/domain/order"
)

func TestSolutionHash_Deterministic(t *testing.T) {
	trades := []orderedTrade{
		{UID: order.Uid{2}, Side: order.Sell},
		{UID: order.Uid{1}, Side: order.Buy},
	}
	prices := []orderedPrice{
		{Token: [20]byte{2}},
		{Token: [20]byte{1}},
	}

	h1 := SolutionHash(1, [20]byte{0xAA}, trades, prices)
	h2 := SolutionHash(1, [20]byte{0xAA}, trades, prices)
	require.Equal(t, h1, h2)
}

func TestSolutionHash_OrderIndependent(t *testing.T) {
	a := []orderedTrade{{UID: order.Uid{1}}, {UID: order.Uid{2}}}
	b := []orderedTrade{{UID: order.Uid{2}}, {UID: order.Uid{1}}}

	ha := SolutionHash(1, [20]byte{0xAA}, a, nil)
	hb := SolutionHash(1, [20]byte{0xAA}, b, nil)
	require.Equal(t, ha, hb, "hash must not depend on input trade order")
}

func TestSolutionHash_ChangesWithSolutionId(t *testing.T) {
	trades := []orderedTrade{{UID: order.Uid{1}}}
	h1 := SolutionHash(1, [20]byte{0xAA}, trades, nil)
	h2 := SolutionHash(2, [20]byte{0xAA}, trades, nil)
	require.NotEqual(t, h1, h2)
}

func TestSolutionHash_ChangesWithSide(t *testing.T) {
	sell := []orderedTrade{{UID: order.Uid{1}, Side: order.Sell}}
	buy := []orderedTrade{{UID: order.Uid{1}, Side: order.Buy}}
	require.NotEqual(t,
		SolutionHash(1, [20]byte{0xAA}, sell, nil),
		SolutionHash(1, [20]byte{0xAA}, buy, nil),
	)
}
