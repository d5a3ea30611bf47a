package competition

import (
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// orderedTrade is the per-order payload the canonical solution hash folds
// in, carrying everything needed to identify one traded order's fill.
type orderedTrade struct {
	UID          order.Uid
	Side         order.Side
	SellToken    [20]byte
	SellAmount   [32]byte
	BuyToken     [20]byte
	BuyAmount    [32]byte
	ExecutedSell [32]byte
	ExecutedBuy  [32]byte
}

type orderedPrice struct {
	Token [20]byte
	Price [32]byte
}

// SolutionHash computes the normative Keccak-256 hash of a solution's
// canonical byte serialization, used for deduplication and external
// verification. The byte layout is fixed exactly as specified — this is
// the one piece of wire format that is not an implementation choice:
//
//	8 bytes BE solution_id
//	20 bytes solver address
//	8 bytes BE order count
//	per order, ascending OrderUid: 56 uid, 1 side (Sell=0,Buy=1), 20
//	  sell_token, 32 BE sell_amount, 20 buy_token, 32 BE buy_amount,
//	  32 BE executed_sell, 32 BE executed_buy
//	8 bytes BE price count
//	per (token,price), ascending token: 20 token, 32 BE price
func SolutionHash(solutionID uint64, solver [20]byte, trades []orderedTrade, prices []orderedPrice) [32]byte {
	trades = append([]orderedTrade(nil), trades...)
	sort.Slice(trades, func(i, j int) bool {
		return lessUid(trades[i].UID, trades[j].UID)
	})
	prices = append([]orderedPrice(nil), prices...)
	sort.Slice(prices, func(i, j int) bool {
		return lessBytes(prices[i].Token[:], prices[j].Token[:])
	})

	buf := make([]byte, 0, 8+20+8+len(trades)*193+8+len(prices)*52)

	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], solutionID)
	buf = append(buf, b8[:]...)
	buf = append(buf, solver[:]...)

	binary.BigEndian.PutUint64(b8[:], uint64(len(trades)))
	buf = append(buf, b8[:]...)

	for _, t := range trades {
		buf = append(buf, t.UID[:]...)
		if t.Side == order.Buy {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, t.SellToken[:]...)
		buf = append(buf, t.SellAmount[:]...)
		buf = append(buf, t.BuyToken[:]...)
		buf = append(buf, t.BuyAmount[:]...)
		buf = append(buf, t.ExecutedSell[:]...)
		buf = append(buf, t.ExecutedBuy[:]...)
	}

	binary.BigEndian.PutUint64(b8[:], uint64(len(prices)))
	buf = append(buf, b8[:]...)
	for _, p := range prices {
		buf = append(buf, p.Token[:]...)
		buf = append(buf, p.Price[:]...)
	}

	return [32]byte(crypto.Keccak256Hash(buf))
}

func lessUid(a, b order.Uid) bool { return lessBytes(a[:], b[:]) }

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
