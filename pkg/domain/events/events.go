// Package events holds the on-chain log records the indexer extracts from
// the settlement contract: trades, cancellations, settlements and
// presignatures. Every record carries its own block/log-index position so
// the indexer can detect and replace reorged ranges.
package events

import (
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// Position locates a log within the chain: the block it was mined in and
// its index within that block's logs. Two events at the same Position are
// the same event, even if their decoded fields differ after a reorg.
type Position struct {
	BlockNumber uint64
	LogIndex    uint64
}

// Trade is emitted once per order filled within a settlement transaction.
type Trade struct {
	Position
	OrderUID       order.Uid
	SellToken      eth.Address
	BuyToken       eth.Address
	SellAmount     eth.U256
	BuyAmount      eth.U256
	FeeAmount      eth.U256
	TxHash         [32]byte
}

// Cancellation is emitted when an owner cancels an order on-chain.
type Cancellation struct {
	Position
	OrderUID order.Uid
}

// Settlement is emitted once per settlement transaction, independent of how
// many trades it contains.
type Settlement struct {
	Position
	Solver  eth.Address
	TxHash  [32]byte
	TxFrom  eth.Address
	TxNonce uint64
}

// PreSignature is emitted when an owner opts an order into the PreSign
// signature scheme, or revokes that opt-in.
type PreSignature struct {
	Position
	OrderUID order.Uid
	Owner    eth.Address
	Signed   bool
}
