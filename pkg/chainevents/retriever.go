// Package chainevents decodes the settlement contract's raw logs into the
// domain event types the indexer persists, bridging chainrpc's raw log
// queries to indexer.Retriever[E]. Each event gets its own small ABI fragment decoded
// with go-ethereum's accounts/abi package rather than hand-rolled byte
// slicing, since most of these events carry a dynamic `bytes orderUid`
// field that raw offsets would make error-prone to decode by hand.
package chainevents

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/domain/events"
	"github.com/cowmesh/autopilot/pkg/domain/order"
)

// LogSource is the subset of chainrpc.Client the decoders call.
type LogSource interface {
	FilterLogs(ctx context.Context, contract eth.Address, from, to uint64) ([]types.Log, error)
}

const (
	tradeSig            = "Trade(address,address,address,uint256,uint256,uint256,bytes)"
	settlementSig       = "Settlement(address)"
	orderInvalidatedSig = "OrderInvalidated(address,bytes)"
	preSignatureSig     = "PreSignature(address,bytes,bool)"
)

var (
	tradeTopic            = gethcrypto.Keccak256Hash([]byte(tradeSig))
	settlementTopic       = gethcrypto.Keccak256Hash([]byte(settlementSig))
	orderInvalidatedTopic = gethcrypto.Keccak256Hash([]byte(orderInvalidatedSig))
	preSignatureTopic     = gethcrypto.Keccak256Hash([]byte(preSignatureSig))
)

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("chainevents: bad abi type %q: %v", t, err))
		}
		args = append(args, abi.Argument{Type: ty})
	}
	return args
}

var (
	tradeDataArgs    = mustArgs("address", "address", "uint256", "uint256", "uint256", "bytes")
	orderUidDataArgs = mustArgs("bytes")
	preSignDataArgs  = mustArgs("bytes", "bool")
)

func indexedOwner(l types.Log) (eth.Address, error) {
	if len(l.Topics) < 2 {
		return eth.Address{}, fmt.Errorf("chainevents: log missing indexed owner topic")
	}
	return common.BytesToAddress(l.Topics[1].Bytes()), nil
}

func position(l types.Log) events.Position {
	return events.Position{BlockNumber: l.BlockNumber, LogIndex: uint64(l.Index)}
}

func uidFromBytes(b []byte) (order.Uid, error) {
	if len(b) != 56 {
		return order.Uid{}, fmt.Errorf("chainevents: order uid must be 56 bytes, got %d", len(b))
	}
	var u order.Uid
	copy(u[:], b)
	return u, nil
}

// TradeRetriever implements indexer.Retriever[events.Trade].
type TradeRetriever struct {
	Source   LogSource
	Contract eth.Address
}

func (r TradeRetriever) Events(ctx context.Context, from, to uint64) ([]events.Trade, error) {
	logs, err := r.Source.FilterLogs(ctx, r.Contract, from, to)
	if err != nil {
		return nil, err
	}
	var out []events.Trade
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != tradeTopic {
			continue
		}
		vals, err := tradeDataArgs.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("chainevents: unpack trade: %w", err)
		}
		sellToken := vals[0].(common.Address)
		buyToken := vals[1].(common.Address)
		sellAmount, err := eth.NewU256FromBig(vals[2].(*big.Int))
		if err != nil {
			return nil, fmt.Errorf("chainevents: decode trade sell amount: %w", err)
		}
		buyAmount, err := eth.NewU256FromBig(vals[3].(*big.Int))
		if err != nil {
			return nil, fmt.Errorf("chainevents: decode trade buy amount: %w", err)
		}
		feeAmount, err := eth.NewU256FromBig(vals[4].(*big.Int))
		if err != nil {
			return nil, fmt.Errorf("chainevents: decode trade fee amount: %w", err)
		}
		uid, err := uidFromBytes(vals[5].([]byte))
		if err != nil {
			return nil, err
		}

		out = append(out, events.Trade{
			Position:   position(l),
			OrderUID:   uid,
			SellToken:  sellToken,
			BuyToken:   buyToken,
			SellAmount: sellAmount,
			BuyAmount:  buyAmount,
			FeeAmount:  feeAmount,
			TxHash:     l.TxHash,
		})
	}
	return out, nil
}

// SettlementRetriever implements indexer.Retriever[events.Settlement].
type SettlementRetriever struct {
	Source   LogSource
	Contract eth.Address
}

func (r SettlementRetriever) Events(ctx context.Context, from, to uint64) ([]events.Settlement, error) {
	logs, err := r.Source.FilterLogs(ctx, r.Contract, from, to)
	if err != nil {
		return nil, err
	}
	var out []events.Settlement
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != settlementTopic {
			continue
		}
		solver, err := indexedOwner(l)
		if err != nil {
			return nil, err
		}
		out = append(out, events.Settlement{
			Position: position(l),
			Solver:   solver,
			TxHash:   l.TxHash,
		})
	}
	return out, nil
}

// CancellationRetriever implements indexer.Retriever[events.Cancellation]
// against the contract's OrderInvalidated log.
type CancellationRetriever struct {
	Source   LogSource
	Contract eth.Address
}

func (r CancellationRetriever) Events(ctx context.Context, from, to uint64) ([]events.Cancellation, error) {
	logs, err := r.Source.FilterLogs(ctx, r.Contract, from, to)
	if err != nil {
		return nil, err
	}
	var out []events.Cancellation
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != orderInvalidatedTopic {
			continue
		}
		vals, err := orderUidDataArgs.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("chainevents: unpack order invalidated: %w", err)
		}
		uid, err := uidFromBytes(vals[0].([]byte))
		if err != nil {
			return nil, err
		}
		out = append(out, events.Cancellation{Position: position(l), OrderUID: uid})
	}
	return out, nil
}

// PreSignatureRetriever implements indexer.Retriever[events.PreSignature].
type PreSignatureRetriever struct {
	Source   LogSource
	Contract eth.Address
}

func (r PreSignatureRetriever) Events(ctx context.Context, from, to uint64) ([]events.PreSignature, error) {
	logs, err := r.Source.FilterLogs(ctx, r.Contract, from, to)
	if err != nil {
		return nil, err
	}
	var out []events.PreSignature
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != preSignatureTopic {
			continue
		}
		owner, err := indexedOwner(l)
		if err != nil {
			return nil, err
		}
		vals, err := preSignDataArgs.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("chainevents: unpack presignature: %w", err)
		}
		uid, err := uidFromBytes(vals[0].([]byte))
		if err != nil {
			return nil, err
		}
		signed := vals[1].(bool)
		out = append(out, events.PreSignature{
			Position: position(l),
			OrderUID: uid,
			Owner:    owner,
			Signed:   signed,
		})
	}
	return out, nil
}
