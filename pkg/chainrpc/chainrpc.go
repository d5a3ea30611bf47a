// Package chainrpc is a thin wrapper around go-ethereum's ethclient,
// exposing only the handful of read operations the rest of the autopilot
// needs: current block number, ERC20 balance/allowance, transaction
// lookup by hash, and raw log queries. ABI decoding of the settlement
// contract's events is not done here; pkg/chainevents decodes the raw logs
// with small accounts/abi fragments.
package chainrpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
)

// Client wraps an ethclient.Client with the narrower surface the
// autopilot's domain packages depend on via interfaces, so no other
// package talks to the ethclient RPC transport directly.
type Client struct {
	eth *ethclient.Client
}

func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: dial %s: %w", url, err)
	}
	return &Client{eth: c}, nil
}

func (c *Client) Close() { c.eth.Close() }

// LatestBlock implements indexer.BlockRetriever and solvablecache.BlockSource.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// CurrentBlock is an alias of LatestBlock under the name
// solvablecache.BlockSource expects.
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	return c.LatestBlock(ctx)
}

// erc20BalanceOfSelector is the 4-byte selector for balanceOf(address).
var erc20BalanceOfSelector = [4]byte{0x70, 0xa0, 0x82, 0x31}

// erc20AllowanceSelector is the 4-byte selector for allowance(address,address).
var erc20AllowanceSelector = [4]byte{0xdd, 0x62, 0xed, 0x3e}

// eip1271Selector is the 4-byte selector for isValidSignature(bytes32,bytes),
// and also the magic value the call must return for the signature to be
// considered valid.
var eip1271Selector = [4]byte{0x16, 0x26, 0xba, 0x7e}

func (c *Client) callUint256(ctx context.Context, to eth.Address, selector [4]byte, args ...common.Address) (eth.U256, error) {
	data := make([]byte, 4+32*len(args))
	copy(data[0:4], selector[:])
	for i, a := range args {
		copy(data[4+i*32+12:4+i*32+32], a[:])
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return eth.U256{}, fmt.Errorf("chainrpc: call %x: %w", to, err)
	}
	return eth.NewU256FromBig(new(big.Int).SetBytes(out))
}

// BalanceOf returns an ERC20 token's balanceOf(owner).
func (c *Client) BalanceOf(ctx context.Context, token, owner eth.Address) (eth.U256, error) {
	return c.callUint256(ctx, token, erc20BalanceOfSelector, owner)
}

// Allowance returns an ERC20 token's allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, token, owner, spender eth.Address) (eth.U256, error) {
	return c.callUint256(ctx, token, erc20AllowanceSelector, owner, spender)
}

// CallIsValidSignature re-invokes an EIP-1271 owner contract's
// isValidSignature(bytes32,bytes) and reports whether it echoed back the
// expected magic value.
func (c *Client) CallIsValidSignature(ctx context.Context, contract eth.Address, digest [32]byte, signature []byte) (bool, error) {
	// calldata: selector(4) || digest(32) || offset(32)=0x40 || len(32) || data(padded to 32)
	padded := len(signature)
	if rem := padded % 32; rem != 0 {
		padded += 32 - rem
	}
	data := make([]byte, 4+32+32+32+padded)
	copy(data[0:4], eip1271Selector[:])
	copy(data[4:36], digest[:])
	new(big.Int).SetUint64(64).FillBytes(data[36:68])
	new(big.Int).SetUint64(uint64(len(signature))).FillBytes(data[68:100])
	copy(data[100:100+len(signature)], signature)

	msg := ethereum.CallMsg{To: &contract, Data: data}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return false, fmt.Errorf("chainrpc: isValidSignature %x: %w", contract, err)
	}
	if len(out) < 32 {
		return false, nil
	}
	var got [4]byte
	copy(got[:], out[0:4])
	return got == eip1271Selector, nil
}

// TransactionByHash returns a transaction's sender and nonce, used by the
// settlement observer to back-fill (tx_from, tx_nonce) for settlement logs.
func (c *Client) TransactionByHash(ctx context.Context, hash [32]byte) (from eth.Address, nonce uint64, err error) {
	tx, _, err := c.eth.TransactionByHash(ctx, common.Hash(hash))
	if err != nil {
		return eth.Address{}, 0, fmt.Errorf("chainrpc: transaction %x: %w", hash, err)
	}
	signer := types.LatestSignerForChainID(tx.ChainId())
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return eth.Address{}, 0, fmt.Errorf("chainrpc: recover sender for %x: %w", hash, err)
	}
	return sender, tx.Nonce(), nil
}

// FilterLogs queries raw logs for a contract address within a block range;
// callers decode the topics/data themselves (see pkg/chainevents).
func (c *Client) FilterLogs(ctx context.Context, contract eth.Address, from, to uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
	}
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: filter logs [%d,%d]: %w", from, to, err)
	}
	return logs, nil
}
