package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
)

// Domain is the EIP-712 domain separator input. It binds a signed order to
// one chain and one settlement contract so a signature can't be replayed
// against a different deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract eth.Address
}

// orderTypes is the EIP-712 type description for GPv2Order.Data, matching
// the settlement contract's typed-data schema field for field.
var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "sellToken", Type: "address"},
		{Name: "buyToken", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "kind", Type: "string"},
		{Name: "partiallyFillable", Type: "bool"},
		{Name: "sellTokenBalance", Type: "string"},
		{Name: "buyTokenBalance", Type: "string"},
	},
}

func sideKind(s Side) string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

func sellTokenBalance(s SellTokenSource) string {
	switch s {
	case SourceInternal:
		return "internal"
	case SourceExternal:
		return "external"
	default:
		return "erc20"
	}
}

func buyTokenBalance(d BuyTokenDestination) string {
	if d == DestinationInternal {
		return "internal"
	}
	return "erc20"
}

// Digest computes the order's EIP-712 signing digest,
// keccak256("\x19\x01" || domainSeparator || hashStruct(order)), i.e. the
// order digest before the owner and validTo are appended to form the Uid.
// receiver is the address credited with the buy amount; callers pass the
// owner when the order has no distinct receiver.
func Digest(domain Domain, o Order, receiver eth.Address) ([32]byte, error) {
	typedData := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sellToken":         o.SellToken.Hex(),
			"buyToken":          o.BuyToken.Hex(),
			"receiver":          receiver.Hex(),
			"sellAmount":        o.SellAmount.String(),
			"buyAmount":         o.BuyAmount.String(),
			"validTo":           fmt.Sprintf("%d", o.ValidTo),
			"appData":           fmt.Sprintf("0x%x", o.AppData),
			"feeAmount":         o.FeeAmount.String(),
			"kind":              sideKind(o.Side),
			"partiallyFillable": o.PartiallyFillable,
			"sellTokenBalance":  sellTokenBalance(o.SellTokenSource),
			"buyTokenBalance":   buyTokenBalance(o.BuyTokenDestination),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return [32]byte{}, fmt.Errorf("order: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("order: hash message: %w", err)
	}

	raw := append([]byte("\x19\x01"), append(domainSeparator, messageHash...)...)
	digest := gethcrypto.Keccak256Hash(raw)

	var out [32]byte
	copy(out[:], digest.Bytes())
	return out, nil
}

// DeriveUid computes the order's canonical Uid: the EIP-712 digest bound to
// owner and validTo. Two orders with identical terms signed by different
// owners, or with different deadlines, get different Uids.
func DeriveUid(domain Domain, o Order, receiver eth.Address) (Uid, error) {
	digest, err := Digest(domain, o, receiver)
	if err != nil {
		return Uid{}, err
	}
	return BuildUid(digest, o.Owner, o.ValidTo), nil
}

// VerifyEip712Signature checks that sig recovers to owner for the order's
// EIP-712 digest. It only handles the Eip712 scheme; EthSign uses a
// different prefix and Eip1271/PreSign require on-chain verification that
// belongs to the chain RPC layer, not this pure domain package.
func VerifyEip712Signature(domain Domain, o Order, receiver eth.Address, sig []byte) (bool, error) {
	digest, err := Digest(domain, o, receiver)
	if err != nil {
		return false, err
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("order: signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pubKey, err := gethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return false, fmt.Errorf("order: recover pubkey: %w", err)
	}
	recovered := gethcrypto.PubkeyToAddress(*pubKey)
	return recovered == o.Owner, nil
}
