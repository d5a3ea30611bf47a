package order

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
)

func TestUid_BuildAndAccessors(t *testing.T) {
	var digest [32]byte
	digest[0] = 0xAB
	owner := eth.HexToAddress("0x1111111111111111111111111111111111111111")
	validTo := uint32(1_700_000_000)

	uid := BuildUid(digest, owner, validTo)

	require.Equal(t, digest, uid.OrderDigest())
	require.Equal(t, owner, uid.Owner())
	require.Equal(t, validTo, uid.ValidTo())
}

func TestUid_StringRoundTrip(t *testing.T) {
	var digest [32]byte
	digest[31] = 0x42
	owner := eth.HexToAddress("0x2222222222222222222222222222222222222222")
	uid := BuildUid(digest, owner, 99)

	parsed, err := UidFromHex(uid.String())
	require.NoError(t, err)
	require.Equal(t, uid, parsed)
}

func TestUidFromHex_WrongLength(t *testing.T) {
	_, err := UidFromHex("0xdead")
	require.Error(t, err)
}

func TestOrder_Validate(t *testing.T) {
	base := Order{
		UID:        BuildUid([32]byte{}, eth.Address{}, 1),
		SellToken:  eth.HexToAddress("0x1111111111111111111111111111111111111111"),
		BuyToken:   eth.HexToAddress("0x2222222222222222222222222222222222222222"),
		SellAmount: eth.NewU256FromUint64(1),
		BuyAmount:  eth.NewU256FromUint64(1),
		ValidTo:    1,
		Side:       Sell,
	}
	require.NoError(t, base.Validate())

	zeroSell := base
	zeroSell.SellAmount = eth.Zero
	require.Error(t, zeroSell.Validate())

	sameToken := base
	sameToken.BuyToken = sameToken.SellToken
	require.Error(t, sameToken.Validate())

	noDeadline := base
	noDeadline.ValidTo = 0
	require.Error(t, noDeadline.Validate())

	badSide := base
	badSide.Side = 0
	require.Error(t, badSide.Validate())
}

func TestSide_String(t *testing.T) {
	require.Equal(t, "sell", Sell.String())
	require.Equal(t, "buy", Buy.String())
	require.Equal(t, "unknown", Side(99).String())
}
