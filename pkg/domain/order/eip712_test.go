package order

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/cowmesh/autopilot/pkg/domain/eth"
)

func testDomain() Domain {
	return Domain{
		Name:              "Settlement",
		Version:           "v2",
		ChainID:           big.NewInt(1),
		VerifyingContract: eth.HexToAddress("0x9008d19f58aabd9ed0d60971565aa8510560ab41"),
	}
}

func testOrder() Order {
	return Order{
		Owner:      eth.HexToAddress("0x1111111111111111111111111111111111111111"),
		SellToken:  eth.HexToAddress("0x2222222222222222222222222222222222222222"),
		BuyToken:   eth.HexToAddress("0x3333333333333333333333333333333333333333"),
		SellAmount: eth.NewU256FromUint64(1_000_000),
		BuyAmount:  eth.NewU256FromUint64(2_000_000),
		FeeAmount:  eth.NewU256FromUint64(1_000),
		ValidTo:    1_700_000_000,
		Side:       Sell,
	}
}

func TestDigest_Deterministic(t *testing.T) {
	domain := testDomain()
	o := testOrder()

	d1, err := Digest(domain, o, o.Owner)
	require.NoError(t, err)
	d2, err := Digest(domain, o, o.Owner)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestDigest_ChangesWithAmount(t *testing.T) {
	domain := testDomain()
	a := testOrder()
	b := a
	b.SellAmount = eth.NewU256FromUint64(999)

	da, err := Digest(domain, a, a.Owner)
	require.NoError(t, err)
	db, err := Digest(domain, b, b.Owner)
	require.NoError(t, err)
	require.NotEqual(t, da, db)
}

func TestDeriveUid_BindsOwnerAndValidTo(t *testing.T) {
	domain := testDomain()
	o := testOrder()

	uid, err := DeriveUid(domain, o, o.Owner)
	require.NoError(t, err)
	require.Equal(t, o.Owner, uid.Owner())
	require.Equal(t, o.ValidTo, uid.ValidTo())

	digest, err := Digest(domain, o, o.Owner)
	require.NoError(t, err)
	require.Equal(t, digest, uid.OrderDigest())
}

func TestVerifyEip712Signature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	domain := testDomain()
	o := testOrder()
	o.Owner = owner

	digest, err := Digest(domain, o, o.Owner)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)

	ok, err := VerifyEip712Signature(domain, o, o.Owner, sig)
	require.NoError(t, err)
	require.True(t, ok)

	other := o
	other.SellAmount = eth.NewU256FromUint64(1)
	ok, err = VerifyEip712Signature(domain, other, other.Owner, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyEip712Signature_WrongLength(t *testing.T) {
	_, err := VerifyEip712Signature(testDomain(), testOrder(), eth.Address{}, []byte{1, 2, 3})
	require.Error(t, err)
}
