package nodeid

import (
	"math/big"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

func TestDistanceSymmetry(t *testing.T) {
	a, err := NewRandom()
	require.NoError(t, err)
	b, err := NewRandom()
	require.NoError(t, err)

	require.Equal(t, 0, Distance(a, b).Cmp(Distance(b, a)))
	require.Equal(t, 0, Distance(a, a).Cmp(big.NewInt(0)))
}

func TestCompareDistanceMatchesBigInt(t *testing.T) {
	target, err := NewRandom()
	require.NoError(t, err)

	for i := 0; i < 32; i++ {
		a, err := NewRandom()
		require.NoError(t, err)
		b, err := NewRandom()
		require.NoError(t, err)

		want := Distance(a, target).Cmp(Distance(b, target))
		require.Equal(t, want, CompareDistance(a, b, target))
		require.Equal(t, want < 0, Closer(a, b, target))
	}
}

func TestFromBytes(t *testing.T) {
	_, err := FromBytes(make([]byte, Size-1))
	require.Error(t, err)

	raw := make([]byte, Size)
	raw[0] = 0xff
	id, err := FromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, raw, id.Bytes())
	require.False(t, id.IsZero())
	require.True(t, Zero.IsZero())
}

func TestFromPublicKey(t *testing.T) {
	_, err := FromPublicKey(nil)
	require.Error(t, err)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	id1, err := FromPublicKey(priv.PubKey())
	require.NoError(t, err)
	id2, err := FromPublicKey(priv.PubKey())
	require.NoError(t, err)
	require.True(t, id1.Equal(id2))
	require.False(t, id1.IsZero())
}

func TestCommonPrefixLen(t *testing.T) {
	a, err := NewRandom()
	require.NoError(t, err)
	require.Equal(t, Size*8, CommonPrefixLen(a, a))

	b := a
	b[0] ^= 0x80
	require.Equal(t, 0, CommonPrefixLen(a, b))

	c := a
	c[1] ^= 0x01
	require.Equal(t, 15, CommonPrefixLen(a, c))
}

func TestStringForms(t *testing.T) {
	a, err := NewRandom()
	require.NoError(t, err)
	require.NotEmpty(t, a.String())
	require.NotEmpty(t, a.ShortString())
	require.NotEqual(t, a.String(), Zero.String())
}
