package auction

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeCommitmentMatchesABIEncoding(t *testing.T) {
	nonce, err := NonceFromString("supersecret")
	require.NoError(t, err)

	// 1200 ether in wei.
	amount := new(big.Int).Mul(big.NewInt(1200), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	hash, err := ComputeCommitment(amount, nonce)
	require.NoError(t, err)
	require.Equal(t, "34cfb5a70b3d138a3534bcd8a7ca7337e93b2bdcaa1c4ce05369430d0367c9f8", hex.EncodeToString(hash[:]))

	nonce, err = NonceFromString("s")
	require.NoError(t, err)
	hash, err = ComputeCommitment(big.NewInt(1200), nonce)
	require.NoError(t, err)
	require.Equal(t, "8ca71f1ec1dd2868b7ce283bc5d8f7dd30f3af65cf1199b910c1d5751409a342", hex.EncodeToString(hash[:]))
}

func TestComputeCommitmentRejectsOutOfRangeAmounts(t *testing.T) {
	var nonce [32]byte
	_, err := ComputeCommitment(big.NewInt(-1), nonce)
	require.ErrorIs(t, err, errNegativeAmount)

	_, err = ComputeCommitment(new(big.Int).Lsh(big.NewInt(1), 256), nonce)
	require.ErrorIs(t, err, errAmountTooLarge)
}

func TestParseNonce(t *testing.T) {
	fromString, err := ParseNonce("supersecret")
	require.NoError(t, err)
	require.Equal(t, byte('s'), fromString[0])
	require.Equal(t, byte(0), fromString[31])

	hexNonce := "0x" + strings.Repeat("ab", 32)
	fromHex, err := ParseNonce(hexNonce)
	require.NoError(t, err)
	require.Equal(t, byte(0xab), fromHex[31])

	padded, err := ParseNonce("  supersecret\t")
	require.NoError(t, err)
	require.Equal(t, fromString, padded)
	paddedHex, err := ParseNonce(" " + hexNonce + " ")
	require.NoError(t, err)
	require.Equal(t, fromHex, paddedHex)

	_, err = ParseNonce("0x1234")
	require.Error(t, err)

	_, err = NonceFromString(strings.Repeat("x", 32))
	require.ErrorIs(t, err, errNonceTooLong)
}
