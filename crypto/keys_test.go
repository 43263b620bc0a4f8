package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 20)
	addr := NewAddress(CustodyPrefix, raw)
	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "cust1"))

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded.Bytes())
	require.Equal(t, CustodyPrefix, decoded.Prefix())
}

func TestParseAddressAcceptsHexAndBech32(t *testing.T) {
	var want [20]byte
	copy(want[:], bytes.Repeat([]byte{0x07}, 20))

	fromHex, err := ParseAddress("0x" + hex.EncodeToString(want[:]))
	require.NoError(t, err)
	require.Equal(t, want, fromHex)

	fromBech, err := ParseAddress(FromArray(want).String())
	require.NoError(t, err)
	require.Equal(t, want, fromBech)

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := t.TempDir() + "/key.json"
	require.NoError(t, WriteKeystore(path, key, "correct horse", ScryptLight))

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().String(), loaded.PubKey().Address().String())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
