package auction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	errNegativeAmount = errors.New("auction: bid amount must not be negative")
	errAmountTooLarge = errors.New("auction: bid amount exceeds 256 bits")
	errNonceTooLong   = errors.New("auction: nonce string must be at most 31 bytes")
)

// ComputeCommitment hashes a bid the way an EVM contract hashes
// abi.encode(uint256 amount, bytes32 nonce): keccak256 over the 32-byte
// big-endian amount followed by the nonce.
func ComputeCommitment(amount *big.Int, nonce [32]byte) ([32]byte, error) {
	var out [32]byte
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return out, errNegativeAmount
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return out, errAmountTooLarge
	}
	encoded := word.Bytes32()
	hash := ethcrypto.Keccak256Hash(encoded[:], nonce[:])
	copy(out[:], hash[:])
	return out, nil
}

// NonceFromString converts a short UTF-8 secret into a right zero-padded
// bytes32 value. One byte is reserved for the terminator, mirroring the
// common bytes32 string encoding used by EVM tooling.
func NonceFromString(secret string) ([32]byte, error) {
	var out [32]byte
	if len(secret) > 31 {
		return out, errNonceTooLong
	}
	copy(out[:], secret)
	return out, nil
}

// ParseNonce accepts either a 0x-prefixed 32-byte hex value or a short string
// secret. Surrounding whitespace is ignored in both forms.
func ParseNonce(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return out, fmt.Errorf("auction: invalid nonce hex: %w", err)
		}
		if len(raw) != 32 {
			return out, fmt.Errorf("auction: nonce must be 32 bytes (got %d)", len(raw))
		}
		copy(out[:], raw)
		return out, nil
	}
	return NonceFromString(trimmed)
}
