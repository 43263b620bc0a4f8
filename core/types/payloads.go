package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// EscrowDeployPayload carries the construction parameters of an exchange
// agreement. The deployer becomes the seller.
type EscrowDeployPayload struct {
	Price *big.Int
	Buyer [20]byte
}

// AuctionDeployPayload carries the construction parameters of a sealed-bid
// auction. Deadlines are unix seconds.
type AuctionDeployPayload struct {
	Beneficiary    [20]byte
	BidDeadline    uint64
	RevealDeadline uint64
}

// AuctionBidPayload records a sealed commitment.
type AuctionBidPayload struct {
	Commitment [32]byte
}

// AuctionRevealPayload discloses the committed amount and nonce.
type AuctionRevealPayload struct {
	Amount *big.Int
	Nonce  [32]byte
}

// EncodePayload RLP-encodes a call payload for Call.Data.
func EncodePayload(payload interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(payload)
}

// DecodePayload decodes Call.Data into the supplied payload pointer.
func DecodePayload(data []byte, out interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("call: payload required")
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return fmt.Errorf("call: decode payload: %w", err)
	}
	return nil
}
