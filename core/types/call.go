package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// CallType identifies which protocol operation a call invokes.
type CallType byte

const (
	CallTypeTransfer CallType = 0x01 // Plain value transfer between accounts

	CallTypeEscrowDeploy         CallType = 0x10
	CallTypeEscrowDeposit        CallType = 0x11
	CallTypeEscrowWithdraw       CallType = 0x12
	CallTypeEscrowSeal           CallType = 0x13
	CallTypeEscrowReportDelivery CallType = 0x14

	CallTypeAuctionDeploy CallType = 0x20
	CallTypeAuctionBid    CallType = 0x21
	CallTypeAuctionReveal CallType = 0x22
	CallTypeAuctionEnd    CallType = 0x23
)

var (
	ErrUnsigned         = errors.New("call: missing signature")
	ErrUnknownCallType  = errors.New("call: unknown type")
	errInvalidSignature = errors.New("call: invalid signature")
)

// String returns the canonical method name, used for logs and metrics.
func (t CallType) String() string {
	switch t {
	case CallTypeTransfer:
		return "transfer"
	case CallTypeEscrowDeploy:
		return "escrow.deploy"
	case CallTypeEscrowDeposit:
		return "escrow.deposit"
	case CallTypeEscrowWithdraw:
		return "escrow.withdraw"
	case CallTypeEscrowSeal:
		return "escrow.seal"
	case CallTypeEscrowReportDelivery:
		return "escrow.reportDelivery"
	case CallTypeAuctionDeploy:
		return "auction.deploy"
	case CallTypeAuctionBid:
		return "auction.bid"
	case CallTypeAuctionReveal:
		return "auction.reveal"
	case CallTypeAuctionEnd:
		return "auction.end"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// ParseCallType maps a method name back to its call type.
func ParseCallType(name string) (CallType, error) {
	for _, t := range []CallType{
		CallTypeTransfer,
		CallTypeEscrowDeploy, CallTypeEscrowDeposit, CallTypeEscrowWithdraw, CallTypeEscrowSeal, CallTypeEscrowReportDelivery,
		CallTypeAuctionDeploy, CallTypeAuctionBid, CallTypeAuctionReveal, CallTypeAuctionEnd,
	} {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCallType, name)
}

// Valid reports whether the call type is known.
func (t CallType) Valid() bool {
	_, err := ParseCallType(t.String())
	return err == nil
}

// Payable reports whether the call may carry attached value. Non-payable calls
// with a non-zero value are rejected before reaching a protocol engine.
func (t CallType) Payable() bool {
	switch t {
	case CallTypeTransfer, CallTypeEscrowDeposit, CallTypeAuctionReveal:
		return true
	default:
		return false
	}
}

// Deploys reports whether the call creates a new protocol instance.
func (t CallType) Deploys() bool {
	return t == CallTypeEscrowDeploy || t == CallTypeAuctionDeploy
}

// Call is a signed invocation admitted to the ledger. To addresses the target
// account (recipient for transfers, protocol instance otherwise) and is empty
// for deployments. Data carries the RLP-encoded payload for the call type.
type Call struct {
	Type  CallType `json:"type"`
	Nonce uint64   `json:"nonce"`
	To    []byte   `json:"to,omitempty"`
	Value *big.Int `json:"value"`
	Data  []byte   `json:"data,omitempty"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

type callSigningData struct {
	Type  uint8
	Nonce uint64
	To    []byte
	Value *big.Int
	Data  []byte
}

// Hash returns the keccak256 digest of the RLP-encoded unsigned fields.
func (c *Call) Hash() ([]byte, error) {
	value := c.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("call: negative value")
	}
	encoded, err := rlp.EncodeToBytes(&callSigningData{
		Type:  uint8(c.Type),
		Nonce: c.Nonce,
		To:    c.To,
		Value: value,
		Data:  c.Data,
	})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// Sign signs the call with the provided secp256k1 key.
func (c *Call) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	c.R = new(big.Int).SetBytes(sig[:32])
	c.S = new(big.Int).SetBytes(sig[32:64])
	c.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	c.from = nil
	return nil
}

// From recovers the caller identity from the signature.
func (c *Call) From() ([]byte, error) {
	if c.from != nil {
		return c.from, nil
	}
	if c.R == nil || c.S == nil || c.V == nil {
		return nil, ErrUnsigned
	}
	if len(c.R.Bytes()) > 32 || len(c.S.Bytes()) > 32 || !c.V.IsUint64() || c.V.Uint64() < 27 || c.V.Uint64() > 28 {
		return nil, errInvalidSignature
	}
	hash, err := c.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(c.R.Bytes()):32], c.R.Bytes())
	copy(sig[64-len(c.S.Bytes()):64], c.S.Bytes())
	sig[64] = byte(c.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidSignature, err)
	}
	c.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return c.from, nil
}

// Sender returns the caller as a fixed-size address.
func (c *Call) Sender() ([20]byte, error) {
	var out [20]byte
	from, err := c.From()
	if err != nil {
		return out, err
	}
	copy(out[:], from)
	return out, nil
}

// Target returns To as a fixed-size address.
func (c *Call) Target() ([20]byte, error) {
	var out [20]byte
	if len(c.To) != 20 {
		return out, fmt.Errorf("call: target must be 20 bytes (got %d)", len(c.To))
	}
	copy(out[:], c.To)
	return out, nil
}

// AttachedValue returns a copy of the call value, treating nil as zero.
func (c *Call) AttachedValue() *big.Int {
	if c.Value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(c.Value)
}
