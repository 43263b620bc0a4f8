package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"custodychain/core"
	"custodychain/core/events"
	"custodychain/core/types"
	"custodychain/crypto"
	"custodychain/native/auction"
)

// CallJSON is the wire form of a signed call. Addresses use the bech32 form,
// amounts are decimal strings and binary fields are 0x-prefixed hex.
type CallJSON struct {
	Type  string `json:"type"`
	Nonce uint64 `json:"nonce"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
	R     string `json:"r"`
	S     string `json:"s"`
	V     string `json:"v"`
}

// NewCallJSON converts a signed call into its wire form.
func NewCallJSON(call *types.Call) CallJSON {
	out := CallJSON{
		Type:  call.Type.String(),
		Nonce: call.Nonce,
		Value: call.AttachedValue().String(),
		R:     hexBig(call.R),
		S:     hexBig(call.S),
		V:     hexBig(call.V),
	}
	if len(call.To) == 20 {
		var to [20]byte
		copy(to[:], call.To)
		out.To = crypto.FromArray(to).String()
	}
	if len(call.Data) > 0 {
		out.Data = "0x" + hex.EncodeToString(call.Data)
	}
	return out
}

// Call decodes the wire form back into a call ready for admission.
func (c CallJSON) Call() (*types.Call, error) {
	callType, err := types.ParseCallType(strings.TrimSpace(c.Type))
	if err != nil {
		return nil, err
	}
	call := &types.Call{Type: callType, Nonce: c.Nonce, Value: big.NewInt(0)}
	if to := strings.TrimSpace(c.To); to != "" {
		addr, err := crypto.ParseAddress(to)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		call.To = addr[:]
	}
	if value := strings.TrimSpace(c.Value); value != "" {
		parsed, ok := new(big.Int).SetString(value, 10)
		if !ok || parsed.Sign() < 0 {
			return nil, fmt.Errorf("value: invalid amount %q", c.Value)
		}
		call.Value = parsed
	}
	if data := strings.TrimSpace(c.Data); data != "" {
		raw, err := decodeHex(data)
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		call.Data = raw
	}
	if call.R, err = parseHexBig(c.R); err != nil {
		return nil, fmt.Errorf("r: %w", err)
	}
	if call.S, err = parseHexBig(c.S); err != nil {
		return nil, fmt.Errorf("s: %w", err)
	}
	if call.V, err = parseHexBig(c.V); err != nil {
		return nil, fmt.Errorf("v: %w", err)
	}
	return call, nil
}

// EventJSON is a journaled event as returned by events_list, events_query and
// the websocket stream.
type EventJSON struct {
	Sequence   uint64            `json:"sequence"`
	Contract   string            `json:"contract,omitempty"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func newEventJSON(p events.Published) EventJSON {
	return EventJSON{
		Sequence:   p.Sequence,
		Contract:   formatOptionalAddress(p.Contract),
		Timestamp:  p.Timestamp,
		Type:       p.Event.Type,
		Attributes: p.Event.Clone().Attributes,
	}
}

func newEventsJSON(records []events.Published) []EventJSON {
	out := make([]EventJSON, 0, len(records))
	for _, record := range records {
		out = append(out, newEventJSON(record))
	}
	return out
}

// ReceiptEvent is an event as recorded in a receipt.
type ReceiptEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// ReceiptJSON reflects how an admitted call was resolved.
type ReceiptJSON struct {
	Sequence  uint64         `json:"sequence"`
	CallHash  string         `json:"callHash"`
	Type      string         `json:"type"`
	From      string         `json:"from"`
	Contract  string         `json:"contract,omitempty"`
	Status    string         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp int64          `json:"timestamp"`
	StateRoot string         `json:"stateRoot"`
	Events    []ReceiptEvent `json:"events"`
}

func newReceiptJSON(r *types.Receipt) *ReceiptJSON {
	out := &ReceiptJSON{
		Sequence:  r.Sequence,
		CallHash:  "0x" + hex.EncodeToString(r.CallHash[:]),
		Type:      r.Type.String(),
		From:      crypto.FromArray(r.From).String(),
		Contract:  formatOptionalAddress(r.Contract),
		Status:    r.Status.String(),
		Reason:    r.Reason,
		Timestamp: r.Timestamp,
		StateRoot: "0x" + hex.EncodeToString(r.StateRoot[:]),
		Events:    make([]ReceiptEvent, 0, len(r.Events)),
	}
	for _, evt := range r.Events {
		clone := evt.Clone()
		out.Events = append(out.Events, ReceiptEvent{Type: clone.Type, Attributes: clone.Attributes})
	}
	return out
}

// EscrowJSON is the escrow_get result.
type EscrowJSON struct {
	Address    string `json:"address"`
	Seller     string `json:"seller"`
	Buyer      string `json:"buyer"`
	Price      string `json:"price"`
	Sealed     bool   `json:"sealed"`
	Delivered  bool   `json:"delivered"`
	SellerSlot string `json:"sellerSlot"`
	BuyerSlot  string `json:"buyerSlot"`
	Balance    string `json:"balance"`
	CreatedAt  uint64 `json:"createdAt"`
}

func newEscrowJSON(snapshot *core.EscrowSnapshot) *EscrowJSON {
	a := snapshot.Agreement
	return &EscrowJSON{
		Address:    crypto.FromArray(a.Address).String(),
		Seller:     crypto.FromArray(a.Seller).String(),
		Buyer:      crypto.FromArray(a.Buyer).String(),
		Price:      formatAmount(a.Price),
		Sealed:     a.Sealed,
		Delivered:  a.Delivered,
		SellerSlot: formatAmount(a.SellerSlot),
		BuyerSlot:  formatAmount(a.BuyerSlot),
		Balance:    formatAmount(snapshot.Balance),
		CreatedAt:  a.CreatedAt,
	}
}

// AuctionJSON is the auction_get result.
type AuctionJSON struct {
	Address        string   `json:"address"`
	Beneficiary    string   `json:"beneficiary"`
	BidDeadline    uint64   `json:"bidDeadline"`
	RevealDeadline uint64   `json:"revealDeadline"`
	Phase          string   `json:"phase"`
	Ended          bool     `json:"ended"`
	HighestBidder  string   `json:"highestBidder,omitempty"`
	HighestBid     string   `json:"highestBid"`
	Commitments    uint64   `json:"commitments"`
	Bidders        []string `json:"bidders"`
	Balance        string   `json:"balance"`
	CreatedAt      uint64   `json:"createdAt"`
}

func newAuctionJSON(snapshot *core.AuctionSnapshot, now int64) *AuctionJSON {
	a := snapshot.Auction
	out := &AuctionJSON{
		Address:        crypto.FromArray(a.Address).String(),
		Beneficiary:    crypto.FromArray(a.Beneficiary).String(),
		BidDeadline:    a.BidDeadline,
		RevealDeadline: a.RevealDeadline,
		Phase:          string(a.PhaseAt(now)),
		Ended:          a.Ended,
		HighestBid:     formatAmount(a.HighestBid),
		Commitments:    a.Commitments,
		Bidders:        make([]string, 0, len(snapshot.Bidders)),
		Balance:        formatAmount(snapshot.Balance),
		CreatedAt:      a.CreatedAt,
	}
	if a.HasLeader {
		out.HighestBidder = crypto.FromArray(a.HighestBidder).String()
	}
	for _, bidder := range snapshot.Bidders {
		out.Bidders = append(out.Bidders, crypto.FromArray(bidder).String())
	}
	return out
}

// BidderJSON is the auction_bidder result.
type BidderJSON struct {
	Bidder      string `json:"bidder"`
	Committed   bool   `json:"committed"`
	Commitment  string `json:"commitment,omitempty"`
	CommittedAt uint64 `json:"committedAt,omitempty"`
	Revealed    bool   `json:"revealed"`
	Custody     string `json:"custody"`
	Leading     bool   `json:"leading"`
}

func newBidderJSON(view *auction.BidderView) *BidderJSON {
	out := &BidderJSON{
		Bidder:  crypto.FromArray(view.Bidder).String(),
		Custody: formatAmount(view.Custody),
		Leading: view.Leading,
	}
	if view.Commitment != nil {
		out.Committed = true
		out.Commitment = "0x" + hex.EncodeToString(view.Commitment.Hash[:])
		out.CommittedAt = view.Commitment.CommittedAt
		out.Revealed = view.Commitment.Revealed
	}
	return out
}

// AccountJSON is the ledger_getBalance result.
type AccountJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// TimeJSON reports the ledger clock and head.
type TimeJSON struct {
	Timestamp int64  `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
	StateRoot string `json:"stateRoot"`
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatOptionalAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FromArray(addr).String()
}

// hexBig formats a big integer as a 0x-prefixed hexadecimal string.
func hexBig(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return fmt.Sprintf("0x%x", v)
}

func parseHexBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("value required")
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return nil, fmt.Errorf("expected 0x-prefixed hex, got %q", value)
	}
	parsed, ok := new(big.Int).SetString(trimmed[2:], 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex integer %q", value)
	}
	return parsed, nil
}

func decodeHex(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	return hex.DecodeString(trimmed)
}
