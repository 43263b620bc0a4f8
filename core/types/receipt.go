package types

// ReceiptStatus is the externally observable outcome of an admitted call.
type ReceiptStatus uint8

const (
	ReceiptRejected ReceiptStatus = 0
	ReceiptAccepted ReceiptStatus = 1
)

func (s ReceiptStatus) String() string {
	if s == ReceiptAccepted {
		return "accepted"
	}
	return "rejected"
}

// Receipt records how an admitted call was resolved. Rejected calls carry no
// events; Reason is informational only.
type Receipt struct {
	Sequence  uint64        `json:"sequence"`
	CallHash  [32]byte      `json:"callHash"`
	Type      CallType      `json:"type"`
	From      [20]byte      `json:"from"`
	Contract  [20]byte      `json:"contract"`
	Status    ReceiptStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp int64         `json:"timestamp"`
	StateRoot [32]byte      `json:"stateRoot"`
	Events    []Event       `json:"events,omitempty"`
}

// Accepted reports whether the call was applied.
func (r *Receipt) Accepted() bool {
	return r != nil && r.Status == ReceiptAccepted
}
