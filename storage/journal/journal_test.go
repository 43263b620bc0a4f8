package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"custodychain/core/types"
)

func testReceipt(hash byte, ts int64, evts ...string) *types.Receipt {
	receipt := &types.Receipt{
		CallHash:  [32]byte{hash},
		Type:      types.CallTypeEscrowDeposit,
		Status:    types.ReceiptAccepted,
		Timestamp: ts,
		Contract:  [20]byte{0xC0},
	}
	for _, evt := range evts {
		receipt.Events = append(receipt.Events, types.Event{Type: evt, Attributes: map[string]string{"k": evt}})
	}
	if len(evts) == 0 {
		receipt.Status = types.ReceiptRejected
		receipt.Reason = "rejected"
	}
	return receipt
}

func TestAppendAssignsSequencesAndHead(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	_, ok := j.Head()
	require.False(t, ok)

	published, err := j.Append(testReceipt(1, 100, "escrow.created"), [32]byte{0xAA})
	require.NoError(t, err)
	require.Len(t, published, 1)
	require.Equal(t, uint64(1), published[0].Sequence)

	rejected := testReceipt(2, 105)
	published, err = j.Append(rejected, [32]byte{0xBB})
	require.NoError(t, err)
	require.Empty(t, published)
	require.Equal(t, uint64(2), rejected.Sequence)

	head, ok := j.Head()
	require.True(t, ok)
	require.Equal(t, Head{Sequence: 2, Root: [32]byte{0xBB}, Timestamp: 105}, head)

	loaded, err := j.ReceiptByHash([32]byte{2})
	require.NoError(t, err)
	require.Equal(t, types.ReceiptRejected, loaded.Status)
	require.Equal(t, "rejected", loaded.Reason)

	_, err = j.Receipt(9)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = j.ReceiptByHash([32]byte{9})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEventsPagination(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	_, err = j.Append(testReceipt(1, 1, "a", "b"), [32]byte{})
	require.NoError(t, err)
	_, err = j.Append(testReceipt(2, 2), [32]byte{})
	require.NoError(t, err)
	_, err = j.Append(testReceipt(3, 3, "c"), [32]byte{})
	require.NoError(t, err)

	all, err := j.Events(0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].Event.Type)
	require.Equal(t, "c", all[2].Event.Type)
	require.Equal(t, uint64(3), all[2].Sequence)

	page, err := j.Events(2, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "c", page[0].Event.Type)

	limited, err := j.Events(1, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "a", limited[0].Event.Type)
}

func TestJournalReopenRestoresHead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	j, err := Open(dir)
	require.NoError(t, err)
	_, err = j.Append(testReceipt(1, 42, "x"), [32]byte{0x01})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	head, ok := reopened.Head()
	require.True(t, ok)
	require.Equal(t, uint64(1), head.Sequence)
	require.Equal(t, int64(42), head.Timestamp)
	require.Equal(t, [32]byte{0x01}, head.Root)
}

func TestAdvanceMovesRootWithoutReceipt(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Advance([32]byte{0x0A}, 50))
	head, ok := j.Head()
	require.True(t, ok)
	require.Equal(t, Head{Sequence: 0, Root: [32]byte{0x0A}, Timestamp: 50}, head)

	_, err = j.Append(testReceipt(1, 60, "x"), [32]byte{0x0B})
	require.NoError(t, err)
	require.NoError(t, j.Advance([32]byte{0x0C}, 10))
	head, _ = j.Head()
	require.Equal(t, uint64(1), head.Sequence)
	require.Equal(t, int64(60), head.Timestamp, "timestamp never moves backwards")
	require.Equal(t, [32]byte{0x0C}, head.Root)

	_, err = j.Receipt(2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCorruptRecordsFailChecksum(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	_, err = j.Append(testReceipt(1, 100, "escrow.created"), [32]byte{0xAA})
	require.NoError(t, err)

	raw, err := j.db.Get(receiptKey(1), nil)
	require.NoError(t, err)
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-2] ^= 0xFF
	require.NoError(t, j.db.Put(receiptKey(1), tampered, nil))

	_, err = j.Receipt(1)
	require.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, j.db.Put(eventKey(1, 0), []byte("short"), nil))
	_, err = j.Events(0, 10)
	require.ErrorIs(t, err, ErrCorrupt)
}
