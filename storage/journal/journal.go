package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"lukechampine.com/blake3"

	"custodychain/core/events"
	"custodychain/core/types"
)

const (
	receiptKeyPrefix = "receipt:"
	hashKeyPrefix    = "hash:"
	eventKeyPrefix   = "event:"
	headKey          = "head"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("journal: not found")
	// ErrCorrupt is returned when a stored record fails its checksum.
	ErrCorrupt = errors.New("journal: record checksum mismatch")
)

const checksumSize = 32

// Head is the ledger position after the most recent admitted call.
type Head struct {
	Sequence  uint64   `json:"sequence"`
	Root      [32]byte `json:"root"`
	Timestamp int64    `json:"timestamp"`
}

// Journal is the append-only log of admitted calls. Every call yields a
// receipt; accepted calls additionally append their events. Records are
// written in one batch together with the new head so a crash never leaves a
// receipt without its head or the reverse. Each stored value is prefixed with
// its BLAKE3 digest and verified on read.
type Journal struct {
	mu      sync.RWMutex
	db      *leveldb.DB
	head    Head
	hasHead bool
}

// Open opens (or creates) a journal at path. An empty path keeps the journal
// in memory, which is what tests and ephemeral dev nodes use.
func Open(path string) (*Journal, error) {
	var (
		db  *leveldb.DB
		err error
	)
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(filepath.Clean(trimmed), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}
	if err := j.loadHead(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close releases the underlying LevelDB resources.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func (j *Journal) loadHead() error {
	raw, err := j.db.Get([]byte(headKey), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load journal head: %w", err)
	}
	if err := decodeRecord(raw, &j.head); err != nil {
		return fmt.Errorf("decode journal head: %w", err)
	}
	j.hasHead = true
	return nil
}

// Head returns the current head. The boolean is false until the first
// receipt or state advance has been recorded.
func (j *Journal) Head() (Head, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.head, j.hasHead
}

// Advance moves the head to root without recording a receipt. Genesis
// allocation and operator actions (pausing a module) change state outside of
// admitted calls and use it so a restart resumes from the right root.
func (j *Journal) Advance(root [32]byte, timestamp int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return fmt.Errorf("journal: closed")
	}
	next := Head{Sequence: j.head.Sequence, Root: root, Timestamp: timestamp}
	if next.Timestamp < j.head.Timestamp {
		next.Timestamp = j.head.Timestamp
	}
	raw, err := encodeRecord(next)
	if err != nil {
		return fmt.Errorf("encode head: %w", err)
	}
	if err := j.db.Put([]byte(headKey), raw, nil); err != nil {
		return fmt.Errorf("advance journal: %w", err)
	}
	j.head = next
	j.hasHead = true
	return nil
}

// Append records the receipt (and its events) under the next sequence number
// and advances the head to root and the receipt timestamp. The receipt is
// updated in place with the assigned sequence.
func (j *Journal) Append(receipt *types.Receipt, root [32]byte) ([]events.Published, error) {
	if receipt == nil {
		return nil, fmt.Errorf("journal: nil receipt")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, fmt.Errorf("journal: closed")
	}
	next := Head{Sequence: j.head.Sequence + 1, Root: root, Timestamp: receipt.Timestamp}
	receipt.Sequence = next.Sequence

	batch := new(leveldb.Batch)
	encoded, err := encodeRecord(receipt)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	batch.Put(receiptKey(next.Sequence), encoded)
	batch.Put(hashKey(receipt.CallHash), seqBytes(next.Sequence))

	published := make([]events.Published, 0, len(receipt.Events))
	for i, evt := range receipt.Events {
		record := events.Published{
			Sequence:  next.Sequence,
			Contract:  receipt.Contract,
			Timestamp: receipt.Timestamp,
			Event:     evt.Clone(),
		}
		raw, err := encodeRecord(record)
		if err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
		batch.Put(eventKey(next.Sequence, uint32(i)), raw)
		published = append(published, record)
	}
	headRaw, err := encodeRecord(next)
	if err != nil {
		return nil, fmt.Errorf("encode head: %w", err)
	}
	batch.Put([]byte(headKey), headRaw)
	if err := j.db.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("append journal: %w", err)
	}
	j.head = next
	j.hasHead = true
	return published, nil
}

// Receipt returns the receipt recorded under sequence.
func (j *Journal) Receipt(sequence uint64) (*types.Receipt, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, fmt.Errorf("journal: closed")
	}
	return j.receiptLocked(sequence)
}

func (j *Journal) receiptLocked(sequence uint64) (*types.Receipt, error) {
	raw, err := j.db.Get(receiptKey(sequence), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load receipt: %w", err)
	}
	receipt := new(types.Receipt)
	if err := decodeRecord(raw, receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}

// ReceiptByHash returns the receipt of the call with the supplied hash.
func (j *Journal) ReceiptByHash(hash [32]byte) (*types.Receipt, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, fmt.Errorf("journal: closed")
	}
	raw, err := j.db.Get(hashKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load receipt index: %w", err)
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("journal: corrupt receipt index")
	}
	return j.receiptLocked(binary.BigEndian.Uint64(raw))
}

// Events returns up to limit published events starting at fromSequence.
func (j *Journal) Events(fromSequence uint64, limit int) ([]events.Published, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, fmt.Errorf("journal: closed")
	}
	if limit <= 0 {
		limit = 100
	}
	iter := j.db.NewIterator(util.BytesPrefix([]byte(eventKeyPrefix)), nil)
	defer iter.Release()

	out := make([]events.Published, 0)
	for ok := iter.Seek(eventKey(fromSequence, 0)); ok && len(out) < limit; ok = iter.Next() {
		var record events.Published
		if err := decodeRecord(iter.Value(), &record); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, record)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func encodeRecord(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(payload)
	return append(sum[:], payload...), nil
}

func decodeRecord(raw []byte, out interface{}) error {
	if len(raw) < checksumSize {
		return ErrCorrupt
	}
	payload := raw[checksumSize:]
	if sum := blake3.Sum256(payload); !bytes.Equal(sum[:], raw[:checksumSize]) {
		return ErrCorrupt
	}
	return json.Unmarshal(payload, out)
}

func seqBytes(sequence uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, sequence)
	return buf
}

func receiptKey(sequence uint64) []byte {
	return append([]byte(receiptKeyPrefix), seqBytes(sequence)...)
}

func hashKey(hash [32]byte) []byte {
	return append([]byte(hashKeyPrefix), hash[:]...)
}

func eventKey(sequence uint64, index uint32) []byte {
	key := append([]byte(eventKeyPrefix), seqBytes(sequence)...)
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, index)
	return append(key, idx...)
}
