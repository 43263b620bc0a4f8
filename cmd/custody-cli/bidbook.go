package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bidBookEnv = "CUSTODY_BIDBOOK"

var (
	bucketBids = []byte("bids")

	errBidNotRecorded = errors.New("no bid secret recorded for this auction and bidder")
	errBidConflict    = errors.New("a different bid is already recorded for this auction and bidder")
)

var bidBookPath = defaultBidBookPath()

func defaultBidBookPath() string {
	if v := strings.TrimSpace(os.Getenv(bidBookEnv)); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "custody-bids.db"
	}
	return filepath.Join(home, ".custody", "bids.db")
}

// bidSecret is what a bidder needs to reveal a sealed bid.
type bidSecret struct {
	Amount     string    `json:"amount"`
	Nonce      string    `json:"nonce"`
	Commitment string    `json:"commitment"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (s bidSecret) amount() (*big.Int, error) {
	v, ok := new(big.Int).SetString(s.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("bid book: malformed amount %q", s.Amount)
	}
	return v, nil
}

func (s bidSecret) nonce() ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s.Nonce, "0x"))
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("bid book: malformed nonce")
	}
	copy(out[:], raw)
	return out, nil
}

// bidBook keeps sealed-bid secrets on the bidder's machine so a reveal does
// not depend on the operator remembering the amount and nonce.
type bidBook struct {
	db *bolt.DB
}

func openBidBook(path string) (*bidBook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("bid book: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bid book %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBids)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bidBook{db: db}, nil
}

func (b *bidBook) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func bidKey(contract, bidder [20]byte) []byte {
	return append(append(make([]byte, 0, 40), contract[:]...), bidder[:]...)
}

// Reserve stores secret unless a different commitment is already on file.
// Recording the same commitment again is a no-op.
func (b *bidBook) Reserve(contract, bidder [20]byte, amount *big.Int, nonce, commitment [32]byte) error {
	secret := bidSecret{
		Amount:     amount.String(),
		Nonce:      "0x" + hex.EncodeToString(nonce[:]),
		Commitment: "0x" + hex.EncodeToString(commitment[:]),
		RecordedAt: time.Now().UTC(),
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBids)
		key := bidKey(contract, bidder)
		if raw := bucket.Get(key); raw != nil {
			var existing bidSecret
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if existing.Commitment == secret.Commitment {
				return nil
			}
			return errBidConflict
		}
		encoded, err := json.Marshal(secret)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
}

func (b *bidBook) Lookup(contract, bidder [20]byte) (bidSecret, error) {
	var secret bidSecret
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBids).Get(bidKey(contract, bidder))
		if raw == nil {
			return errBidNotRecorded
		}
		return json.Unmarshal(raw, &secret)
	})
	return secret, err
}
