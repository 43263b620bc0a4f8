package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
)

const (
	levelDBCacheMB   = 16
	levelDBHandles   = 16
	levelDBNamespace = "custody/state/"
)

// Database is the backing store for ledger state. Both implementations expose
// the trie database that the state trie is built on.
type Database interface {
	TrieDB() *triedb.Database
	Close()
}

// --- In-Memory DB (for testing and ephemeral dev nodes) ---

type MemDB struct {
	disk   ethdb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	disk := rawdb.NewDatabase(memorydb.New())
	return &MemDB{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, triedb.HashDefaults),
	}
}

// TrieDB exposes the hash-scheme trie database.
func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	_ = db.trieDB.Close()
	_ = db.disk.Close()
}

// --- Persistent DB ---

// LevelDB is a persistent state store using LevelDB.
type LevelDB struct {
	disk   ethdb.Database
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := leveldb.New(path, levelDBCacheMB, levelDBHandles, levelDBNamespace, false)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	disk := rawdb.NewDatabase(kv)
	return &LevelDB{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, triedb.HashDefaults),
	}, nil
}

// TrieDB exposes the hash-scheme trie database.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close flushes the trie database and closes the database connection.
func (ldb *LevelDB) Close() {
	_ = ldb.trieDB.Close()
	_ = ldb.disk.Close()
}
