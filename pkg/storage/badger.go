package storage

// BadgerEngine provides persistent disk-based quad storage using BadgerDB.

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/quadfork/pkg/cache"
	"github.com/orneryd/quadfork/pkg/rdf"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixTerm  = byte(0x01) // term:termID -> JSON(Term)
	prefixGSPO  = byte(0x02) // gspo:g:s:p:o -> []byte{}
	prefixSPOG  = byte(0x03) // spog:s:p:o:g -> []byte{}
	prefixGraph = byte(0x04) // graph:g -> uint64 quad count
)

// idLen is the size of a term id (blake2b-128 of the normalized term key).
const idLen = 16

// maxConflictRetries bounds retries of read-modify-write transactions that
// lose a race with a concurrent writer.
const maxConflictRetries = 8

// removeChunkSize bounds the number of quads deleted per transaction so large
// RemoveMatches calls stay under badger's transaction size limit.
const removeChunkSize = 1000

type termID [idLen]byte

// BadgerEngine provides persistent quad storage using BadgerDB.
//
// Features:
//   - ACID transactions for all operations
//   - Persistent storage to disk
//   - Two covering indexes (GSPO and SPOG) for pattern queries
//   - Thread-safe concurrent access
//
// Key Structure:
//   - Terms: 0x01 + termID -> JSON(Term)
//   - Quads by graph: 0x02 + g + s + p + o -> empty
//   - Quads by subject: 0x03 + s + p + o + g -> empty
//   - Graph counters: 0x04 + g -> uint64 big-endian
//
// Term ids are blake2b-128 hashes of the normalized term key, so equal terms
// (same kind and lexical value) always land on the same id. The dictionary
// keeps the first datatype written for a given lexical value.
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool

	// terms caches decoded terms. Term records are never rewritten, so
	// entries stay valid for the life of the engine.
	terms *cache.LRU[termID, rdf.Term]
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is suppressed.
	Logger badger.Logger

	// TermCacheSize bounds the decoded-term cache shared by reads.
	// Default: 4096
	TermCacheSize int
}

// NewBadgerEngine creates a persistent engine in dataDir with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Example - In-Memory Database for Testing:
//
//	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
//		InMemory: true,
//	})
//	defer engine.Close()
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	// Quiet by default
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	// Quads are small and keys carry all the data; keep the footprint low.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	cacheSize := opts.TermCacheSize
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &BadgerEngine{db: db, terms: cache.New[termID, rdf.Term](cacheSize)}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func idFor(t rdf.Term) termID {
	sum := blake2b.Sum256([]byte(t.Key()))
	var id termID
	copy(id[:], sum[:idLen])
	return id
}

func termKey(id termID) []byte {
	return append([]byte{prefixTerm}, id[:]...)
}

func graphKey(g termID) []byte {
	return append([]byte{prefixGraph}, g[:]...)
}

// quadIDs holds the four term ids of a quad in s, p, o, g order.
type quadIDs [4]termID

func idsFor(q rdf.Quad) quadIDs {
	return quadIDs{idFor(q.Subject), idFor(q.Predicate), idFor(q.Object), idFor(q.Graph)}
}

func (ids quadIDs) gspoKey() []byte {
	key := make([]byte, 0, 1+4*idLen)
	key = append(key, prefixGSPO)
	key = append(key, ids[3][:]...)
	key = append(key, ids[0][:]...)
	key = append(key, ids[1][:]...)
	key = append(key, ids[2][:]...)
	return key
}

func (ids quadIDs) spogKey() []byte {
	key := make([]byte, 0, 1+4*idLen)
	key = append(key, prefixSPOG)
	key = append(key, ids[0][:]...)
	key = append(key, ids[1][:]...)
	key = append(key, ids[2][:]...)
	key = append(key, ids[3][:]...)
	return key
}

// decodeIndexKey recovers s, p, o, g ids from a GSPO or SPOG key.
func decodeIndexKey(key []byte) (quadIDs, bool) {
	var ids quadIDs
	if len(key) != 1+4*idLen {
		return ids, false
	}
	part := func(i int) (id termID) {
		copy(id[:], key[1+i*idLen:1+(i+1)*idLen])
		return id
	}
	switch key[0] {
	case prefixGSPO:
		ids = quadIDs{part(1), part(2), part(3), part(0)}
	case prefixSPOG:
		ids = quadIDs{part(0), part(1), part(2), part(3)}
	default:
		return ids, false
	}
	return ids, true
}

// patternPlan picks the index prefix for a pattern and records which
// positions still need filtering after the prefix scan.
type patternPlan struct {
	prefix []byte
	want   [4]*termID
}

func planFor(p rdf.Pattern) patternPlan {
	var plan patternPlan
	terms := [4]rdf.Term{p.Subject, p.Predicate, p.Object, p.Graph}
	for i, t := range terms {
		if !t.IsZero() {
			id := idFor(t)
			plan.want[i] = &id
		}
	}

	// Index component order as positions into s, p, o, g.
	order := []int{0, 1, 2, 3}
	plan.prefix = []byte{prefixSPOG}
	if plan.want[3] != nil || plan.want[0] == nil {
		order = []int{3, 0, 1, 2}
		plan.prefix = []byte{prefixGSPO}
	}
	for _, pos := range order {
		if plan.want[pos] == nil {
			break
		}
		plan.prefix = append(plan.prefix, plan.want[pos][:]...)
	}
	return plan
}

func (plan patternPlan) accepts(ids quadIDs) bool {
	for i, want := range plan.want {
		if want != nil && *want != ids[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Engine implementation
// ============================================================================

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (b *BadgerEngine) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Add inserts q if no equal quad is stored.
func (b *BadgerEngine) Add(q rdf.Quad) error {
	return b.BulkAdd([]rdf.Quad{q})
}

// BulkAdd inserts quads in a single transaction.
func (b *BadgerEngine) BulkAdd(quads []rdf.Quad) error {
	for _, q := range quads {
		if err := validateQuad(q); err != nil {
			return err
		}
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.update(func(txn *badger.Txn) error {
		for _, q := range quads {
			if err := addTxn(txn, q); err != nil {
				return err
			}
		}
		return nil
	})
}

func addTxn(txn *badger.Txn, q rdf.Quad) error {
	ids := idsFor(q)
	key := ids.gspoKey()
	if _, err := txn.Get(key); err == nil {
		return nil
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	terms := [4]rdf.Term{q.Subject, q.Predicate, q.Object, q.Graph}
	for i, t := range terms {
		if err := putTerm(txn, ids[i], t); err != nil {
			return err
		}
	}
	if err := txn.Set(key, nil); err != nil {
		return err
	}
	if err := txn.Set(ids.spogKey(), nil); err != nil {
		return err
	}
	return adjustGraphCount(txn, ids[3], 1)
}

func putTerm(txn *badger.Txn, id termID, t rdf.Term) error {
	key := termKey(id)
	if _, err := txn.Get(key); err == nil {
		return nil
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding term: %w", err)
	}
	return txn.Set(key, data)
}

func adjustGraphCount(txn *badger.Txn, g termID, delta int64) error {
	key := graphKey(g)
	var count int64
	item, err := txn.Get(key)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			if len(val) == 8 {
				count = int64(binary.BigEndian.Uint64(val))
			}
			return nil
		}); err != nil {
			return err
		}
	case err != badger.ErrKeyNotFound:
		return err
	}

	count += delta
	if count <= 0 {
		return txn.Delete(key)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(count))
	return txn.Set(key, buf)
}

func removeTxn(txn *badger.Txn, ids quadIDs) error {
	key := ids.gspoKey()
	if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	if err := txn.Delete(key); err != nil {
		return err
	}
	if err := txn.Delete(ids.spogKey()); err != nil {
		return err
	}
	return adjustGraphCount(txn, ids[3], -1)
}

// Remove deletes q or returns ErrNotFound.
func (b *BadgerEngine) Remove(q rdf.Quad) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	ids := idsFor(q)
	return b.update(func(txn *badger.Txn) error {
		return removeTxn(txn, ids)
	})
}

// Match returns quads satisfying p in index order.
func (b *BadgerEngine) Match(p rdf.Pattern) ([]rdf.Quad, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []rdf.Quad
	err := b.db.View(func(txn *badger.Txn) error {
		idsList, err := scanTxn(txn, planFor(p))
		if err != nil {
			return err
		}
		for _, ids := range idsList {
			var q [4]rdf.Term
			for i, id := range ids {
				t, ok := b.terms.Get(id)
				if !ok {
					if t, err = getTerm(txn, id); err != nil {
						return err
					}
					b.terms.Put(id, t)
				}
				q[i] = t
			}
			out = append(out, rdf.NewQuad(q[0], q[1], q[2], q[3]))
		}
		return nil
	})
	return out, err
}

func scanTxn(txn *badger.Txn, plan patternPlan) ([]quadIDs, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []quadIDs
	for it.Seek(plan.prefix); it.ValidForPrefix(plan.prefix); it.Next() {
		ids, ok := decodeIndexKey(it.Item().Key())
		if !ok {
			continue
		}
		if plan.accepts(ids) {
			out = append(out, ids)
		}
	}
	return out, nil
}

func getTerm(txn *badger.Txn, id termID) (rdf.Term, error) {
	var t rdf.Term
	item, err := txn.Get(termKey(id))
	if err != nil {
		return t, fmt.Errorf("loading term %x: %w", id[:], err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	})
	return t, err
}

// RemoveMatches deletes every quad satisfying p in chunked transactions.
func (b *BadgerEngine) RemoveMatches(p rdf.Pattern) (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	var idsList []quadIDs
	if err := b.db.View(func(txn *badger.Txn) error {
		var err error
		idsList, err = scanTxn(txn, planFor(p))
		return err
	}); err != nil {
		return 0, err
	}

	removed := 0
	for start := 0; start < len(idsList); start += removeChunkSize {
		end := start + removeChunkSize
		if end > len(idsList) {
			end = len(idsList)
		}
		chunk := idsList[start:end]
		n := 0
		err := b.update(func(txn *badger.Txn) error {
			n = 0
			for _, ids := range chunk {
				err := removeTxn(txn, ids)
				if err == ErrNotFound {
					// Removed concurrently.
					continue
				}
				if err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// Graphs lists graph IRIs in sorted order.
func (b *BadgerEngine) Graphs() ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var graphs []string
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixGraph}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id termID
			copy(id[:], bytes.TrimPrefix(it.Item().Key(), prefix))
			t, err := getTerm(txn, id)
			if err != nil {
				return err
			}
			graphs = append(graphs, t.Value)
		}
		return nil
	})
	sort.Strings(graphs)
	return graphs, err
}

// Count returns the number of stored quads.
func (b *BadgerEngine) Count() (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixGSPO}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// DiskSize returns the bytes used by the LSM tree and the value log as last
// measured by badger. It is zero for in-memory engines.
func (b *BadgerEngine) DiskSize() (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	lsm, vlog := b.db.Size()
	return lsm + vlog, nil
}

// Close closes the BadgerDB database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.db.Close()
}

// Sync forces a sync of all data to disk.
func (b *BadgerEngine) Sync() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

// TermCacheStats reports how often Match found decoded terms in memory.
func (b *BadgerEngine) TermCacheStats() cache.Stats {
	return b.terms.Stats()
}
