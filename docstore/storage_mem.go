package docstore

import (
	"bytes"
	"slices"
	"sort"
	"sync"
)

const memBucketSep = "\x00"

type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

// newMemStorage returns a transient in-memory storage intended for tests.
func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, ErrClosed
		}
		s.writer = true
	}

	// Readers share the committed buckets; committed buckets are never
	// mutated in place, a writer works on copy-on-write clones.
	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
		cloned:   make(map[string]bool),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	cloned   map[string]bool
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(database, collection string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	key := memBucketKey(database, collection)
	b := tx.buckets[key]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, key: key}
}

func (tx *memTx) CreateBucket(database, collection string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, errNotWritable
	}
	key := memBucketKey(database, collection)
	if tx.buckets[key] == nil {
		tx.buckets[key] = &memBucket{}
		tx.cloned[key] = true
	}
	return memBucketHandle{tx: tx, key: key}, nil
}

func (tx *memTx) DeleteBucket(database, collection string) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return errNotWritable
	}
	key := memBucketKey(database, collection)
	if tx.buckets[key] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, key)
	return nil
}

// mutable returns a bucket private to this transaction.
func (tx *memTx) mutable(key string) *memBucket {
	b := tx.buckets[key]
	if !tx.cloned[key] {
		b = b.clone()
		tx.buckets[key] = b
		tx.cloned[key] = true
	}
	return b
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return errNotWritable
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return ErrClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

func memBucketKey(database, collection string) string {
	return database + memBucketSep + collection
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	out := &memBucket{items: make([]memKV, len(b.items))}
	copy(out.items, b.items)
	return out
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx  *memTx
	key string
}

func (b memBucketHandle) bucket() *memBucket {
	return b.tx.buckets[b.key]
}

func (b memBucketHandle) Get(key []byte) []byte {
	i, ok := find(b.bucket().items, key)
	if !ok {
		return nil
	}
	return b.bucket().items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return errNotWritable
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	mb := b.tx.mutable(b.key)
	i, ok := find(mb.items, key)
	if ok {
		mb.items[i].value = value
		return nil
	}
	mb.items = slices.Insert(mb.items, i, memKV{key: key, value: value})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return errNotWritable
	}
	if _, ok := find(b.bucket().items, key); !ok {
		return nil
	}
	mb := b.tx.mutable(b.key)
	i, _ := find(mb.items, key)
	mb.items = slices.Delete(mb.items, i, i+1)
	return nil
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{items: b.bucket().items, pos: -1}
}

func (b memBucketHandle) Stats() bucketStats {
	var inuse int64
	items := b.bucket().items
	for _, kv := range items {
		inuse += int64(len(kv.key) + len(kv.value))
	}
	return bucketStats{
		KeyN:      len(items),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

func find(items []memKV, key []byte) (idx int, ok bool) {
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

// memCursor iterates over the items as they were when the cursor was made.
type memCursor struct {
	items []memKV
	pos   int
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	if len(c.items) == 0 {
		return nil, nil
	}
	kv := c.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	c.pos++
	if c.pos >= len(c.items) {
		return nil, nil
	}
	kv := c.items[c.pos]
	return kv.key, kv.value
}
