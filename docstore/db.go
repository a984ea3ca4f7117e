package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// Store is the document store protocol consumed by the persistence layer.
// Every call is atomic on its own; there are no multi-call transactions.
type Store interface {
	// Get returns the document with the given id, or nil if there is none.
	Get(ctx context.Context, database, collection, id string) (Document, error)
	// FindOne returns the first matching document, or nil if there is none.
	FindOne(ctx context.Context, database, collection string, filter Filter) (Document, error)
	// Find returns all matching documents in id order.
	Find(ctx context.Context, database, collection string, filter Filter) ([]Document, error)
	Count(ctx context.Context, database, collection string, filter Filter) (int, error)
	// Insert stores a new document and returns its id. The document's own
	// "_id" is used when present.
	Insert(ctx context.Context, database, collection string, doc Document) (string, error)
	// Upsert replaces or creates the document with the given id.
	Upsert(ctx context.Context, database, collection, id string, doc Document) error
	// Delete removes the document with the given id; a missing one is not an error.
	Delete(ctx context.Context, database, collection, id string) error
	Close() error
}

type DB struct {
	st     storage
	logger logrus.FieldLogger
	newID  func() string

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

var _ Store = (*DB)(nil)

type Options struct {
	Logger    logrus.FieldLogger
	IsTesting bool
	MmapSize  int
	// NewID overrides id generation (time-ordered UUIDv7 by default).
	NewID func() string
}

// Open opens or creates a Bolt-backed store at path.
func Open(path string, opt Options) (*DB, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, errors.Wrapf(err, "docstore: open %s", path)
	}
	db := newDB(newBoltStorage(bdb), opt)
	db.logger.WithField("path", path).Debug("docstore: opened")
	return db, nil
}

// OpenMemory returns a transient in-memory store.
func OpenMemory(opt Options) *DB {
	return newDB(newMemStorage(), opt)
}

func newDB(st storage, opt Options) *DB {
	db := &DB{
		st:     st,
		logger: opt.Logger,
		newID:  opt.NewID,
	}
	if db.logger == nil {
		db.logger = logrus.StandardLogger()
	}
	if db.newID == nil {
		db.newID = NewID
	}
	return db
}

// NewID returns a new time-ordered id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (db *DB) Close() error {
	return db.st.Close()
}

func (db *DB) read(ctx context.Context, f func(tx storageTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := db.st.BeginTx(false)
	if err != nil {
		return errors.Wrap(err, "docstore: begin read")
	}
	defer tx.Rollback()
	db.ReadCount.Add(1)
	return f(tx)
}

func (db *DB) write(ctx context.Context, f func(tx storageTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := db.st.BeginTx(true)
	if err != nil {
		return errors.Wrap(err, "docstore: begin write")
	}
	err = f(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	db.WriteCount.Add(1)
	return errors.Wrap(tx.Commit(), "docstore: commit")
}

func decodeValue(raw []byte) (Document, uint64, error) {
	var vle value
	if err := vle.decode(raw); err != nil {
		return nil, 0, err
	}
	doc, err := decodeDocument(vle.Data)
	if err != nil {
		return nil, 0, err
	}
	return doc, vle.ModCount, nil
}

func (db *DB) Get(ctx context.Context, database, collection, id string) (Document, error) {
	var doc Document
	err := db.read(ctx, func(tx storageTx) error {
		b := tx.Bucket(database, collection)
		if b == nil {
			return nil
		}
		raw := b.Get(unsafeBytesFromString(id))
		if raw == nil {
			return nil
		}
		var err error
		doc, _, err = decodeValue(raw)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "docstore: get %s.%s/%s", database, collection, id)
	}
	return doc, nil
}

// ModCount returns the number of times the document has been written, or 0
// if it does not exist.
func (db *DB) ModCount(ctx context.Context, database, collection, id string) (uint64, error) {
	var n uint64
	err := db.read(ctx, func(tx storageTx) error {
		b := tx.Bucket(database, collection)
		if b == nil {
			return nil
		}
		raw := b.Get(unsafeBytesFromString(id))
		if raw == nil {
			return nil
		}
		var vle value
		if err := vle.decode(raw); err != nil {
			return err
		}
		n = vle.ModCount
		return nil
	})
	return n, err
}

// scan calls f for every document matching the filter, in id order, until f
// returns false.
func (db *DB) scan(ctx context.Context, database, collection string, filter Filter, f func(doc Document) bool) error {
	return db.read(ctx, func(tx storageTx) error {
		b := tx.Bucket(database, collection)
		if b == nil {
			return nil
		}
		if id, ok := filter.onlyID(); ok {
			raw := b.Get(unsafeBytesFromString(id))
			if raw == nil {
				return nil
			}
			doc, _, err := decodeValue(raw)
			if err != nil {
				return err
			}
			f(doc)
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, _, err := decodeValue(v)
			if err != nil {
				return errors.Wrapf(err, "key %q", k)
			}
			if filter.Match(doc) && !f(doc) {
				return nil
			}
		}
		return nil
	})
}

func (db *DB) FindOne(ctx context.Context, database, collection string, filter Filter) (Document, error) {
	var result Document
	err := db.scan(ctx, database, collection, filter, func(doc Document) bool {
		result = doc
		return false
	})
	if err != nil {
		return nil, errors.Wrapf(err, "docstore: find one in %s.%s", database, collection)
	}
	return result, nil
}

func (db *DB) Find(ctx context.Context, database, collection string, filter Filter) ([]Document, error) {
	var result []Document
	err := db.scan(ctx, database, collection, filter, func(doc Document) bool {
		result = append(result, doc)
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "docstore: find in %s.%s", database, collection)
	}
	return result, nil
}

func (db *DB) Count(ctx context.Context, database, collection string, filter Filter) (int, error) {
	var n int
	if len(filter) == 0 {
		err := db.read(ctx, func(tx storageTx) error {
			if b := tx.Bucket(database, collection); b != nil {
				n = b.Stats().KeyN
			}
			return nil
		})
		return n, err
	}
	err := db.scan(ctx, database, collection, filter, func(Document) bool {
		n++
		return true
	})
	if err != nil {
		return 0, errors.Wrapf(err, "docstore: count in %s.%s", database, collection)
	}
	return n, nil
}

func withID(doc Document, id string) Document {
	stored := make(Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored[IDField] = id
	return stored
}

func (db *DB) Insert(ctx context.Context, database, collection string, doc Document) (string, error) {
	id := doc.ID()
	if id == "" {
		id = db.newID()
	}
	data, err := encodeDocument(withID(doc, id))
	if err != nil {
		return "", err
	}
	err = db.write(ctx, func(tx storageTx) error {
		b, err := tx.CreateBucket(database, collection)
		if err != nil {
			return err
		}
		key := []byte(id)
		if b.Get(key) != nil {
			return ErrDuplicateID
		}
		return b.Put(key, value{Flags: vfDefault, ModCount: 1, Data: data}.encode())
	})
	if err != nil {
		return "", errors.Wrapf(err, "docstore: insert into %s.%s", database, collection)
	}
	return id, nil
}

func (db *DB) Upsert(ctx context.Context, database, collection, id string, doc Document) error {
	if id == "" {
		return errors.Errorf("docstore: upsert into %s.%s without id", database, collection)
	}
	data, err := encodeDocument(withID(doc, id))
	if err != nil {
		return err
	}
	err = db.write(ctx, func(tx storageTx) error {
		b, err := tx.CreateBucket(database, collection)
		if err != nil {
			return err
		}
		key := []byte(id)
		vle := value{Flags: vfDefault, ModCount: 1, Data: data}
		if raw := b.Get(key); raw != nil {
			var old value
			if err := old.decode(raw); err != nil {
				return err
			}
			vle.ModCount = old.ModCount + 1
		}
		return b.Put(key, vle.encode())
	})
	return errors.Wrapf(err, "docstore: upsert %s.%s/%s", database, collection, id)
}

func (db *DB) Delete(ctx context.Context, database, collection, id string) error {
	err := db.write(ctx, func(tx storageTx) error {
		b := tx.Bucket(database, collection)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
	return errors.Wrapf(err, "docstore: delete %s.%s/%s", database, collection, id)
}

// Drop deletes a whole collection.
func (db *DB) Drop(ctx context.Context, database, collection string) error {
	err := db.write(ctx, func(tx storageTx) error {
		err := tx.DeleteBucket(database, collection)
		if err == ErrBucketNotFound {
			return nil
		}
		return err
	})
	return errors.Wrapf(err, "docstore: drop %s.%s", database, collection)
}

type CollectionStats struct {
	Documents int
	DataSize  int64
	DataAlloc int64
	DBSize    int64
}

func (db *DB) Stats(ctx context.Context, database, collection string) (CollectionStats, error) {
	var s CollectionStats
	err := db.read(ctx, func(tx storageTx) error {
		s.DBSize = tx.Size()
		if b := tx.Bucket(database, collection); b != nil {
			bs := b.Stats()
			s.Documents = bs.KeyN
			s.DataSize = bs.LeafInuse
			s.DataAlloc = bs.TotalAlloc()
		}
		return nil
	})
	return s, err
}

var dumpSep = strings.Repeat("=", 80)

// Dump returns a human-readable listing of a collection.
func (db *DB) Dump(ctx context.Context, database, collection string) (string, error) {
	var buf strings.Builder
	s, err := db.Stats(ctx, database, collection)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(&buf, dumpSep)
	fmt.Fprintf(&buf, "%s.%s (%d documents)\n", database, collection, s.Documents)
	fmt.Fprintf(&buf, "%s.%s.stats: data_size = %d, data_alloc = %d\n", database, collection, s.DataSize, s.DataAlloc)
	err = db.read(ctx, func(tx storageTx) error {
		b := tx.Bucket(database, collection)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var pos int
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pos++
			doc, mod, err := decodeValue(v)
			if err != nil {
				fmt.Fprintf(&buf, "%s.%s/%d: %s: %v\n", database, collection, pos, k, err)
				continue
			}
			fmt.Fprintf(&buf, "%s.%s/%d: %s (mod %d) %v\n", database, collection, pos, k, mod, map[string]any(doc))
		}
		return nil
	})
	return buf.String(), err
}
