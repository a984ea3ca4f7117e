package docjar

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/andreyvit/docjar/docstore"
)

// DefaultTypeCacheSize is the capacity of the process-wide Ref -> type cache.
const DefaultTypeCacheSize = 20000

var typeCache = newTypeCache(DefaultTypeCacheSize)

func newTypeCache(size int) *lru.Cache[Ref, *Type] {
	c, err := lru.New[Ref, *Type](size)
	if err != nil {
		panic(err)
	}
	return c
}

// ResizeTypeCache changes the capacity of the process-wide type cache.
func ResizeTypeCache(size int) {
	if size <= 0 {
		size = DefaultTypeCacheSize
	}
	typeCache.Resize(size)
}

// ResetCaches forgets all process-wide state: resolved types and the catalog
// mirror. Meant for tests that recreate the store.
func ResetCaches() {
	typeCache.Purge()
	catalog.reset()
}

var catalog = newCatalogMirror()

type collKey struct {
	database   string
	collection string
}

// catalogEntry is one row of the name map collection.
type catalogEntry struct {
	ID         string
	Database   string
	Collection string
	Path       string
	HasType    bool
}

func (e catalogEntry) document() Document {
	return Document{
		"database":     e.Database,
		"collection":   e.Collection,
		"path":         e.Path,
		"doc_has_type": e.HasType,
	}
}

func catalogEntryFrom(doc Document) catalogEntry {
	e := catalogEntry{ID: doc.ID()}
	e.Database, _ = doc["database"].(string)
	e.Collection, _ = doc["collection"].(string)
	e.Path, _ = doc["path"].(string)
	e.HasType, _ = doc["doc_has_type"].(bool)
	return e
}

// catalogMirror caches the catalog of every collection touched by this
// process. Entry slices are replaced, never modified in place.
type catalogMirror struct {
	mu      sync.RWMutex
	entries map[collKey][]catalogEntry
}

func newCatalogMirror() *catalogMirror {
	return &catalogMirror{entries: make(map[collKey][]catalogEntry)}
}

func (m *catalogMirror) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[collKey][]catalogEntry)
}

func (m *catalogMirror) cached(key collKey) ([]catalogEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

// isPolymorphic reports whether the collection is known to hold several types.
func (m *catalogMirror) isPolymorphic(key collKey) bool {
	e, _ := m.cached(key)
	return len(e) > 1
}

// lookup returns the catalog entries of a collection in creation order.
func (m *catalogMirror) lookup(ctx context.Context, store docstore.Store, loc catalogLocation, key collKey) ([]catalogEntry, error) {
	if e, ok := m.cached(key); ok {
		return e, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, store, loc, key)
}

func (m *catalogMirror) loadLocked(ctx context.Context, store docstore.Store, loc catalogLocation, key collKey) ([]catalogEntry, error) {
	if e, ok := m.entries[key]; ok {
		return e, nil
	}
	docs, err := store.Find(ctx, loc.database, loc.collection, docstore.Filter{
		"database":   key.database,
		"collection": key.collection,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]catalogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, catalogEntryFrom(doc))
	}
	if len(entries) > 0 {
		m.entries[key] = entries
	}
	return entries, nil
}

// ensure records that objects of typ are stored in the collection and
// reports whether their documents need a type discriminator. A type joining
// an occupied collection marks every type of that collection.
func (m *catalogMirror) ensure(ctx context.Context, store docstore.Store, loc catalogLocation, key collKey, typ *Type) (bool, error) {
	if e, ok := m.cached(key); ok {
		for _, entry := range e {
			if entry.Path == typ.Path {
				return entry.HasType, nil
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	old, err := m.loadLocked(ctx, store, loc, key)
	if err != nil {
		return false, err
	}
	for _, entry := range old {
		if entry.Path == typ.Path {
			return entry.HasType, nil
		}
	}

	updated := make([]catalogEntry, 0, len(old)+1)
	for _, entry := range old {
		if !entry.HasType {
			entry.HasType = true
			if err := store.Upsert(ctx, loc.database, loc.collection, entry.ID, entry.document()); err != nil {
				return false, err
			}
		}
		updated = append(updated, entry)
	}

	entry := catalogEntry{
		Database:   key.database,
		Collection: key.collection,
		Path:       typ.Path,
		HasType:    len(old) > 0,
	}
	entry.ID, err = store.Insert(ctx, loc.database, loc.collection, entry.document())
	if err != nil {
		return false, err
	}
	m.entries[key] = append(updated, entry)
	return entry.HasType, nil
}

// catalogLocation is where the name map collection lives.
type catalogLocation struct {
	database   string
	collection string
}
