package docjar

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/andreyvit/docjar/docstore"
	"github.com/andreyvit/docjar/txn"
)

var dmSeq atomic.Uint64

// DataManager maps objects to documents for one transaction at a time. It
// joins the current transaction of its txn.Manager when first used and takes
// part in its two-phase commit. A DataManager is not safe for concurrent use;
// give every goroutine its own (see Pool).
type DataManager struct {
	store     docstore.Store
	opts      Options
	registry  *Registry
	logger    logrus.FieldLogger
	metrics   *Metrics
	txm       *txn.Manager
	conflicts ConflictHandler
	reader    *reader
	writer    *writer
	sortKey   string

	catalogLoc catalogLocation
	root       *Root

	// per transaction
	cache      map[Ref]Persistent
	registered []Persistent
	regIndex   map[*Handle]bool
	inserted   []Persistent
	removed    []Persistent
	original   map[Ref]Document
	latest     map[Ref]Document
	written    []Ref
	collTypes  map[collKey]*Type
	prefetched map[Ref]Document
}

var _ txn.Resource = (*DataManager)(nil)

func NewDataManager(store docstore.Store, opt Options) *DataManager {
	opt = opt.withDefaults()
	dm := &DataManager{
		store:    store,
		opts:     opt,
		registry: opt.Registry,
		logger:   opt.Logger,
		metrics:  opt.Metrics,
		txm:      opt.TxnManager,
		sortKey:  fmt.Sprintf("docjar:%d", dmSeq.Add(1)),
		catalogLoc: catalogLocation{
			database:   opt.DefaultDatabase,
			collection: opt.NameMapCollection,
		},
	}
	if dm.metrics != nil {
		dm.store = meteredStore{store, dm.metrics}
	}
	if dm.txm == nil {
		dm.txm = txn.NewManager(dm.logger)
	}
	dm.reader = &reader{dm}
	dm.writer = &writer{dm}
	dm.conflicts = opt.ConflictHandler(dm)
	dm.root = &Root{dm: dm}
	dm.reset()
	return dm
}

func (dm *DataManager) reset() {
	dm.cache = make(map[Ref]Persistent)
	dm.registered = nil
	dm.regIndex = make(map[*Handle]bool)
	dm.inserted = nil
	dm.removed = nil
	dm.original = make(map[Ref]Document)
	dm.latest = make(map[Ref]Document)
	dm.written = nil
	dm.collTypes = make(map[collKey]*Type)
	dm.prefetched = make(map[Ref]Document)
}

// Reset forgets all transaction state, starting a fresh epoch.
func (dm *DataManager) Reset() {
	dm.reset()
}

func (dm *DataManager) Store() docstore.Store      { return dm.store }
func (dm *DataManager) Registry() *Registry        { return dm.registry }
func (dm *DataManager) Txn() *txn.Manager          { return dm.txm }
func (dm *DataManager) Conflicts() ConflictHandler { return dm.conflicts }
func (dm *DataManager) Root() *Root                { return dm.root }
func (dm *DataManager) Logger() logrus.FieldLogger { return dm.logger }

func (dm *DataManager) context() context.Context {
	return dm.opts.Context
}

func (dm *DataManager) join() {
	t := dm.txm.Get()
	if !t.Joined(dm) {
		t.Join(dm)
	}
}

func (dm *DataManager) typeOf(obj Persistent) (*Type, error) {
	h := obj.handle()
	if h.typ != nil {
		return h.typ, nil
	}
	t := dm.registry.TypeOf(obj)
	if t == nil {
		return nil, &UnsupportedTypeError{Type: reflect.TypeOf(obj), Msg: "type is not registered"}
	}
	return t, nil
}

// collectionFor returns where new objects of typ are stored.
func (dm *DataManager) collectionFor(typ *Type) (database, collection string) {
	database, collection = typ.Database, typ.Collection
	if database == "" {
		database = dm.opts.DefaultDatabase
	}
	if collection == "" {
		collection = typ.Path
	}
	return
}

func (dm *DataManager) storesType(ctx context.Context, database, collection string, typ *Type) (bool, error) {
	return catalog.ensure(ctx, dm.store, dm.catalogLoc, collKey{database, collection}, typ)
}

// documentObjects maps embedded objects to the objects owning their
// documents, dropping duplicates.
func (dm *DataManager) documentObjects(objs []Persistent) []Persistent {
	seen := make(map[*Handle]bool, len(objs))
	out := make([]Persistent, 0, len(objs))
	for _, obj := range objs {
		h := obj.handle().root()
		if seen[h] || h.self == nil {
			continue
		}
		seen[h] = true
		out = append(out, h.self)
	}
	return out
}

// snapshot records the document of ref as first seen in this transaction.
func (dm *DataManager) snapshot(ref Ref, doc Document) {
	if _, ok := dm.original[ref]; ok {
		return
	}
	dm.original[ref] = doc.Clone()
	if _, ok := dm.latest[ref]; !ok {
		dm.latest[ref] = doc.Clone()
	}
}

// ensureSnapshot captures the stored document of an object carried over from
// an earlier transaction before it is overwritten.
func (dm *DataManager) ensureSnapshot(ctx context.Context, h *Handle) error {
	if !h.hasRef {
		return nil
	}
	if _, ok := dm.original[h.ref]; ok {
		return nil
	}
	if dm.isInserted(h) {
		return nil
	}
	doc, err := dm.store.Get(ctx, h.ref.Database, h.ref.Collection, h.ref.ID)
	if err != nil {
		return err
	}
	if doc != nil {
		dm.snapshot(h.ref, doc)
	}
	return nil
}

// adopt puts an object kept from an earlier transaction back into the
// identity map and snapshots its stored document. It fails when another
// object is already loaded for the same ref.
func (dm *DataManager) adopt(ctx context.Context, h *Handle) error {
	r := h.root()
	if !r.hasRef || r.self == nil {
		return nil
	}
	if cached, ok := dm.cache[r.ref]; ok {
		if cached.handle() != r {
			return invalidOpf("adopt", r.ref, "another object is already loaded for this reference")
		}
		return nil
	}
	dm.cache[r.ref] = r.self
	if r.state == StateGhost {
		return nil
	}
	return dm.ensureSnapshot(ctx, r)
}

func (dm *DataManager) register(obj Persistent) error {
	dm.join()
	h := obj.handle()
	if err := dm.adopt(dm.context(), h); err != nil {
		return err
	}
	if !dm.regIndex[h] {
		dm.regIndex[h] = true
		dm.registered = append(dm.registered, obj)
	}
	dm.conflicts.OnModified(h)
	return nil
}

// Register adds obj to the write set. Handle.Changed calls it.
func (dm *DataManager) Register(obj Persistent) error {
	h := obj.handle()
	if h.dm != nil && h.dm != dm {
		return invalidOpf("register", h.ref, "object belongs to another data manager")
	}
	return dm.register(obj)
}

func (dm *DataManager) unregister(h *Handle) {
	if !dm.regIndex[h] {
		return
	}
	delete(dm.regIndex, h)
	for i, obj := range dm.registered {
		if obj.handle() == h {
			dm.registered = append(dm.registered[:i:i], dm.registered[i+1:]...)
			break
		}
	}
}

// Registered returns the write set.
func (dm *DataManager) Registered() []Persistent {
	return append([]Persistent(nil), dm.registered...)
}

func (dm *DataManager) addInserted(obj Persistent) {
	dm.join()
	dm.inserted = append(dm.inserted, obj)
}

func (dm *DataManager) isInserted(h *Handle) bool {
	for _, obj := range dm.inserted {
		if obj.handle() == h {
			return true
		}
	}
	return false
}

func (dm *DataManager) markWritten(ref Ref) {
	for _, r := range dm.written {
		if r == ref {
			return
		}
	}
	dm.written = append(dm.written, ref)
}

// Load returns the object stored at ref. It is a ghost unless the object was
// already loaded in this transaction; the same object is returned for the
// same ref until the transaction ends.
func (dm *DataManager) Load(ctx context.Context, ref Ref) (Persistent, error) {
	dm.join()
	return dm.reader.getGhost(ctx, ref, nil)
}

// Get loads and activates the object stored at ref.
func (dm *DataManager) Get(ctx context.Context, ref Ref) (Persistent, error) {
	obj, err := dm.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if obj.handle().state == StateGhost {
		if err := dm.SetState(ctx, obj); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// SetState loads the state of a ghost.
func (dm *DataManager) SetState(ctx context.Context, obj Persistent) error {
	return dm.reader.setGhostState(ctx, obj, nil)
}

// OldState always fails: object history is not kept.
func (dm *DataManager) OldState(obj Persistent, tid string) (Attrs, error) {
	return nil, invalidOpf("old state", obj.handle().ref, "object history is not supported")
}

// Flush writes every modified object after checking for conflicts. Objects
// stay cached, so loading a ref again returns the same object.
func (dm *DataManager) Flush(ctx context.Context) error {
	if err := dm.conflicts.CheckConflicts(ctx, dm.registered); err != nil {
		return err
	}
	return dm.flushObjects(ctx)
}

func (dm *DataManager) flushObjects(ctx context.Context) error {
	written := make(map[*Handle]bool)
	// storing may register more objects, so the length is re-read every time
	for i := 0; i < len(dm.registered); i++ {
		h := dm.registered[i].handle().root()
		if written[h] || h.self == nil {
			continue
		}
		written[h] = true
		if h.state == StateGhost || h.state == StateRemoved {
			continue
		}
		if err := dm.ensureSnapshot(ctx, h); err != nil {
			return err
		}
		if _, err := dm.writer.store(ctx, h.self, false); err != nil {
			return err
		}
	}
	for _, obj := range dm.registered {
		h := obj.handle()
		if h.state == StateModified {
			h.state = StateActive
		}
		if r := h.root(); r.state == StateModified {
			r.state = StateActive
		}
	}
	dm.registered = nil
	dm.regIndex = make(map[*Handle]bool)
	return nil
}

// Insert stores a new object right away.
func (dm *DataManager) Insert(ctx context.Context, obj Persistent) (Ref, error) {
	h := obj.handle()
	if h.hasRef {
		return Ref{}, invalidOpf("insert", h.ref, "object already has a reference")
	}
	dm.join()
	ref, err := dm.writer.store(ctx, obj, false)
	if err != nil {
		return Ref{}, err
	}
	h.state = StateActive
	return ref, nil
}

// Remove deletes a stored object. Removing an object inserted in the same
// transaction undoes the insert.
func (dm *DataManager) Remove(ctx context.Context, obj Persistent) error {
	h := obj.handle()
	if !h.hasRef {
		return invalidOpf("remove", Ref{}, "object does not have a reference")
	}
	dm.join()
	ref := h.ref

	for i, ins := range dm.inserted {
		if ins.handle() == h {
			if err := dm.store.Delete(ctx, ref.Database, ref.Collection, ref.ID); err != nil {
				return err
			}
			dm.inserted = append(dm.inserted[:i:i], dm.inserted[i+1:]...)
			dm.unregister(h)
			delete(dm.latest, ref)
			h.state = StateRemoved
			return nil
		}
	}

	if err := dm.adopt(ctx, h); err != nil {
		return err
	}
	if h.state == StateGhost {
		if err := dm.SetState(ctx, obj); err != nil {
			return err
		}
	}
	if err := dm.ensureSnapshot(ctx, h); err != nil {
		return err
	}
	if err := dm.store.Delete(ctx, ref.Database, ref.Collection, ref.ID); err != nil {
		return err
	}
	dm.removed = append(dm.removed, obj)
	dm.unregister(h)
	h.state = StateRemoved
	dm.logger.WithFields(refFields(ref)).Debug("docjar: removed")
	return nil
}

// Dump writes obj immediately and takes it out of the write set.
func (dm *DataManager) Dump(ctx context.Context, obj Persistent) (Ref, error) {
	dm.join()
	h := obj.handle()
	if err := dm.adopt(ctx, h); err != nil {
		return Ref{}, err
	}
	if err := dm.ensureSnapshot(ctx, h); err != nil {
		return Ref{}, err
	}
	ref, err := dm.writer.store(ctx, obj, false)
	if err != nil {
		return Ref{}, err
	}
	dm.unregister(h)
	if h.state == StateModified {
		h.state = StateActive
	}
	return ref, nil
}

// abort undoes the physical writes of the transaction and starts a new
// epoch. It never fails; problems are logged and the object involved is left
// as it is in the store.
func (dm *DataManager) abort(ctx context.Context) {
	dm.metrics.abort()
	log := dm.logger

	for _, obj := range dm.inserted {
		h := obj.handle()
		ref := h.ref
		if err := dm.store.Delete(ctx, ref.Database, ref.Collection, ref.ID); err != nil {
			log.WithFields(refFields(ref)).WithError(err).Error("docjar: abort: failed to delete inserted object")
		}
		delete(dm.original, ref)
		delete(dm.cache, ref)
		typeCache.Remove(ref)
		h.detach()
	}

	for _, obj := range dm.removed {
		h := obj.handle()
		ref := h.ref
		orig, ok := dm.original[ref]
		if !ok {
			log.WithFields(refFields(ref)).Warn("docjar: abort: no original state of removed object")
			continue
		}
		if err := dm.store.Upsert(ctx, ref.Database, ref.Collection, ref.ID, orig); err != nil {
			log.WithFields(refFields(ref)).WithError(err).Error("docjar: abort: failed to restore removed object")
		}
		delete(dm.original, ref)
		h.ghostify()
	}

	for _, ref := range dm.written {
		orig, ok := dm.original[ref]
		if !ok {
			continue
		}
		if dm.opts.AbortPolicy == AbortRestoreUnlessConflicting {
			if obj, ok := dm.cache[ref]; ok {
				conflicting, err := dm.conflicts.HasConflicts(ctx, []Persistent{obj})
				if err != nil {
					log.WithFields(refFields(ref)).WithError(err).Error("docjar: abort: cannot check for conflicts, leaving object alone")
					dm.metrics.skippedRestore()
					continue
				}
				if conflicting {
					log.WithFields(refFields(ref)).Warn("docjar: abort: object changed concurrently, leaving it alone")
					dm.metrics.skippedRestore()
					continue
				}
			}
		}
		if err := dm.store.Upsert(ctx, ref.Database, ref.Collection, ref.ID, orig); err != nil {
			log.WithFields(refFields(ref)).WithError(err).Error("docjar: abort: failed to restore object")
		}
	}

	for _, obj := range dm.cache {
		if h := obj.handle(); h.hasRef {
			h.ghostify()
		}
	}
	dm.reset()
}

// Abort implements txn.Resource.
func (dm *DataManager) Abort(ctx context.Context, t *txn.Transaction) {
	dm.abort(ctx)
}

// TPCBegin implements txn.Resource.
func (dm *DataManager) TPCBegin(ctx context.Context, t *txn.Transaction) error {
	return nil
}

// Commit only checks for conflicts; the writes happen in TPCFinish.
func (dm *DataManager) Commit(ctx context.Context, t *txn.Transaction) error {
	return dm.conflicts.CheckConflicts(ctx, dm.registered)
}

// TPCVote implements txn.Resource.
func (dm *DataManager) TPCVote(ctx context.Context, t *txn.Transaction) error {
	return nil
}

// TPCFinish writes all modified objects and starts a new epoch. If a write
// fails, the transaction is rolled back.
func (dm *DataManager) TPCFinish(ctx context.Context, t *txn.Transaction) error {
	if err := dm.flushObjects(ctx); err != nil {
		dm.abort(ctx)
		return err
	}
	dm.reset()
	return nil
}

// TPCAbort implements txn.Resource.
func (dm *DataManager) TPCAbort(ctx context.Context, t *txn.Transaction) {
	dm.abort(ctx)
}

func (dm *DataManager) SortKey() string {
	return dm.sortKey
}

func refFields(ref Ref) logrus.Fields {
	return logrus.Fields{
		"database":   ref.Database,
		"collection": ref.Collection,
		"id":         ref.ID,
	}
}
