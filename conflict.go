package docjar

import (
	"context"

	"github.com/andreyvit/docjar/docstore"
)

// ConflictHandler is the optimistic concurrency policy of a data manager.
// The data manager and its reader and writer call the hooks at fixed points:
// OnBeforeSetState before a document is loaded into an object,
// OnBeforeStore before a document is written (the write may still be
// skipped), OnAfterStore after a real write, OnModified when an object is
// registered as modified.
type ConflictHandler interface {
	OnBeforeSetState(h *Handle, doc Document)
	OnBeforeStore(h *Handle, doc Document)
	OnAfterStore(h *Handle, doc Document)
	OnModified(h *Handle)
	// IsSame reports whether writing new over orig would change nothing.
	IsSame(h *Handle, orig, new Document) bool
	// HasConflicts reports whether any of the objects was changed in the
	// store since it was loaded.
	HasConflicts(ctx context.Context, objs []Persistent) (bool, error)
	// CheckConflicts fails with *ConflictError on the first conflict it
	// cannot resolve.
	CheckConflicts(ctx context.Context, objs []Persistent) error
}

// ConflictResolver is implemented by objects that can merge concurrent
// changes. It gets the document as originally loaded, the one currently
// stored, and the one about to be written, and returns the merged document
// or false if the conflict cannot be resolved.
type ConflictResolver interface {
	ResolveConflict(orig, cur, new Document) (Document, bool)
}

// NoCheckConflictHandler never detects conflicts. The last write wins.
type NoCheckConflictHandler struct{}

func NewNoCheckConflictHandler(dm *DataManager) ConflictHandler {
	return NoCheckConflictHandler{}
}

func (NoCheckConflictHandler) OnBeforeSetState(h *Handle, doc Document) {}
func (NoCheckConflictHandler) OnBeforeStore(h *Handle, doc Document)    {}
func (NoCheckConflictHandler) OnAfterStore(h *Handle, doc Document)     {}
func (NoCheckConflictHandler) OnModified(h *Handle)                     {}

func (NoCheckConflictHandler) IsSame(h *Handle, orig, new Document) bool {
	return docstore.Equal(orig, new)
}

func (NoCheckConflictHandler) HasConflicts(ctx context.Context, objs []Persistent) (bool, error) {
	return false, nil
}

func (NoCheckConflictHandler) CheckConflicts(ctx context.Context, objs []Persistent) error {
	return nil
}

// SerialConflictHandler keeps a version counter in every document and fails
// a write when the stored counter no longer matches the one loaded. With
// Resolve set, objects implementing ConflictResolver get a chance to merge.
type SerialConflictHandler struct {
	dm      *DataManager
	field   string
	Resolve bool
}

func NewSimpleSerialConflictHandler(dm *DataManager) ConflictHandler {
	return &SerialConflictHandler{dm: dm, field: dm.opts.SerialField}
}

func NewResolvingSerialConflictHandler(dm *DataManager) ConflictHandler {
	return &SerialConflictHandler{dm: dm, field: dm.opts.SerialField, Resolve: true}
}

func (ch *SerialConflictHandler) serialOf(doc Document) int64 {
	n, _ := doc[ch.field].(int64)
	return n
}

func (ch *SerialConflictHandler) OnBeforeSetState(h *Handle, doc Document) {
	h.serial = ch.serialOf(doc)
}

// OnBeforeStore puts the next serial into doc without committing it to h,
// since the write may still be skipped.
func (ch *SerialConflictHandler) OnBeforeStore(h *Handle, doc Document) {
	doc[ch.field] = h.serial + 1
}

func (ch *SerialConflictHandler) OnAfterStore(h *Handle, doc Document) {
	h.serial = ch.serialOf(doc)
}

func (ch *SerialConflictHandler) OnModified(h *Handle) {}

func (ch *SerialConflictHandler) IsSame(h *Handle, orig, new Document) bool {
	return docstore.EqualExcept(orig, new, ch.field)
}

func (ch *SerialConflictHandler) currentSerial(ctx context.Context, h *Handle) (Document, int64, error) {
	cur, err := ch.dm.store.Get(ctx, h.ref.Database, h.ref.Collection, h.ref.ID)
	if err != nil {
		return nil, 0, err
	}
	return cur, ch.serialOf(cur), nil
}

func (ch *SerialConflictHandler) HasConflicts(ctx context.Context, objs []Persistent) (bool, error) {
	for _, obj := range ch.dm.documentObjects(objs) {
		h := obj.handle()
		if !h.hasRef {
			continue
		}
		cur, serial, err := ch.currentSerial(ctx, h)
		if err != nil {
			return false, err
		}
		if cur == nil || serial != h.serial {
			return true, nil
		}
	}
	return false, nil
}

func (ch *SerialConflictHandler) CheckConflicts(ctx context.Context, objs []Persistent) error {
	for _, obj := range ch.dm.documentObjects(objs) {
		h := obj.handle()
		if !h.hasRef || h.state == StateRemoved {
			continue
		}
		cur, serial, err := ch.currentSerial(ctx, h)
		if err != nil {
			return err
		}
		if cur != nil && serial == h.serial {
			continue
		}
		if err := ch.conflict(ctx, obj, cur, serial); err != nil {
			return err
		}
	}
	return nil
}

func (ch *SerialConflictHandler) conflict(ctx context.Context, obj Persistent, cur Document, curSerial int64) error {
	dm := ch.dm
	h := obj.handle()
	dm.metrics.conflict()

	orig := dm.original[h.ref]
	newDoc, err := dm.writer.fullState(ctx, obj)
	if err != nil {
		return err
	}

	if ch.Resolve && cur != nil {
		if resolver, ok := obj.(ConflictResolver); ok {
			if merged, ok := resolver.ResolveConflict(orig.Clone(), cur.Clone(), newDoc.Clone()); ok {
				merged[ch.field] = cur[ch.field]
				if err := dm.reader.setGhostState(ctx, obj, merged); err != nil {
					return err
				}
				h.state = StateModified
				dm.metrics.resolvedConflict()
				dm.logger.WithFields(refFields(h.ref)).Info("docjar: conflict resolved")
				return nil
			}
		}
	}

	err = &ConflictError{
		Ref:        h.ref,
		Path:       h.typePath(),
		Orig:       orig,
		Cur:        cur,
		New:        newDoc,
		OrigSerial: ch.serialOf(orig),
		CurSerial:  curSerial,
		NewSerial:  ch.serialOf(newDoc),
	}
	dm.logger.WithFields(refFields(h.ref)).WithError(err).Info("docjar: conflict")
	return err
}
