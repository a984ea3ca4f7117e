package docjar

import (
	"context"
	"errors"
	"sort"

	"github.com/andreyvit/docjar/docstore"
)

// Root is the table of named entry points: documents {name, ref} in the
// root collection.
type Root struct {
	dm *DataManager
}

func (r *Root) location() (string, string) {
	return r.dm.opts.RootDatabase, r.dm.opts.RootCollection
}

func (r *Root) entry(ctx context.Context, name string) (Document, error) {
	db, coll := r.location()
	return r.dm.store.FindOne(ctx, db, coll, docstore.Filter{"name": name})
}

// Lookup loads the object bound to name.
func (r *Root) Lookup(ctx context.Context, name string) (Persistent, error) {
	if err := r.dm.Flush(ctx); err != nil {
		return nil, err
	}
	e, err := r.entry(ctx, name)
	if err != nil {
		return nil, err
	}
	ref, ok := e["ref"].(Ref)
	if !ok {
		db, coll := r.location()
		return nil, notFoundf(Ref{Database: db, Collection: coll}, "", "root name %q is not bound", name)
	}
	return r.dm.Get(ctx, ref)
}

// Has reports whether name is bound.
func (r *Root) Has(ctx context.Context, name string) (bool, error) {
	e, err := r.entry(ctx, name)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// Bind makes name point to obj, inserting obj if it is new. The object the
// name pointed to before is removed.
func (r *Root) Bind(ctx context.Context, name string, obj Persistent) error {
	dm := r.dm
	h := obj.handle()
	if !h.hasRef {
		if _, err := dm.Insert(ctx, obj); err != nil {
			return err
		}
	}

	e, err := r.entry(ctx, name)
	if err != nil {
		return err
	}
	db, coll := r.location()
	if e == nil {
		_, err = dm.store.Insert(ctx, db, coll, Document{"name": name, "ref": h.ref})
		return err
	}
	if old, ok := e["ref"].(Ref); ok && old != h.ref {
		if err := r.removeTarget(ctx, old); err != nil {
			return err
		}
	}
	return dm.store.Upsert(ctx, db, coll, e.ID(), Document{"name": name, "ref": h.ref})
}

// Unbind removes name and the object it points to.
func (r *Root) Unbind(ctx context.Context, name string) error {
	e, err := r.entry(ctx, name)
	if err != nil {
		return err
	}
	db, coll := r.location()
	if e == nil {
		return notFoundf(Ref{Database: db, Collection: coll}, "", "root name %q is not bound", name)
	}
	if ref, ok := e["ref"].(Ref); ok {
		if err := r.removeTarget(ctx, ref); err != nil {
			return err
		}
	}
	return r.dm.store.Delete(ctx, db, coll, e.ID())
}

// removeTarget deletes the document at ref through the data manager, so that
// abort brings it back. Documents of unknown type are deleted directly.
func (r *Root) removeTarget(ctx context.Context, ref Ref) error {
	dm := r.dm
	obj, err := dm.Load(ctx, ref)
	if err == nil {
		if obj.handle().state == StateRemoved {
			return nil
		}
		err = dm.Remove(ctx, obj)
	}
	if errors.Is(err, ErrNotFound) {
		dm.logger.WithFields(refFields(ref)).Debug("docjar: root target has no known type, deleting directly")
		return dm.store.Delete(ctx, ref.Database, ref.Collection, ref.ID)
	}
	return err
}

// Names returns all bound names, sorted.
func (r *Root) Names(ctx context.Context) ([]string, error) {
	db, coll := r.location()
	docs, err := r.dm.store.Find(ctx, db, coll, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		if n, ok := d["name"].(string); ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}
