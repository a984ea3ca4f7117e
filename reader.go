package docjar

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/andreyvit/docjar/docstore"
)

// reader turns documents back into objects.
type reader struct {
	dm *DataManager
}

type deserialization struct {
	ctx   context.Context
	owner *Handle
}

// resolveType finds the type of the object stored at ref, cheapest source
// first: the process-wide cache, the per-transaction collection cache, the
// collection name as a type path, and finally the catalog. doc, if known,
// saves a fetch when the catalog needs a discriminator.
func (r *reader) resolveType(ctx context.Context, ref Ref, doc Document) (*Type, error) {
	dm := r.dm
	if t, ok := typeCache.Get(ref); ok {
		return t, nil
	}
	key := collKey{ref.Database, ref.Collection}
	polymorphic := catalog.isPolymorphic(key)
	if t := dm.collTypes[key]; t != nil && !polymorphic {
		typeCache.Add(ref, t)
		return t, nil
	}
	if !polymorphic {
		if t := dm.registry.TypeNamed(ref.Collection); t != nil && t.Kind == KindPersistent {
			dm.collTypes[key] = t
			typeCache.Add(ref, t)
			return t, nil
		}
	}

	entries, err := catalog.lookup(ctx, dm.store, dm.catalogLoc, key)
	if err != nil {
		return nil, err
	}
	var path string
	switch len(entries) {
	case 0:
		return nil, notFoundf(ref, "", "no type is known for collection %s.%s", ref.Database, ref.Collection)
	case 1:
		path = entries[0].Path
	default:
		if doc == nil {
			doc, err = dm.store.Get(ctx, ref.Database, ref.Collection, ref.ID)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				return nil, notFoundf(ref, "", "document does not exist")
			}
			dm.prefetched[ref] = doc
		}
		if p, ok := doc[FieldPersistentType].(string); ok {
			path = p
		} else {
			path = untypedPath(entries)
		}
	}

	t := dm.registry.TypeNamed(path)
	if t == nil {
		return nil, notFoundf(ref, path, "type is not registered")
	}
	if len(entries) == 1 {
		dm.collTypes[key] = t
	}
	typeCache.Add(ref, t)
	return t, nil
}

// untypedPath picks the type of a document without a discriminator: the only
// type not marked as storing one, or else the first type that used the
// collection, since documents written before the collection became
// polymorphic carry no discriminator.
func untypedPath(entries []catalogEntry) string {
	var candidate string
	var n int
	for _, e := range entries {
		if !e.HasType {
			candidate = e.Path
			n++
		}
	}
	if n == 1 {
		return candidate
	}
	return entries[0].Path
}

// getGhost returns the cached object for ref or a new ghost.
func (r *reader) getGhost(ctx context.Context, ref Ref, doc Document) (Persistent, error) {
	dm := r.dm
	if obj, ok := dm.cache[ref]; ok {
		return obj, nil
	}
	t, err := r.resolveType(ctx, ref, doc)
	if err != nil {
		return nil, err
	}
	if t.Kind != KindPersistent {
		return nil, notFoundf(ref, t.Path, "%v type cannot be referenced", t.Kind)
	}
	obj := t.new().(Persistent)
	h := obj.handle()
	h.attach(dm, obj, t)
	h.ref, h.hasRef = ref, true
	h.state = StateGhost
	dm.cache[ref] = obj
	return obj, nil
}

// setGhostState loads obj from doc, or from the store if doc is nil.
func (r *reader) setGhostState(ctx context.Context, obj Persistent, doc Document) error {
	dm := r.dm
	h := obj.handle()
	if cached, ok := dm.cache[h.ref]; ok && cached.handle() != h {
		return invalidOpf("activate", h.ref, "another object is already loaded for this reference")
	}
	if doc == nil {
		if d, ok := dm.prefetched[h.ref]; ok {
			doc = d
			delete(dm.prefetched, h.ref)
		} else {
			var err error
			doc, err = dm.store.Get(ctx, h.ref.Database, h.ref.Collection, h.ref.ID)
			if err != nil {
				return err
			}
			if doc == nil {
				return notFoundf(h.ref, h.typePath(), "document does not exist")
			}
		}
	}

	dm.conflicts.OnBeforeSetState(h, doc)
	d := &deserialization{ctx: ctx, owner: h}
	attrs, err := r.attrs(d, doc, FieldID, FieldPersistentType, dm.opts.SerialField)
	if err != nil {
		return err
	}
	if err := obj.SetState(attrs); err != nil {
		return fmt.Errorf("docjar: %v: SetState: %w", h.ref, err)
	}
	h.state = StateActive
	dm.snapshot(h.ref, doc)
	if _, ok := dm.cache[h.ref]; !ok {
		dm.cache[h.ref] = obj
	}
	return nil
}

func (r *reader) attrs(d *deserialization, m map[string]any, skip ...string) (Attrs, error) {
	attrs := make(Attrs, len(m))
outer:
	for k, v := range m {
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		dv, err := r.deserialize(d, v)
		if err != nil {
			return nil, err
		}
		attrs[k] = dv
	}
	return attrs, nil
}

func (r *reader) deserialize(d *deserialization, v any) (any, error) {
	switch v := v.(type) {
	case Ref:
		return r.getGhost(d.ctx, v, nil)
	case []any:
		l := &List{owner: d.owner, items: make([]any, len(v))}
		for i, e := range v {
			de, err := r.deserialize(d, e)
			if err != nil {
				return nil, err
			}
			l.items[i] = de
		}
		return l, nil
	case map[string]any:
		return r.deserializeMap(d, v)
	case docstore.Document:
		return r.deserializeMap(d, v)
	default:
		return v, nil
	}
}

func (r *reader) deserializeMap(d *deserialization, m map[string]any) (any, error) {
	dm := r.dm
	reg := dm.registry
	if s := reg.reader(m); s != nil {
		return s.Read(m)
	}

	if data, ok := m[FieldDictData]; ok {
		return r.deserializeDictData(d, data)
	}

	if path, ok := m[FieldConstant].(string); ok {
		c := reg.constant(path)
		if c == nil {
			return nil, notFoundf(Ref{}, path, "constant is not registered")
		}
		return c, nil
	}

	if path, ok := m[FieldType].(string); ok {
		if path == TypeMarker {
			p, _ := m[FieldTypePath].(string)
			t := reg.TypeNamed(p)
			if t == nil {
				return nil, notFoundf(Ref{}, p, "type is not registered")
			}
			return t, nil
		}
		t := reg.TypeNamed(path)
		if t == nil || t.Kind != KindRecord {
			return nil, notFoundf(Ref{}, path, "record type is not registered")
		}
		obj := t.new().(Stater)
		attrs, err := r.attrs(d, m, FieldType)
		if err != nil {
			return nil, err
		}
		if err := obj.SetState(attrs); err != nil {
			return nil, fmt.Errorf("docjar: %s: SetState: %w", path, err)
		}
		return obj, nil
	}

	if path, ok := m[FieldPersistentType].(string); ok {
		t := reg.TypeNamed(path)
		if t == nil || t.Kind != KindEmbedded {
			return nil, notFoundf(Ref{}, path, "embedded type is not registered")
		}
		obj := t.new().(Persistent)
		h := obj.handle()
		h.attach(dm, obj, t)
		h.owner = d.owner
		attrs, err := r.attrs(d, m, FieldPersistentType)
		if err != nil {
			return nil, err
		}
		if err := obj.SetState(attrs); err != nil {
			return nil, fmt.Errorf("docjar: %s: SetState: %w", path, err)
		}
		return obj, nil
	}

	if path, ok := m[FieldFactory].(string); ok {
		t := reg.TypeNamed(path)
		if t == nil || t.Kind != KindFactory {
			return nil, notFoundf(Ref{}, path, "factory is not registered")
		}
		rawArgs, _ := m[FieldFactoryArgs].([]any)
		args := make([]any, len(rawArgs))
		for i, a := range rawArgs {
			da, err := r.deserialize(d, a)
			if err != nil {
				return nil, err
			}
			args[i] = da
		}
		attrs, err := r.attrs(d, m, FieldFactory, FieldFactoryArgs)
		if err != nil {
			return nil, err
		}
		return t.factory(args, attrs)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dict := &Dict{owner: d.owner, index: make(map[any]int, len(m))}
	for _, k := range keys {
		v, err := r.deserialize(d, m[k])
		if err != nil {
			return nil, err
		}
		dict.put(k, v)
	}
	return dict, nil
}

func (r *reader) deserializeDictData(d *deserialization, data any) (any, error) {
	pairs, _ := data.([]any)
	dict := &Dict{owner: d.owner, index: make(map[any]int, len(pairs))}
	for _, p := range pairs {
		kv, ok := p.([]any)
		if !ok || len(kv) != 2 {
			return nil, fmt.Errorf("docjar: malformed %s entry %v", FieldDictData, p)
		}
		k, err := r.deserialize(d, kv[0])
		if err != nil {
			return nil, err
		}
		if k != nil && !reflect.TypeOf(k).Comparable() {
			return nil, &UnsupportedTypeError{Type: reflect.TypeOf(k), Msg: "dict keys must be comparable"}
		}
		v, err := r.deserialize(d, kv[1])
		if err != nil {
			return nil, err
		}
		dict.put(k, v)
	}
	return dict, nil
}
