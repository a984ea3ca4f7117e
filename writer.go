package docjar

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/andreyvit/docjar/docstore"
)

// writer turns objects into documents and stores them.
type writer struct {
	dm *DataManager
}

// serialization is the state of one object graph walk. seen holds the
// non-persistent containers on the current path.
type serialization struct {
	ctx   context.Context
	owner *Handle
	seen  map[visitKey]bool
}

type visitKey struct {
	typ reflect.Type
	ptr uintptr
}

func newSerialization(ctx context.Context, owner *Handle) *serialization {
	return &serialization{ctx: ctx, owner: owner, seen: make(map[visitKey]bool)}
}

func identityOf(v any) (visitKey, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		if rv.IsNil() {
			return visitKey{}, false
		}
	case reflect.Slice:
		if rv.Len() == 0 {
			return visitKey{}, false
		}
	default:
		return visitKey{}, false
	}
	return visitKey{rv.Type(), rv.Pointer()}, true
}

func (s *serialization) enter(v any) (leave func(), err error) {
	k, ok := identityOf(v)
	if !ok {
		return func() {}, nil
	}
	if s.seen[k] {
		return nil, &CircularReferenceError{Value: v}
	}
	s.seen[k] = true
	return func() { delete(s.seen, k) }, nil
}

func (w *writer) serialize(s *serialization, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	reg := w.dm.registry
	if ser := reg.writer(v); ser != nil {
		leave, err := s.enter(v)
		if err != nil {
			return nil, err
		}
		defer leave()
		return ser.Write(v)
	}

	switch v := v.(type) {
	case bool, int64, float64, time.Time, Ref:
		return v, nil
	case string, []byte:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		// range is checked by the store on write
		return uint64(v), nil
	case uint64:
		return v, nil
	case float32:
		return float64(v), nil
	case *Type:
		return map[string]any{FieldType: TypeMarker, FieldTypePath: v.Path}, nil
	case Constant:
		path := v.ConstantPath()
		if reg.constant(path) == nil {
			return nil, &UnsupportedTypeError{Type: reflect.TypeOf(v), Msg: fmt.Sprintf("constant %q is not registered", path)}
		}
		return map[string]any{FieldConstant: path}, nil
	case Persistent:
		return w.serializePersistent(s, v)
	case *List:
		return w.serializeList(s, v)
	case *Dict:
		return w.serializeDict(s, v)
	case Reducer:
		return w.serializeReduced(s, v)
	case Stater:
		return w.serializeRecord(s, v)
	}
	return w.serializeReflect(s, v)
}

func (w *writer) serializeAttrs(s *serialization, attrs Attrs) (map[string]any, error) {
	out := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		wv, err := w.serialize(s, v)
		if err != nil {
			return nil, err
		}
		out[k] = wv
	}
	return out, nil
}

func (w *writer) serializePersistent(s *serialization, obj Persistent) (any, error) {
	h := obj.handle()
	typ, err := w.dm.typeOf(obj)
	if err != nil {
		return nil, err
	}
	if typ.Kind == KindEmbedded {
		leave, err := s.enter(obj)
		if err != nil {
			return nil, err
		}
		defer leave()
		h.attach(w.dm, obj, typ)
		if s.owner != h {
			h.owner = s.owner
		}
		out, err := w.serializeAttrs(s, obj.GetState())
		if err != nil {
			return nil, err
		}
		out[FieldPersistentType] = typ.Path
		return out, nil
	}

	if !h.hasRef {
		if _, err := w.store(s.ctx, obj, true); err != nil {
			return nil, err
		}
	}
	return h.ref, nil
}

func (w *writer) serializeList(s *serialization, l *List) (any, error) {
	leave, err := s.enter(l)
	if err != nil {
		return nil, err
	}
	defer leave()
	l.owner = s.owner
	out := make([]any, len(l.items))
	for i, e := range l.items {
		out[i], err = w.serialize(s, e)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (w *writer) serializeDict(s *serialization, d *Dict) (any, error) {
	leave, err := s.enter(d)
	if err != nil {
		return nil, err
	}
	defer leave()
	d.owner = s.owner
	return w.serializePairs(s, d.keys, d.vals)
}

// serializePairs produces a field map when every key can be a field name,
// and the dict_data form otherwise.
func (w *writer) serializePairs(s *serialization, keys, vals []any) (any, error) {
	if fieldKeys(keys) {
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			v, err := w.serialize(s, vals[i])
			if err != nil {
				return nil, err
			}
			out[k.(string)] = v
		}
		return out, nil
	}
	pairs := make([]any, len(keys))
	for i, k := range keys {
		sk, err := w.serialize(s, k)
		if err != nil {
			return nil, err
		}
		sv, err := w.serialize(s, vals[i])
		if err != nil {
			return nil, err
		}
		pairs[i] = []any{sk, sv}
	}
	return map[string]any{FieldDictData: pairs}, nil
}

func fieldKeys(keys []any) bool {
	for _, k := range keys {
		ks, ok := k.(string)
		if !ok || !docstore.ValidFieldName(ks) || !utf8.ValidString(ks) || slices.Contains(markerFields, ks) {
			return false
		}
	}
	return true
}

func (w *writer) serializeReduced(s *serialization, v Reducer) (any, error) {
	typ := w.dm.registry.TypeOf(v)
	if typ == nil || typ.Kind != KindFactory {
		return nil, &UnsupportedTypeError{Type: reflect.TypeOf(v), Msg: "no factory registered"}
	}
	leave, err := s.enter(v)
	if err != nil {
		return nil, err
	}
	defer leave()

	args, attrs := v.Reduce()
	sargs := make([]any, len(args))
	for i, a := range args {
		sargs[i], err = w.serialize(s, a)
		if err != nil {
			return nil, err
		}
	}
	out, err := w.serializeAttrs(s, attrs)
	if err != nil {
		return nil, err
	}
	out[FieldFactory] = typ.Path
	out[FieldFactoryArgs] = sargs
	return out, nil
}

func (w *writer) serializeRecord(s *serialization, v Stater) (any, error) {
	typ := w.dm.registry.TypeOf(v)
	if typ == nil || typ.Kind != KindRecord {
		return nil, &UnsupportedTypeError{Type: reflect.TypeOf(v), Msg: "type is not registered"}
	}
	leave, err := s.enter(v)
	if err != nil {
		return nil, err
	}
	defer leave()
	out, err := w.serializeAttrs(s, v.GetState())
	if err != nil {
		return nil, err
	}
	out[FieldType] = typ.Path
	return out, nil
}

func (w *writer) serializeReflect(s *serialization, v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return w.serialize(s, rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return w.serialize(s, rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
		leave, err := s.enter(v)
		if err != nil {
			return nil, err
		}
		defer leave()
		out := make([]any, rv.Len())
		for i := range out {
			out[i], err = w.serialize(s, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case reflect.Map:
		leave, err := s.enter(v)
		if err != nil {
			return nil, err
		}
		defer leave()
		keys := rv.MapKeys()
		sortKeys(keys)
		ks := make([]any, len(keys))
		vs := make([]any, len(keys))
		for i, k := range keys {
			ks[i] = k.Interface()
			vs[i] = rv.MapIndex(k).Interface()
		}
		return w.serializePairs(s, ks, vs)
	case reflect.Struct:
		pt := reflect.PointerTo(rv.Type())
		w.dm.registry.mu.RLock()
		typ := w.dm.registry.byGoType[pt]
		w.dm.registry.mu.RUnlock()
		if typ != nil && typ.Kind == KindRecord {
			p := reflect.New(rv.Type())
			p.Elem().Set(rv)
			return w.serialize(s, p.Interface())
		}
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		leave, err := s.enter(v)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.serialize(s, rv.Elem().Interface())
	}
	return nil, &UnsupportedTypeError{Type: rv.Type()}
}

// sortKeys orders map keys so that the dict_data form is deterministic.
func sortKeys(keys []reflect.Value) {
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprintf("%T:%v", keys[i].Interface(), keys[i].Interface()) < fmt.Sprintf("%T:%v", keys[j].Interface(), keys[j].Interface())
	})
}

// document serializes the full state of a top-level object.
func (w *writer) document(ctx context.Context, obj Persistent, typ *Type, hasType bool) (Document, error) {
	s := newSerialization(ctx, obj.handle())
	state, err := w.serializeAttrs(s, obj.GetState())
	if err != nil {
		return nil, err
	}
	doc := Document(state)
	if hasType {
		doc[FieldPersistentType] = typ.Path
	}
	return doc, nil
}

// fullState returns the document store would write for obj right now,
// including the version bump of the conflict handler.
func (w *writer) fullState(ctx context.Context, obj Persistent) (Document, error) {
	h := obj.handle()
	typ, err := w.dm.typeOf(obj)
	if err != nil {
		return nil, err
	}
	hasType, err := w.dm.storesType(ctx, h.ref.Database, h.ref.Collection, typ)
	if err != nil {
		return nil, err
	}
	doc, err := w.document(ctx, obj, typ, hasType)
	if err != nil {
		return nil, err
	}
	w.dm.conflicts.OnBeforeStore(h, doc)
	doc[FieldID] = h.ref.ID
	return doc, nil
}

// store writes obj. With refOnly, it only inserts a placeholder document to
// obtain a Ref and registers obj for a full write at the next flush.
func (w *writer) store(ctx context.Context, obj Persistent, refOnly bool) (Ref, error) {
	dm := w.dm
	h := obj.handle()
	typ, err := dm.typeOf(obj)
	if err != nil {
		return Ref{}, err
	}
	if typ.Kind != KindPersistent {
		return Ref{}, invalidOpf("store", h.ref, "%s is an embedded type and has no document of its own", typ.Path)
	}
	h.attach(dm, obj, typ)

	db, coll := h.ref.Database, h.ref.Collection
	if !h.hasRef {
		db, coll = dm.collectionFor(typ)
	}
	hasType, err := dm.storesType(ctx, db, coll, typ)
	if err != nil {
		return Ref{}, err
	}

	var doc Document
	if refOnly {
		doc = Document{}
		if hasType {
			doc[FieldPersistentType] = typ.Path
		}
		if err := dm.register(obj); err != nil {
			return Ref{}, err
		}
	} else {
		doc, err = w.document(ctx, obj, typ, hasType)
		if err != nil {
			return Ref{}, err
		}
	}
	dm.conflicts.OnBeforeStore(h, doc)

	if !h.hasRef {
		id, err := dm.store.Insert(ctx, db, coll, doc)
		if err != nil {
			return Ref{}, err
		}
		ref := Ref{Database: db, Collection: coll, ID: id}
		h.ref, h.hasRef = ref, true
		doc[FieldID] = id
		dm.cache[ref] = obj
		dm.addInserted(obj)
		typeCache.Add(ref, typ)
		dm.logger.WithFields(refFields(ref)).Debug("docjar: inserted")
	} else {
		doc[FieldID] = h.ref.ID
		if latest, ok := dm.latest[h.ref]; ok && dm.conflicts.IsSame(h, latest, doc) {
			dm.metrics.skippedWrite()
			return h.ref, nil
		}
		if err := dm.store.Upsert(ctx, db, coll, h.ref.ID, doc); err != nil {
			return Ref{}, err
		}
		dm.markWritten(h.ref)
		dm.logger.WithFields(refFields(h.ref)).Debug("docjar: updated")
	}
	dm.latest[h.ref] = doc.Clone()
	dm.conflicts.OnAfterStore(h, doc)
	return h.ref, nil
}
