package docjar

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

type Kind int

const (
	// KindPersistent objects are stored as documents of their own and
	// referenced by Ref.
	KindPersistent Kind = iota
	// KindEmbedded objects embed Handle but live inside their owner's document.
	KindEmbedded
	// KindRecord values are plain Staters stored inside their owner's document.
	KindRecord
	// KindFactory values are rebuilt by a factory from Reduce's arguments.
	KindFactory
)

var kindNames = []string{"persistent", "embedded", "record", "factory"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type is a registered type. Its Path is the stable name stored in documents.
type Type struct {
	Path       string
	Kind       Kind
	Database   string
	Collection string

	goType  reflect.Type
	new     func() any
	factory func(args []any, attrs Attrs) (any, error)
}

func (t *Type) String() string {
	return t.Path
}

func (t *Type) GoType() reflect.Type {
	return t.goType
}

type TypeOption func(t *Type)

// InCollection stores objects of the type in the given collection instead of
// the collection named after the type's path.
func InCollection(name string) TypeOption {
	return func(t *Type) {
		t.Collection = name
	}
}

// InDatabase stores objects of the type in the given database instead of the
// default one.
func InDatabase(name string) TypeOption {
	return func(t *Type) {
		t.Database = name
	}
}

// Reducer is implemented by values stored in the generic factory form. The
// factory registered for the value's type gets args back; attrs, if any, are
// applied with SetState when the result is a Stater.
type Reducer interface {
	Reduce() (args []any, attrs Attrs)
}

// Constant is implemented by well-known values stored by name only.
type Constant interface {
	ConstantPath() string
}

// Serializer adds a custom wire form. Serializers are consulted before the
// built-in forms, in the order they were added.
type Serializer interface {
	CanWrite(v any) bool
	// Write returns the final stored form, usually a map with a
	// distinguishing key that CanRead recognizes. It is not serialized again.
	Write(v any) (any, error)
	CanRead(m map[string]any) bool
	Read(m map[string]any) (any, error)
}

// Registry maps stable paths to Go types. Registration happens at
// initialization; lookups are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	byPath      map[string]*Type
	byGoType    map[reflect.Type]*Type
	constants   map[string]Constant
	serializers []Serializer
}

func NewRegistry() *Registry {
	return &Registry{
		byPath:    make(map[string]*Type),
		byGoType:  make(map[reflect.Type]*Type),
		constants: make(map[string]Constant),
	}
}

// DefaultRegistry is used by data managers that do not specify one.
var DefaultRegistry = NewRegistry()

var persistentType = reflect.TypeFor[Persistent]()

// Register adds a struct type whose pointer implements Stater:
//
//	docjar.Register[Person](reg, "app.Person", docjar.KindPersistent, docjar.InCollection("people"))
func Register[T any, PT interface {
	*T
	Stater
}](r *Registry, path string, kind Kind, opts ...TypeOption) *Type {
	ptrType := reflect.TypeFor[PT]()
	isPersistent := ptrType.Implements(persistentType)
	switch kind {
	case KindPersistent, KindEmbedded:
		if !isPersistent {
			panic(fmt.Sprintf("Register(%s): %v must embed docjar.Handle", path, ptrType))
		}
	case KindRecord:
		if isPersistent {
			panic(fmt.Sprintf("Register(%s): %v embeds docjar.Handle, register it as persistent or embedded", path, ptrType))
		}
	default:
		panic(fmt.Sprintf("Register(%s): use RegisterFactory for %v", path, kind))
	}
	t := &Type{
		Path:   path,
		Kind:   kind,
		goType: ptrType,
		new: func() any {
			return PT(new(T))
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	r.add(t)
	return t
}

// RegisterFactory adds a type stored in the generic factory form.
func RegisterFactory[T Reducer](r *Registry, path string, factory func(args []any) (T, error)) *Type {
	t := &Type{
		Path:   path,
		Kind:   KindFactory,
		goType: reflect.TypeFor[T](),
		factory: func(args []any, attrs Attrs) (any, error) {
			v, err := factory(args)
			if err != nil {
				return nil, err
			}
			if len(attrs) > 0 {
				if s, ok := any(v).(Stater); ok {
					if err := s.SetState(attrs); err != nil {
						return nil, err
					}
				}
			}
			return v, nil
		},
	}
	r.add(t)
	return t
}

func (r *Registry) add(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byPath[t.Path] != nil {
		panic(fmt.Sprintf("docjar: type path %q registered twice", t.Path))
	}
	if r.byGoType[t.goType] != nil {
		panic(fmt.Sprintf("docjar: Go type %v registered twice", t.goType))
	}
	r.byPath[t.Path] = t
	r.byGoType[t.goType] = t
}

func (r *Registry) RegisterConstant(c Constant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	path := c.ConstantPath()
	if r.constants[path] != nil {
		panic(fmt.Sprintf("docjar: constant %q registered twice", path))
	}
	r.constants[path] = c
}

func (r *Registry) AddSerializer(s Serializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializers = append(r.serializers, s)
}

// TypeNamed returns the type registered under path, or nil.
func (r *Registry) TypeNamed(path string) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPath[path]
}

// TypeOf returns the registered type of v, or nil.
func (r *Registry) TypeOf(v any) *Type {
	if v == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byGoType[reflect.TypeOf(v)]
}

func (r *Registry) constant(path string) Constant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.constants[path]
}

func (r *Registry) writer(v any) Serializer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.serializers {
		if s.CanWrite(v) {
			return s
		}
	}
	return nil
}

func (r *Registry) reader(m map[string]any) Serializer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.serializers {
		if s.CanRead(m) {
			return s
		}
	}
	return nil
}

// Paths returns all registered type paths, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
