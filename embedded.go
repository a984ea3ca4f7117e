package docjar

import (
	"fmt"
	"reflect"
	"slices"
)

// List is a list stored inside its owner's document. Every mutation marks
// the owner modified and returns the error of Handle.Changed.
type List struct {
	owner *Handle
	items []any
}

func NewList(items ...any) *List {
	return &List{items: slices.Clone(items)}
}

// changed marks the owner modified. Mutators call it first and leave the
// list untouched when the owner cannot be modified (a ghost, for example).
func (l *List) changed() error {
	if l.owner == nil {
		return nil
	}
	return l.owner.Changed()
}

func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

func (l *List) Get(i int) any {
	return l.items[i]
}

// Items returns a copy of the elements.
func (l *List) Items() []any {
	if l == nil {
		return nil
	}
	return slices.Clone(l.items)
}

func (l *List) Set(i int, v any) error {
	if err := l.changed(); err != nil {
		return err
	}
	l.items[i] = v
	return nil
}

func (l *List) Append(vs ...any) error {
	if err := l.changed(); err != nil {
		return err
	}
	l.items = append(l.items, vs...)
	return nil
}

func (l *List) Insert(i int, vs ...any) error {
	if err := l.changed(); err != nil {
		return err
	}
	l.items = slices.Insert(l.items, i, vs...)
	return nil
}

func (l *List) Delete(i int) error {
	if err := l.changed(); err != nil {
		return err
	}
	l.items = slices.Delete(l.items, i, i+1)
	return nil
}

func (l *List) Clear() error {
	if err := l.changed(); err != nil {
		return err
	}
	l.items = nil
	return nil
}

// Owner returns the handle of the document object the list lives in.
func (l *List) Owner() *Handle { return l.owner }

func (l *List) String() string {
	return fmt.Sprint(l.items)
}

// Dict is a map stored inside its owner's document. It keeps insertion
// order. Keys must be comparable; non-string keys are stored in the
// dict_data form.
type Dict struct {
	owner *Handle
	keys  []any
	vals  []any
	index map[any]int
}

func NewDict() *Dict {
	return &Dict{index: make(map[any]int)}
}

// DictOf builds a Dict from alternating keys and values.
func DictOf(kvs ...any) *Dict {
	if len(kvs)%2 != 0 {
		panic("DictOf: odd number of arguments")
	}
	d := NewDict()
	for i := 0; i < len(kvs); i += 2 {
		d.put(kvs[i], kvs[i+1])
	}
	return d
}

func (d *Dict) changed() error {
	if d.owner == nil {
		return nil
	}
	return d.owner.Changed()
}

func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

func (d *Dict) Get(key any) (any, bool) {
	if d == nil {
		return nil, false
	}
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.vals[i], true
}

func (d *Dict) Has(key any) bool {
	_, ok := d.Get(key)
	return ok
}

func (d *Dict) Set(key, value any) error {
	if err := d.changed(); err != nil {
		return err
	}
	d.put(key, value)
	return nil
}

func (d *Dict) put(key, value any) {
	if key != nil && !reflect.TypeOf(key).Comparable() {
		panic(fmt.Errorf("docjar: Dict key of type %T is not comparable", key))
	}
	if d.index == nil {
		d.index = make(map[any]int)
	}
	if i, ok := d.index[key]; ok {
		d.vals[i] = value
		return
	}
	d.index[key] = len(d.keys)
	d.keys = append(d.keys, key)
	d.vals = append(d.vals, value)
}

func (d *Dict) Delete(key any) error {
	i, ok := d.index[key]
	if !ok {
		return nil
	}
	if err := d.changed(); err != nil {
		return err
	}
	d.keys = slices.Delete(d.keys, i, i+1)
	d.vals = slices.Delete(d.vals, i, i+1)
	delete(d.index, key)
	for j := i; j < len(d.keys); j++ {
		d.index[d.keys[j]] = j
	}
	return nil
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []any {
	if d == nil {
		return nil
	}
	return slices.Clone(d.keys)
}

// All iterates over the entries in insertion order.
func (d *Dict) All(yield func(key, value any) bool) {
	if d == nil {
		return
	}
	for i, k := range d.keys {
		if !yield(k, d.vals[i]) {
			return
		}
	}
}

func (d *Dict) Owner() *Handle { return d.owner }
