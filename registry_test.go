package docjar

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lookup(t *testing.T) {
	assert.Same(t, personType, testRegistry.TypeNamed("docjar_test.Person"))
	assert.Same(t, personType, testRegistry.TypeOf(&Person{}))
	assert.Same(t, pointType, testRegistry.TypeOf(Point{}))
	assert.Nil(t, testRegistry.TypeOf(Person{}))
	assert.Nil(t, testRegistry.TypeOf(nil))
	assert.Nil(t, testRegistry.TypeNamed("nope"))

	assert.Equal(t, KindEmbedded, addressType.Kind)
	assert.Equal(t, KindRecord, phoneType.Kind)
	assert.Equal(t, "people", personType.Collection)
	assert.Equal(t, "counting", tallyType.Database)
	assert.Equal(t, reflect.TypeFor[*Cat](), catType.GoType())
	assert.Contains(t, testRegistry.Paths(), "docjar_test.Dog")
	assert.Equal(t, "factory", KindFactory.String())
	assert.Equal(t, dogType.Path, dogType.String())
}

func TestRegistry_Panics(t *testing.T) {
	r := NewRegistry()
	Register[Cat](r, "cat", KindPersistent)
	assert.Panics(t, func() { Register[Cat](r, "cat2", KindPersistent) })
	assert.Panics(t, func() { Register[Dog](r, "cat", KindPersistent) })
	assert.Panics(t, func() { Register[Phone](r, "phone", KindPersistent) })
	assert.Panics(t, func() { Register[Dog](r, "dog", KindRecord) })
	assert.Panics(t, func() { Register[Dog](r, "dog", KindFactory) })

	r.RegisterConstant(Red)
	assert.Panics(t, func() { r.RegisterConstant(Red) })
}

type upperString string

// upperSerializer stores upperString values as {"upper": s}.
type upperSerializer struct{}

func (upperSerializer) CanWrite(v any) bool {
	_, ok := v.(upperString)
	return ok
}

func (upperSerializer) Write(v any) (any, error) {
	return map[string]any{"upper": string(v.(upperString))}, nil
}

func (upperSerializer) CanRead(m map[string]any) bool {
	_, ok := m["upper"]
	return ok && len(m) == 1
}

func (upperSerializer) Read(m map[string]any) (any, error) {
	return upperString(m["upper"].(string)), nil
}

func TestRegistry_CustomSerializer(t *testing.T) {
	env := setup(t)
	reg := NewRegistry()
	Register[Person](reg, "docjar_test.Person", KindPersistent, InCollection("people"))
	reg.AddSerializer(upperSerializer{})
	opts := env.options(nil)
	opts.Registry = reg
	dm := NewDataManager(env.store, opts)

	ref := env.insert(dm, &Person{Name: "s", Tags: NewList(upperString("HI"))})
	env.commit(dm)
	assert.Equal(t, []any{map[string]any{"upper": "HI"}}, env.doc(ref)["tags"])

	got := env.get(NewDataManager(env.store, opts), ref).(*Person)
	require.Equal(t, 1, got.Tags.Len())
	assert.Equal(t, upperString("HI"), got.Tags.Get(0))
}

func TestRegistry_UnregisteredConstant(t *testing.T) {
	env := setup(t)
	dm := env.newDM(nil)
	green := &Color{"green"}
	_, err := dm.Insert(env.ctx, &Person{Name: "c", Color: green})
	var ute *UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
	assert.Contains(t, ute.Error(), "docjar_test.colors.green")
}
