package docjar

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/docjar/docstore"
)

type Person struct {
	Handle
	Name    string
	Age     int64
	Score   float64
	Tags    *List
	Meta    *Dict
	Phone   *Phone
	Home    *Address
	Origin  Point
	Color   *Color
	Kind    *Type
	Friend  *Person
	Blob    []byte
	Born    time.Time
	Counter uint64
}

func (p *Person) GetState() Attrs {
	a := Attrs{"name": p.Name, "age": p.Age}
	if p.Score != 0 {
		a["score"] = p.Score
	}
	if p.Tags != nil {
		a["tags"] = p.Tags
	}
	if p.Meta != nil {
		a["meta"] = p.Meta
	}
	if p.Phone != nil {
		a["phone"] = p.Phone
	}
	if p.Home != nil {
		a["home"] = p.Home
	}
	if p.Origin != (Point{}) {
		a["origin"] = p.Origin
	}
	if p.Color != nil {
		a["color"] = p.Color
	}
	if p.Kind != nil {
		a["kind"] = p.Kind
	}
	if p.Friend != nil {
		a["friend"] = p.Friend
	}
	if p.Blob != nil {
		a["blob"] = p.Blob
	}
	if !p.Born.IsZero() {
		a["born"] = p.Born
	}
	if p.Counter != 0 {
		a["counter"] = p.Counter
	}
	return a
}

func (p *Person) SetState(a Attrs) error {
	p.Name = a.String("name")
	p.Age = a.Int("age")
	p.Score = a.Float("score")
	p.Tags = a.List("tags")
	p.Meta = a.Dict("meta")
	p.Phone = Attr[*Phone](a, "phone")
	p.Home = Attr[*Address](a, "home")
	p.Origin = Attr[Point](a, "origin")
	p.Color = Attr[*Color](a, "color")
	p.Kind = Attr[*Type](a, "kind")
	p.Friend = Attr[*Person](a, "friend")
	p.Blob = a.Bytes("blob")
	p.Born = a.Time("born")
	return nil
}

func (p *Person) Rename(name string) {
	p.Name = name
	p.Changed()
}

// Address lives inside its owner's document.
type Address struct {
	Handle
	City string
}

func (a *Address) GetState() Attrs { return Attrs{"city": a.City} }
func (a *Address) SetState(s Attrs) error {
	a.City = s.String("city")
	return nil
}

type Phone struct {
	Country string
	Number  string
}

func (p *Phone) GetState() Attrs { return Attrs{"country": p.Country, "number": p.Number} }
func (p *Phone) SetState(a Attrs) error {
	p.Country, p.Number = a.String("country"), a.String("number")
	return nil
}

type Point struct {
	X, Y int64
}

func (p Point) Reduce() ([]any, Attrs) {
	return []any{p.X, p.Y}, nil
}

type Color struct {
	name string
}

func (c *Color) ConstantPath() string { return "docjar_test.colors." + c.name }

var (
	Red  = &Color{"red"}
	Blue = &Color{"blue"}
)

type Cat struct {
	Handle
	Name string
}

func (c *Cat) GetState() Attrs { return Attrs{"name": c.Name} }
func (c *Cat) SetState(a Attrs) error {
	c.Name = a.String("name")
	return nil
}

type Dog struct {
	Handle
	Name  string
	Barks int64
}

func (d *Dog) GetState() Attrs { return Attrs{"name": d.Name, "barks": d.Barks} }
func (d *Dog) SetState(a Attrs) error {
	d.Name, d.Barks = a.String("name"), a.Int("barks")
	return nil
}

// Tally merges concurrent additions to its set of numbers.
type Tally struct {
	Handle
	Items []int64
}

func (t *Tally) GetState() Attrs {
	items := make([]any, len(t.Items))
	for i, v := range t.Items {
		items[i] = v
	}
	return Attrs{"items": NewList(items...)}
}

func (t *Tally) SetState(a Attrs) error {
	t.Items = t.Items[:0]
	for _, v := range a.List("items").Items() {
		t.Items = append(t.Items, v.(int64))
	}
	return nil
}

func (t *Tally) Add(v int64) {
	t.Items = append(t.Items, v)
	t.Changed()
}

func (t *Tally) ResolveConflict(orig, cur, new Document) (Document, bool) {
	var union []int64
	for _, doc := range []Document{cur, new} {
		items, _ := doc["items"].([]any)
		for _, v := range items {
			n := v.(int64)
			if !slices.Contains(union, n) {
				union = append(union, n)
			}
		}
	}
	slices.Sort(union)
	merged := new.Clone()
	items := make([]any, len(union))
	for i, v := range union {
		items[i] = v
	}
	merged["items"] = items
	return merged, true
}

var (
	testRegistry = NewRegistry()

	personType  = Register[Person](testRegistry, "docjar_test.Person", KindPersistent, InCollection("people"))
	addressType = Register[Address](testRegistry, "docjar_test.Address", KindEmbedded)
	phoneType   = Register[Phone](testRegistry, "docjar_test.Phone", KindRecord)
	pointType   = RegisterFactory(testRegistry, "docjar_test.Point", func(args []any) (Point, error) {
		return Point{args[0].(int64), args[1].(int64)}, nil
	})
	catType   = Register[Cat](testRegistry, "docjar_test.Cat", KindPersistent, InCollection("pets"))
	dogType   = Register[Dog](testRegistry, "docjar_test.Dog", KindPersistent, InCollection("pets"))
	tallyType = Register[Tally](testRegistry, "docjar_test.Tally", KindPersistent, InDatabase("counting"))
)

func init() {
	testRegistry.RegisterConstant(Red)
	testRegistry.RegisterConstant(Blue)
}

type testEnv struct {
	t      *testing.T
	ctx    context.Context
	store  *docstore.DB
	logger *logrus.Logger
	hook   *test.Hook
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	ResetCaches()
	logger, hook := test.NewNullLogger()
	store := docstore.OpenMemory(docstore.Options{Logger: logger})
	t.Cleanup(func() { store.Close() })
	return &testEnv{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		logger: logger,
		hook:   hook,
	}
}

func (env *testEnv) options(ch func(dm *DataManager) ConflictHandler) Options {
	return Options{
		Registry:        testRegistry,
		Logger:          env.logger,
		ConflictHandler: ch,
	}
}

func (env *testEnv) newDM(ch func(dm *DataManager) ConflictHandler) *DataManager {
	return NewDataManager(env.store, env.options(ch))
}

func (env *testEnv) commit(dm *DataManager) {
	env.t.Helper()
	require.NoError(env.t, dm.Txn().Commit(env.ctx))
}

func (env *testEnv) insert(dm *DataManager, obj Persistent) Ref {
	env.t.Helper()
	ref, err := dm.Insert(env.ctx, obj)
	require.NoError(env.t, err)
	return ref
}

func (env *testEnv) get(dm *DataManager, ref Ref) Persistent {
	env.t.Helper()
	obj, err := dm.Get(env.ctx, ref)
	require.NoError(env.t, err)
	return obj
}

func (env *testEnv) doc(ref Ref) Document {
	env.t.Helper()
	doc, err := env.store.Get(env.ctx, ref.Database, ref.Collection, ref.ID)
	require.NoError(env.t, err)
	return doc
}

func (env *testEnv) modCount(ref Ref) uint64 {
	env.t.Helper()
	n, err := env.store.ModCount(env.ctx, ref.Database, ref.Collection, ref.ID)
	require.NoError(env.t, err)
	return n
}

func (env *testEnv) all(database, collection string) []Document {
	env.t.Helper()
	docs, err := env.store.Find(env.ctx, database, collection, nil)
	require.NoError(env.t, err)
	return docs
}
