package docjar

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/docjar/docstore"
)

func TestCollection_QueriesSeePendingChanges(t *testing.T) {
	env := setup(t)
	dm := env.newDM(nil)
	ref := env.insert(dm, &Person{Name: "A", Age: 10})
	env.insert(dm, &Person{Name: "B", Age: 20})
	env.commit(dm)

	people := dm.CollectionOf(personType)
	assert.Equal(t, DefaultDatabase, people.Database)
	assert.Equal(t, "people", people.Collection)

	p := env.get(dm, ref).(*Person)
	p.Age = 20
	require.NoError(t, p.Changed())

	n, err := people.Count(env.ctx, docstore.Filter{"age": int64(20)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, dm.Registered())

	doc, err := people.FindOne(env.ctx, docstore.Filter{"name": "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(20), doc["age"])

	docs, err := people.Find(env.ctx, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	got, err := people.Get(env.ctx, ref.ID)
	require.NoError(t, err)
	assert.Same(t, p, got)

	one, err := people.FindOneObject(env.ctx, docstore.Filter{"name": "B"})
	require.NoError(t, err)
	assert.Equal(t, StateActive, HandleOf(one).State())
	assert.Equal(t, "B", one.(*Person).Name)

	none, err := people.FindOneObject(env.ctx, docstore.Filter{"name": "nobody"})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCollection_FindObjectsPrefetches(t *testing.T) {
	env := setup(t)
	dm := env.newDM(nil)
	for _, name := range []string{"a", "b", "c"} {
		env.insert(dm, &Person{Name: name})
	}
	env.commit(dm)

	m := NewMetrics(prometheus.NewRegistry())
	opts := env.options(nil)
	opts.Metrics = m
	dm = NewDataManager(env.store, opts)

	objs, err := dm.Collection("", "people").FindObjects(env.ctx, nil)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	for _, obj := range objs {
		assert.Equal(t, StateGhost, HandleOf(obj).State())
		require.NoError(t, HandleOf(obj).Activate())
	}
	assert.Equal(t, "c", objs[2].(*Person).Name)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StoreOps.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOps.WithLabelValues("find")))
}

func TestCollection_FilterProcessor(t *testing.T) {
	env := setup(t)
	opts := env.options(nil)
	opts.FilterProcessor = func(c *Collection, filter docstore.Filter) docstore.Filter {
		out := docstore.Filter{"age": int64(1)}
		for k, v := range filter {
			out[k] = v
		}
		return out
	}
	dm := NewDataManager(env.store, opts)
	env.insert(dm, &Person{Name: "young", Age: 1})
	env.insert(dm, &Person{Name: "old", Age: 90})

	docs, err := dm.Collection("", "people").Find(env.ctx, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "young", docs[0]["name"])
}
