package docjar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/docjar/docstore"
)

func TestPolymorphicCollection_ColdStart(t *testing.T) {
	env := setup(t)
	dm := env.newDM(nil)
	catRef := env.insert(dm, &Cat{Name: "Tom"})
	dogRef := env.insert(dm, &Dog{Name: "Rex", Barks: 3})
	env.commit(dm)

	assert.Equal(t, "pets", catRef.Collection)
	assert.Equal(t, "pets", dogRef.Collection)
	assert.NotContains(t, env.doc(catRef), FieldPersistentType)
	assert.Equal(t, "docjar_test.Dog", env.doc(dogRef)[FieldPersistentType])

	catalogDocs := env.all(DefaultDatabase, DefaultNameMapCollection)
	require.Len(t, catalogDocs, 2)
	for _, d := range catalogDocs {
		assert.Equal(t, DefaultDatabase, d["database"])
		assert.Equal(t, "pets", d["collection"])
		assert.Equal(t, true, d["doc_has_type"])
	}
	assert.Equal(t, "docjar_test.Cat", catalogDocs[0]["path"])
	assert.Equal(t, "docjar_test.Dog", catalogDocs[1]["path"])

	ResetCaches()
	dm = env.newDM(nil)
	cat, ok := env.get(dm, catRef).(*Cat)
	require.True(t, ok)
	assert.Equal(t, "Tom", cat.Name)
	dog, ok := env.get(dm, dogRef).(*Dog)
	require.True(t, ok)
	assert.Equal(t, "Rex", dog.Name)
	assert.Equal(t, int64(3), dog.Barks)

	// the next write of the cat adds the discriminator
	cat.Name = "Thomas"
	require.NoError(t, cat.Changed())
	env.commit(dm)
	assert.Equal(t, "docjar_test.Cat", env.doc(catRef)[FieldPersistentType])
}

func TestPolymorphicCollection_FindObjects(t *testing.T) {
	env := setup(t)
	dm := env.newDM(nil)
	env.insert(dm, &Cat{Name: "Tom"})
	env.insert(dm, &Dog{Name: "Rex"})
	env.insert(dm, &Cat{Name: "Felix"})
	env.commit(dm)

	ResetCaches()
	dm = env.newDM(nil)
	objs, err := dm.Collection("", "pets").FindObjects(env.ctx, nil)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.IsType(t, &Cat{}, objs[0])
	assert.IsType(t, &Dog{}, objs[1])
	assert.IsType(t, &Cat{}, objs[2])

	require.NoError(t, HandleOf(objs[2]).Activate())
	assert.Equal(t, "Felix", objs[2].(*Cat).Name)

	dogs, err := dm.Collection("", "pets").FindObjects(env.ctx, docstore.Filter{FieldPersistentType: "docjar_test.Dog"})
	require.NoError(t, err)
	require.Len(t, dogs, 1)
	assert.Same(t, objs[1], dogs[0])
}

func TestTypeResolution_CollectionNamedAfterType(t *testing.T) {
	env := setup(t)
	dm := env.newDM(nil)
	ref := env.insert(dm, &Tally{Items: []int64{7}})
	env.commit(dm)

	ResetCaches()
	require.NoError(t, env.store.Drop(env.ctx, DefaultDatabase, DefaultNameMapCollection))
	tally := env.get(env.newDM(nil), ref).(*Tally)
	assert.Equal(t, []int64{7}, tally.Items)
}
