package docjar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot_BindLookupUnbind(t *testing.T) {
	env := setup(t)
	dm := env.newDM(nil)
	alice := &Person{Name: "Alice"}
	require.NoError(t, dm.Root().Bind(env.ctx, "app", alice))
	require.True(t, alice.HasRef())
	env.commit(dm)

	entries := env.all(DefaultDatabase, DefaultRootCollection)
	require.Len(t, entries, 1)
	assert.Equal(t, "app", entries[0]["name"])
	assert.Equal(t, alice.Ref(), entries[0]["ref"])

	dm = env.newDM(nil)
	got, err := dm.Root().Lookup(env.ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.(*Person).Name)

	has, err := dm.Root().Has(env.ctx, "app")
	require.NoError(t, err)
	assert.True(t, has)

	bob := &Person{Name: "Bob"}
	require.NoError(t, dm.Root().Bind(env.ctx, "app", bob))
	env.commit(dm)
	assert.Nil(t, env.doc(alice.Ref()))
	assert.Len(t, env.all(DefaultDatabase, DefaultRootCollection), 1)

	names, err := dm.Root().Names(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, names)

	require.NoError(t, dm.Root().Unbind(env.ctx, "app"))
	env.commit(dm)
	assert.Nil(t, env.doc(bob.Ref()))
	assert.Empty(t, env.all(DefaultDatabase, DefaultRootCollection))

	_, err = dm.Root().Lookup(env.ctx, "app")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, dm.Root().Unbind(env.ctx, "app"), ErrNotFound)
}

func TestRoot_UnbindUsesTargetLocation(t *testing.T) {
	env := setup(t)
	opts := env.options(nil)
	opts.RootDatabase = "meta"
	opts.RootCollection = "roots"
	dm := NewDataManager(env.store, opts)

	tally := &Tally{Items: []int64{1}}
	require.NoError(t, dm.Root().Bind(env.ctx, "counter", tally))
	env.commit(dm)
	assert.Len(t, env.all("meta", "roots"), 1)
	assert.NotNil(t, env.doc(tally.Ref()))

	require.NoError(t, dm.Root().Unbind(env.ctx, "counter"))
	env.commit(dm)
	assert.Nil(t, env.doc(tally.Ref()))
	assert.Empty(t, env.all("meta", "roots"))
}

func TestRoot_RebindAbortRestoresOldTarget(t *testing.T) {
	env := setup(t)
	dm := env.newDM(nil)
	alice := &Person{Name: "Alice"}
	require.NoError(t, dm.Root().Bind(env.ctx, "app", alice))
	env.commit(dm)

	require.NoError(t, dm.Root().Bind(env.ctx, "app", &Person{Name: "Bob"}))
	assert.Nil(t, env.doc(alice.Ref()))
	dm.Txn().Abort(env.ctx)
	assert.Equal(t, "Alice", env.doc(alice.Ref())["name"])
}
