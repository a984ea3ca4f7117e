package docjar

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/docjar/docstore"
)

func TestBoltStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	ResetCaches()

	store, err := docstore.Open(path, docstore.Options{IsTesting: true})
	require.NoError(t, err)
	opts := Options{Registry: testRegistry, ConflictHandler: NewSimpleSerialConflictHandler}
	dm := NewDataManager(store, opts)

	born := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	alice := &Person{
		Name:   "Alice",
		Tags:   NewList("x", int64(2)),
		Meta:   DictOf(int64(1), "one"),
		Home:   &Address{City: "Oslo"},
		Phone:  &Phone{Country: "47", Number: "1"},
		Origin: Point{1, 2},
		Color:  Blue,
		Friend: &Person{Name: "Bob"},
		Born:   born,
	}
	require.NoError(t, dm.Root().Bind(ctx, "alice", alice))
	require.NoError(t, dm.Txn().Commit(ctx))
	require.NoError(t, store.Close())

	ResetCaches()
	store, err = docstore.Open(path, docstore.Options{IsTesting: true})
	require.NoError(t, err)
	defer store.Close()
	dm = NewDataManager(store, opts)

	obj, err := dm.Root().Lookup(ctx, "alice")
	require.NoError(t, err)
	got := obj.(*Person)
	assert.Equal(t, alice.Ref(), got.Ref())
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, []any{"x", int64(2)}, got.Tags.Items())
	v, _ := got.Meta.Get(int64(1))
	assert.Equal(t, "one", v)
	assert.Equal(t, "Oslo", got.Home.City)
	assert.Equal(t, "47", got.Phone.Country)
	assert.Equal(t, Point{1, 2}, got.Origin)
	assert.Same(t, Blue, got.Color)
	assert.True(t, born.Equal(got.Born))
	assert.Equal(t, int64(1), got.Serial())
	require.NoError(t, got.Friend.Activate())
	assert.Equal(t, "Bob", got.Friend.Name)
	assert.Equal(t, int64(2), got.Friend.Serial())
}
