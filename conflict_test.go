package docjar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleSerial_DetectsConflict(t *testing.T) {
	env := setup(t)
	setupDM := env.newDM(NewSimpleSerialConflictHandler)
	ref := env.insert(setupDM, &Person{Name: "one"})
	env.commit(setupDM)

	a := env.newDM(NewSimpleSerialConflictHandler)
	b := env.newDM(NewSimpleSerialConflictHandler)

	x := env.get(a, ref).(*Person)
	assert.Equal(t, int64(1), x.Serial())

	y := env.get(b, ref).(*Person)
	y.Rename("eins")
	env.commit(b)
	assert.Equal(t, int64(2), env.doc(ref)[DefaultSerialField])

	x.Rename("1")
	err := a.Flush(env.ctx)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(1), ce.OrigSerial)
	assert.Equal(t, int64(2), ce.CurSerial)
	assert.Equal(t, int64(2), ce.NewSerial)
	assert.Equal(t, ref, ce.Ref)
	assert.Equal(t, "docjar_test.Person", ce.Path)
	assert.Equal(t, "one", ce.Orig["name"])
	assert.Equal(t, "eins", ce.Cur["name"])
	assert.Equal(t, "1", ce.New["name"])
	assert.True(t, ce.Temporary())
	assert.Equal(t, "database conflict error (oid "+ref.String()+", class docjar_test.Person, orig serial 1, cur serial 2, new serial 2)", ce.Error())
	assert.Equal(t, "eins", env.doc(ref)["name"])

	// commit fails the same way and leaves the other writer's change alone
	require.ErrorAs(t, a.Txn().Commit(env.ctx), &ce)
	assert.Equal(t, "eins", env.doc(ref)["name"])
	assert.Equal(t, int64(2), env.doc(ref)[DefaultSerialField])
}

func TestSimpleSerial_DeletedConcurrently(t *testing.T) {
	env := setup(t)
	a := env.newDM(NewSimpleSerialConflictHandler)
	ref := env.insert(a, &Person{Name: "one"})
	env.commit(a)

	x := env.get(a, ref).(*Person)
	require.NoError(t, env.store.Delete(env.ctx, ref.Database, ref.Collection, ref.ID))
	x.Rename("two")

	var ce *ConflictError
	require.ErrorAs(t, a.Flush(env.ctx), &ce)
	assert.Nil(t, ce.Cur)
	assert.Equal(t, int64(0), ce.CurSerial)
}

func TestSimpleSerial_NewObjectsNeverConflict(t *testing.T) {
	env := setup(t)
	a := env.newDM(NewSimpleSerialConflictHandler)
	p := &Person{Name: "new"}
	require.NoError(t, p.Changed())
	conflicting, err := a.Conflicts().HasConflicts(env.ctx, []Persistent{p})
	require.NoError(t, err)
	assert.False(t, conflicting)
}

func TestNoCheck_LastWriterWins(t *testing.T) {
	env := setup(t)
	setupDM := env.newDM(nil)
	ref := env.insert(setupDM, &Person{Name: "one"})
	env.commit(setupDM)

	a := env.newDM(nil)
	b := env.newDM(nil)
	x := env.get(a, ref).(*Person)
	y := env.get(b, ref).(*Person)
	y.Rename("eins")
	env.commit(b)
	x.Rename("1")
	env.commit(a)

	assert.Equal(t, "1", env.doc(ref)["name"])
	assert.NotContains(t, env.doc(ref), DefaultSerialField)
}

func TestResolvingSerial_MergesConcurrentAppends(t *testing.T) {
	env := setup(t)
	setupDM := env.newDM(NewResolvingSerialConflictHandler)
	ref := env.insert(setupDM, &Tally{Items: []int64{1, 2, 3}})
	env.commit(setupDM)
	assert.Equal(t, "counting", ref.Database)
	assert.Equal(t, "docjar_test.Tally", ref.Collection)

	a := env.newDM(NewResolvingSerialConflictHandler)
	b := env.newDM(NewResolvingSerialConflictHandler)
	x := env.get(a, ref).(*Tally)
	y := env.get(b, ref).(*Tally)

	y.Add(4)
	env.commit(b)
	x.Add(5)
	require.NoError(t, a.Flush(env.ctx))

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, x.Items)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, env.doc(ref)["items"])
	assert.Equal(t, int64(3), env.doc(ref)[DefaultSerialField])
	assert.Equal(t, int64(3), x.Serial())
	env.commit(a)

	found := false
	for _, e := range env.hook.AllEntries() {
		if e.Message == "docjar: conflict resolved" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestResolvingSerial_UnresolvableFails(t *testing.T) {
	env := setup(t)
	setupDM := env.newDM(NewResolvingSerialConflictHandler)
	ref := env.insert(setupDM, &Person{Name: "one"})
	env.commit(setupDM)

	a := env.newDM(NewResolvingSerialConflictHandler)
	b := env.newDM(NewResolvingSerialConflictHandler)
	x := env.get(a, ref).(*Person)
	env.get(b, ref).(*Person).Rename("eins")
	env.commit(b)

	x.Rename("1")
	var ce *ConflictError
	assert.ErrorAs(t, a.Txn().Commit(env.ctx), &ce)
}

func TestSimpleSerial_HeldObjectConflict(t *testing.T) {
	env := setup(t)
	a := env.newDM(NewSimpleSerialConflictHandler)
	b := env.newDM(NewSimpleSerialConflictHandler)
	x := &Person{Name: "one"}
	ref := env.insert(a, x)
	env.commit(a)

	x.Rename("1")
	env.get(b, ref).(*Person).Rename("eins")
	env.commit(b)

	var ce *ConflictError
	require.ErrorAs(t, a.Flush(env.ctx), &ce)
	require.NotNil(t, ce.Orig)
	assert.Equal(t, "one", ce.Orig["name"])
	assert.Equal(t, int64(1), ce.OrigSerial)
	assert.Equal(t, int64(2), ce.CurSerial)

	a.Txn().Abort(env.ctx)
	assert.Equal(t, "eins", env.doc(ref)["name"])
}
