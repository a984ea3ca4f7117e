/*
Package docjar persists graphs of Go objects in a document store.

Objects are plain structs that embed Handle and implement Stater. Each
persistent object is stored as one document and referenced from other
documents by Ref. Lists, dicts, records, factory values and embedded
persistent objects are stored inside the document of the object owning them.

# Objects

A registered struct goes through four states:

1. Active: loaded (or new) and unchanged.

2. Modified: changed in memory and registered with its DataManager, pending the
next flush.

3. Ghost: identity only. Load returns ghosts; Handle.Activate loads them.

4. Removed: deleted in the current transaction.

Mutations are explicit: after changing a field, call Handle.Changed. List
and Dict call it on their owner themselves.

# Transactions

A DataManager joins the current transaction of its txn.Manager on first use.
Modified objects are written when the transaction commits (or on Flush and
before every Collection query). Abort deletes what the transaction inserted
and restores the documents it overwrote, unless someone else has changed them
since.

Conflicts are detected optimistically by a ConflictHandler. The serial
handlers keep a version counter in every document and fail a flush whose
object has been written by someone else; the resolving variant lets objects
implementing ConflictResolver merge the two versions instead.

# Types

Documents do not carry Go type names. The type of a document is found, in
order, in a process-wide cache, in the collection name (when it equals a
registered type path), or in the name map collection that records which
types use which collection. A collection holding several types stores a
discriminator field in each of its documents.

# Stored forms

	{"_py_type": "type", "path": P}                type reference
	{"_py_type": P, ...attrs}                      record
	{"_py_persistent_type": P, ...attrs}           embedded persistent object
	{"_py_factory": P, "_py_factory_args": [...]}  factory value
	{"_py_constant": P}                            constant
	{"dict_data": [[k, v], ...]}                   dict with non-string keys
*/
package docjar
