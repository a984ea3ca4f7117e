/*
Package docstore is a small schemaless document store on top of a key-value
store (Bolt, or an in-memory map for tests).

Documents are string-keyed maps addressed by (database, collection, id).
A database is a root bucket, a collection is a bucket nested inside it, and
every document is a single key-value pair keyed by its id.

# Values

Leaves are restricted to nil, bool, int64, float64, string, []byte,
time.Time and Ref; composites are []any and map[string]any. Other Go integer
and float kinds are widened on write. Unsigned integers above math.MaxInt64
fail the write with *OverflowError. Field names must not contain '.', '$' or
NUL (see *FieldNameError).

# Binary encoding

**Value**: value header, then msgpack-encoded document.

**Value header**:

1. Flags (uvarint).
2. Modification count (uvarint), 1 on insert, incremented by every upsert.
3. Data size (uvarint).
4. xxhash64 of the data (8 bytes, big endian).

References are encoded as {"$ref": collection, "$id": id, "$db": database}
sub-maps; user fields can never produce such a map because '$' is reserved.

# Ids

Ids are opaque strings. Unless the document carries its own "_id", Insert
assigns a time-ordered UUIDv7, so the key order of a collection is its
insertion order and Find returns documents in that order.
*/
package docstore
