package docstore

import (
	"fmt"
)

// IDField is the distinguished identity field of every stored document.
const IDField = "_id"

// Ref addresses one stored document.
type Ref struct {
	Database   string
	Collection string
	ID         string
}

func (r Ref) IsZero() bool {
	return r == Ref{}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s.%s/%s", r.Database, r.Collection, r.ID)
}

// Document is one stored record.
type Document map[string]any

// ID returns the document's identity field, or "" if it has none.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Clone returns a deep copy of d. Leaves are immutable and are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case Document:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), v...)
	default:
		return v
	}
}

// Filter selects documents by equality of top-level fields. An empty filter
// matches everything.
type Filter map[string]any

func (f Filter) Match(doc Document) bool {
	for k, want := range f {
		got, ok := doc[k]
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if !Equal(got, want) {
			return false
		}
	}
	return true
}

// onlyID returns the id when the filter selects exactly one document by id.
func (f Filter) onlyID() (string, bool) {
	if len(f) != 1 {
		return "", false
	}
	id, ok := f[IDField].(string)
	return id, ok
}
