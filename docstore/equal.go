package docstore

import (
	"bytes"
	"time"
)

// Equal reports whether two document values are the same: numbers compare by
// value, times by instant, byte slices by content, maps and lists deeply.
func Equal(a, b any) bool {
	if an, ok := number(a); ok {
		bn, ok := number(b)
		return ok && an.equal(bn)
	}
	switch a := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && a == bv
	case string:
		bv, ok := b.(string)
		return ok && a == bv
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(a, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && a.Equal(bv)
	case Ref:
		bv, ok := b.(Ref)
		return ok && a == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(a) != len(bv) {
			return false
		}
		for i := range a {
			if !Equal(a[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bm, ok := asMap(b)
		return ok && equalMaps(a, bm, "")
	case Document:
		bm, ok := asMap(b)
		return ok && equalMaps(a, bm, "")
	default:
		return a == b
	}
}

// EqualExcept compares two documents ignoring the given top-level field.
func EqualExcept(a, b Document, ignored string) bool {
	return equalMaps(a, b, ignored)
}

func equalMaps(a, b map[string]any, ignored string) bool {
	na, nb := len(a), len(b)
	if ignored != "" {
		if _, ok := a[ignored]; ok {
			na--
		}
		if _, ok := b[ignored]; ok {
			nb--
		}
	}
	if na != nb {
		return false
	}
	for k, av := range a {
		if k == ignored {
			continue
		}
		bv, ok := b[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

func asMap(v any) (map[string]any, bool) {
	switch v := v.(type) {
	case map[string]any:
		return v, true
	case Document:
		return v, true
	default:
		return nil, false
	}
}

// numval holds any numeric kind; integers compare exactly, everything else
// as float64.
type numval struct {
	i     int64
	f     float64
	isInt bool
}

func number(v any) (numval, bool) {
	switch v := v.(type) {
	case int:
		return numval{i: int64(v), isInt: true}, true
	case int8:
		return numval{i: int64(v), isInt: true}, true
	case int16:
		return numval{i: int64(v), isInt: true}, true
	case int32:
		return numval{i: int64(v), isInt: true}, true
	case int64:
		return numval{i: v, isInt: true}, true
	case uint8:
		return numval{i: int64(v), isInt: true}, true
	case uint16:
		return numval{i: int64(v), isInt: true}, true
	case uint32:
		return numval{i: int64(v), isInt: true}, true
	case uint:
		if uint64(v) > maxInt64 {
			return numval{f: float64(v)}, true
		}
		return numval{i: int64(v), isInt: true}, true
	case uint64:
		if v > maxInt64 {
			return numval{f: float64(v)}, true
		}
		return numval{i: int64(v), isInt: true}, true
	case float32:
		return numval{f: float64(v)}, true
	case float64:
		return numval{f: v}, true
	default:
		return numval{}, false
	}
}

func (n numval) equal(o numval) bool {
	if n.isInt && o.isInt {
		return n.i == o.i
	}
	return n.float() == o.float()
}

func (n numval) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}
