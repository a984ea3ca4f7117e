package docstore

import (
	"bytes"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	maxInt64 = uint64(math.MaxInt64)

	refKey   = "$ref"
	refIDKey = "$id"
	refDBKey = "$db"
)

// ValidFieldName reports whether name can be used as a document field.
func ValidFieldName(name string) bool {
	return !strings.ContainsAny(name, ".$\x00")
}

func encodeDocument(doc Document) ([]byte, error) {
	wire, err := toWireMap(doc, "")
	if err != nil {
		return nil, err
	}

	var bb bytesBuilder
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err = enc.Encode(wire)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return bb.Buf, nil
}

func decodeDocument(buf []byte) (Document, error) {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	m, err := dec.DecodeMap()
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(buf, 0, err, "failed to decode msgpack document")
	}
	if m == nil {
		return Document{}, nil
	}
	return Document(fromWireMap(m)), nil
}

func toWireMap(m map[string]any, path string) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !ValidFieldName(k) {
			return nil, &FieldNameError{Field: joinPath(path, k)}
		}
		w, err := toWire(v, joinPath(path, k))
		if err != nil {
			return nil, err
		}
		out[k] = w
	}
	return out, nil
}

func toWire(v any, path string) (any, error) {
	switch v := v.(type) {
	case nil, bool, int64, float64, []byte:
		return v, nil
	case string:
		if !utf8.ValidString(v) {
			return nil, &ValueError{Field: path, Value: v}
		}
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > maxInt64 {
			return nil, &OverflowError{Field: path, Value: uint64(v)}
		}
		return int64(v), nil
	case uint64:
		if v > maxInt64 {
			return nil, &OverflowError{Field: path, Value: v}
		}
		return int64(v), nil
	case float32:
		return float64(v), nil
	case time.Time:
		return v.UTC(), nil
	case Ref:
		return map[string]any{refKey: v.Collection, refIDKey: v.ID, refDBKey: v.Database}, nil
	case *Ref:
		if v == nil {
			return nil, nil
		}
		return toWire(*v, path)
	case Document:
		return toWireMap(v, path)
	case map[string]any:
		return toWireMap(v, path)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			w, err := toWire(e, path)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	default:
		return nil, &ValueError{Field: path, Value: v}
	}
}

func fromWireMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = fromWire(v)
	}
	return m
}

func fromWire(v any) any {
	switch v := v.(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	case time.Time:
		return v.UTC()
	case map[string]any:
		if ref, ok := refFromWire(v); ok {
			return ref
		}
		return fromWireMap(v)
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			if ks, ok := k.(string); ok {
				m[ks] = e
			}
		}
		return fromWire(m)
	case []any:
		for i, e := range v {
			v[i] = fromWire(e)
		}
		return v
	default:
		return v
	}
}

func refFromWire(m map[string]any) (Ref, bool) {
	if len(m) != 3 {
		return Ref{}, false
	}
	coll, ok1 := m[refKey].(string)
	id, ok2 := m[refIDKey].(string)
	db, ok3 := m[refDBKey].(string)
	if !ok1 || !ok2 || !ok3 {
		return Ref{}, false
	}
	return Ref{Database: db, Collection: coll, ID: id}, true
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
