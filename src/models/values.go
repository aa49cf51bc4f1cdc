package models

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind tags the variant held by a normalised document value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "other"
}

// KindOf classifies a normalised value.
func KindOf(v interface{}) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int64, float64:
		return KindNumber
	case string:
		return KindString
	case []interface{}:
		return KindArray
	case map[string]interface{}:
		return KindObject
	}
	return KindOther
}

// Normalize converts a decoded or caller-supplied value into the in-memory
// representation used by the engine: nil, bool, int64, float64, string,
// []interface{} and map[string]interface{}. Values of other types are
// returned unchanged.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string, int64, float64:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	case Document:
		return normalizeMap(t)
	case map[string]interface{}:
		return normalizeMap(t)
	case bson.M:
		return normalizeMap(t)
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case []interface{}:
		return normalizeSlice(t)
	case primitive.A:
		return normalizeSlice(t)
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return v
}

func normalizeUint(u uint64) interface{} {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

func normalizeSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = Normalize(v)
	}
	return out
}

// NormalizeDocument normalises every value of a document.
func NormalizeDocument(d map[string]interface{}) Document {
	return Document(normalizeMap(d))
}

// AsFloat returns the numeric value of v.
func AsFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// AsID interprets v as a document identifier.
func AsID(v interface{}) (uint64, bool) {
	switch t := Normalize(v).(type) {
	case int64:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case float64:
		if t < 0 || t != math.Trunc(t) || t > math.MaxInt64 {
			return 0, false
		}
		return uint64(t), true
	}
	return 0, false
}

// Equal is structural equality of two normalised values. Numbers compare by
// value, so 2020 equals 2020.0.
func Equal(a, b interface{}) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindNull:
		return true
	case KindBool:
		return a.(bool) == b.(bool)
	case KindNumber:
		return numbersEqual(a, b)
	case KindString:
		return a.(string) == b.(string)
	case KindArray:
		sa, sb := a.([]interface{}), b.([]interface{})
		if len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !Equal(sa[i], sb[i]) {
				return false
			}
		}
		return true
	case KindObject:
		ma, mb := a.(map[string]interface{}), b.(map[string]interface{})
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// numbersEqual compares integers and floats exactly. An integer equals a
// float only when the float is integral and converts to that same integer,
// which is also when Canonical gives both one form.
func numbersEqual(a, b interface{}) bool {
	ia, aInt := a.(int64)
	ib, bInt := b.(int64)
	switch {
	case aInt && bInt:
		return ia == ib
	case aInt:
		return intEqualsFloat(ia, b)
	case bInt:
		return intEqualsFloat(ib, a)
	}
	fa, _ := AsFloat(a)
	fb, _ := AsFloat(b)
	return fa == fb
}

func intEqualsFloat(i int64, v interface{}) bool {
	f, ok := AsFloat(v)
	if !ok || !fitsInt64(f) {
		return false
	}
	return int64(f) == i
}

// fitsInt64 reports whether f is integral and exactly representable as int64.
func fitsInt64(f float64) bool {
	return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64
}

// Canonical rewrites integral floats as integers so that values which
// compare equal also serialise identically.
func Canonical(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		if fitsInt64(t) {
			return int64(t)
		}
		return t
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Canonical(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Canonical(e)
		}
		return out
	}
	return v
}

// FormatID renders an id the way it is hashed for shard placement.
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
