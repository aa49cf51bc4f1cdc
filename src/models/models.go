package models

import (
	"strings"
	"time"
)

// IDField is the reserved key holding a document's identifier.
const IDField = "id"

// Document is a stored JSON object. Every stored document carries a scalar
// "id" assigned by the collection at creation time.
type Document map[string]interface{}

// ID returns the document's identifier if it holds a non-negative integer.
func (d Document) ID() (uint64, bool) {
	v, ok := d[IDField]
	if !ok {
		return 0, false
	}
	return AsID(v)
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(d)).(map[string]interface{})
}

// FieldPath is an ordered list of nested keys, e.g. ["imdb", "rating"].
type FieldPath []string

// ParseFieldPath splits a dotted path ("imdb.rating") into its keys.
func ParseFieldPath(s string) FieldPath {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return FieldPath(strings.Split(s, "."))
}

func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// Equal reports whether both paths name the same nested field.
func (p FieldPath) Equal(other FieldPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// IsID reports whether the path addresses the reserved id field.
func (p FieldPath) IsID() bool {
	return len(p) == 1 && p[0] == IDField
}

// Operator is one of the supported comparison operators.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreaterThan  Operator = ">"
	OpLessThan     Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Ordering reports whether o requires numeric operands.
func (o Operator) Ordering() bool {
	return o == OpGreaterThan || o == OpLessThan || o == OpGreaterEqual || o == OpLessEqual
}

// Condition is a (field path, operator, literal) triple. A query is the
// conjunction of its conditions.
type Condition struct {
	Field    FieldPath
	Operator Operator
	Value    interface{}
}

// NewCondition builds a condition with its literal normalised to the
// in-memory value representation.
func NewCondition(field FieldPath, op Operator, value interface{}) Condition {
	return Condition{Field: field, Operator: op, Value: Normalize(value)}
}

// Where is shorthand for NewCondition with a dotted field path.
func Where(field string, op Operator, value interface{}) Condition {
	return NewCondition(ParseFieldPath(field), op, value)
}

// Valid reports whether the condition names a field and a supported operator.
func (c Condition) Valid() bool {
	return len(c.Field) > 0 && c.Operator.Valid()
}

// CollectionHeader is the content of <collection>/header.json.
type CollectionHeader struct {
	NumberOfDocuments uint64 `json:"number_of_documents"`
	// NextID is absent in headers written before ids were decoupled from
	// the live count.
	NextID *uint64 `json:"next_id,omitempty"`
}

// DatabaseHeader is the content of <db>/header.json.
type DatabaseHeader struct {
	Collections []string `json:"collections"`
	Format      string   `json:"format,omitempty"`
}

// IndexReference describes a hash index on disk (indexes/<name>/meta.json).
type IndexReference struct {
	IndexName  string    `json:"index_name"`
	Field      FieldPath `json:"field"`
	IndexType  string    `json:"index_type"`
	CreateTime time.Time `json:"create_time"`
}
