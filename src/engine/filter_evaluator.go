package engine

import (
	"shelfdb/src/models"
)

// Compare applies op to a stored value and a literal. When actual is an
// array the comparison holds if it holds for any element; == also accepts an
// array that equals the literal as a whole. Ordering operators are false
// unless both operands are numbers.
func Compare(actual interface{}, op models.Operator, literal interface{}) bool {
	if arr, ok := actual.([]interface{}); ok {
		if op == models.OpEqual && models.Equal(actual, literal) {
			return true
		}
		for _, elem := range arr {
			if compareScalar(elem, op, literal) {
				return true
			}
		}
		return false
	}
	return compareScalar(actual, op, literal)
}

func compareScalar(actual interface{}, op models.Operator, literal interface{}) bool {
	switch op {
	case models.OpEqual:
		return models.Equal(actual, literal)
	case models.OpNotEqual:
		return !models.Equal(actual, literal)
	}

	a, ok := models.AsFloat(actual)
	if !ok {
		return false
	}
	b, ok := models.AsFloat(literal)
	if !ok {
		return false
	}

	switch op {
	case models.OpGreaterThan:
		return a > b
	case models.OpLessThan:
		return a < b
	case models.OpGreaterEqual:
		return a >= b
	case models.OpLessEqual:
		return a <= b
	}
	return false
}

// Matches reports whether doc satisfies cond. A field that cannot be
// resolved never satisfies a condition, whatever the operator.
func Matches(doc models.Document, cond models.Condition) bool {
	actual, ok := doc.Lookup(cond.Field)
	if !ok {
		return false
	}
	return Compare(actual, cond.Operator, cond.Value)
}

// MatchesAll reports whether doc satisfies every condition. An empty
// conjunction matches everything.
func MatchesAll(doc models.Document, conds []models.Condition) bool {
	for _, c := range conds {
		if !Matches(doc, c) {
			return false
		}
	}
	return true
}
