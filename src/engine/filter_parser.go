package engine

import (
	"strings"

	"shelfdb/src/codec"
	"shelfdb/src/models"
)

// tokenizeWhereClause breaks a WHERE clause into tokens while preserving
// quoted strings and bracketed JSON literals.
func tokenizeWhereClause(whereClause string) ([]string, error) {
	var tokens []string
	var currentToken strings.Builder
	inQuote := false
	escaped := false
	depth := 0

	flush := func() {
		if currentToken.Len() > 0 {
			tokens = append(tokens, currentToken.String())
			currentToken.Reset()
		}
	}

	for i := 0; i < len(whereClause); i++ {
		ch := whereClause[i]

		if inQuote {
			currentToken.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inQuote = false
			}
			continue
		}

		switch ch {
		case '"':
			inQuote = true
			currentToken.WriteByte(ch)
			continue
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth < 0 {
				return nil, errorf(KindInvalidArgument, "", "unbalanced %q in where clause", string(ch))
			}
		}

		// Operators split tokens even without surrounding spaces
		if depth == 0 {
			if op := operatorAt(whereClause, i); op != "" {
				flush()
				tokens = append(tokens, op)
				i += len(op) - 1
				continue
			}
		}

		if depth == 0 && (ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r') {
			flush()
			continue
		}

		currentToken.WriteByte(ch)
	}

	if inQuote {
		return nil, errorf(KindInvalidArgument, "", "unterminated string in where clause")
	}
	if depth != 0 {
		return nil, errorf(KindInvalidArgument, "", "unbalanced brackets in where clause")
	}
	flush()
	return tokens, nil
}

// operatorAt returns the comparison operator starting at s[i], if any.
func operatorAt(s string, i int) string {
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if strings.HasPrefix(s[i:], op) {
			return op
		}
	}
	return ""
}

// ParseWhereClause parses "a.b == 1 AND c > 2" into a conjunction of
// conditions. Literals are JSON; a bare word that is not valid JSON is read
// as a string.
func ParseWhereClause(whereClause string) ([]models.Condition, error) {
	whereClause = strings.TrimSpace(whereClause)
	if len(whereClause) >= 5 && strings.EqualFold(whereClause[:5], "WHERE") {
		whereClause = strings.TrimSpace(whereClause[5:])
	}
	if whereClause == "" {
		return nil, nil
	}

	tokens, err := tokenizeWhereClause(whereClause)
	if err != nil {
		return nil, err
	}

	var conds []models.Condition
	pos := 0
	for pos < len(tokens) {
		if pos+3 > len(tokens) {
			return nil, errorf(KindInvalidArgument, "", "incomplete condition %v", tokens[pos:])
		}
		field, op, raw := tokens[pos], models.Operator(tokens[pos+1]), tokens[pos+2]
		if !op.Valid() {
			return nil, errorf(KindInvalidArgument, "", "unsupported operator %q", tokens[pos+1])
		}
		if strings.EqualFold(field, "OR") || strings.EqualFold(raw, "OR") {
			return nil, errorf(KindInvalidArgument, "", "OR is not supported; conditions are joined with AND")
		}

		conds = append(conds, models.NewCondition(models.ParseFieldPath(field), op, parseLiteral(raw)))
		pos += 3

		if pos < len(tokens) {
			if !strings.EqualFold(tokens[pos], "AND") {
				return nil, errorf(KindInvalidArgument, "", "expected AND, found %q", tokens[pos])
			}
			pos++
			if pos == len(tokens) {
				return nil, errorf(KindInvalidArgument, "", "dangling AND in where clause")
			}
		}
	}
	return conds, nil
}

// parseLiteral reads a JSON literal, falling back to the raw text.
func parseLiteral(raw string) interface{} {
	if v, err := codec.ParseValue(raw); err == nil {
		return v
	}
	if strings.HasPrefix(raw, "'") {
		return strings.Trim(raw, "'")
	}
	return raw
}
