package directors

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"shelfdb/src/codec"
	"shelfdb/src/engine"
	"shelfdb/src/helpers"
	"shelfdb/src/models"
)

// CommandDirector parses one text command and executes it through api.
//
//	CREATE COLLECTION <name> [FROM "<dir>"]
//	DELETE COLLECTION <name>
//	CREATE INDEX <collection> <field.path>
//	DELETE INDEX <collection> <field.path>
//	INSERT INTO <collection> <json-object>
//	SELECT [*] FROM <collection> [WHERE <cond> [AND <cond>]...]
//	UPDATE <collection> SET <json-object> [WHERE ...]
//	DELETE FROM <collection> WHERE ...
//	GET <collection> <id>
//	COUNT <collection>
func CommandDirector(api *API, command string) (*Result, error) {
	command = strings.TrimSpace(command)
	command = strings.TrimSuffix(command, ";") // Remove trailing semicolon if present
	if command == "" {
		return nil, syntaxError("empty command")
	}

	verb, rest := nextWord(command)
	switch strings.ToUpper(verb) {
	case "CREATE":
		return directCreate(api, rest)
	case "DELETE":
		return directDelete(api, rest)
	case "INSERT":
		return directInsert(api, rest)
	case "SELECT":
		return directSelect(api, rest)
	case "UPDATE":
		return directUpdate(api, rest)
	case "GET":
		return directGet(api, rest)
	case "COUNT":
		name, extra := nextWord(rest)
		if name == "" || extra != "" {
			return nil, syntaxError("COUNT usage: 'COUNT <collection>'")
		}
		return api.Count(helpers.StripQuotes(name)).Execute()
	}
	return nil, syntaxError("unknown command %q", verb)
}

func directCreate(api *API, rest string) (*Result, error) {
	kind, rest := nextWord(rest)
	switch strings.ToUpper(kind) {
	case "COLLECTION":
		name, rest := nextWord(rest)
		if name == "" {
			return nil, syntaxError("CREATE COLLECTION requires a name")
		}
		name = helpers.StripQuotes(name)
		if rest == "" {
			return api.CreateCollection(name).Execute()
		}
		kw, dir := nextWord(rest)
		if !strings.EqualFold(kw, "FROM") || dir == "" {
			return nil, syntaxError("CREATE COLLECTION usage: 'FROM \"<dir>\"' after the name")
		}
		return api.CreateCollectionFrom(name, helpers.StripQuotes(dir)).Execute()

	case "INDEX":
		coll, field, err := collectionAndField(rest, "CREATE INDEX")
		if err != nil {
			return nil, err
		}
		return api.CreateIndex(coll, field).Execute()
	}
	return nil, syntaxError("CREATE requires COLLECTION or INDEX")
}

func directDelete(api *API, rest string) (*Result, error) {
	kind, rest := nextWord(rest)
	switch strings.ToUpper(kind) {
	case "COLLECTION":
		name, extra := nextWord(rest)
		if name == "" || extra != "" {
			return nil, syntaxError("DELETE COLLECTION usage: 'DELETE COLLECTION <name>'")
		}
		return api.DeleteCollection(helpers.StripQuotes(name)).Execute()

	case "INDEX":
		coll, field, err := collectionAndField(rest, "DELETE INDEX")
		if err != nil {
			return nil, err
		}
		return api.DeleteIndex(coll, field).Execute()

	case "FROM":
		name, where := nextWord(rest)
		if name == "" {
			return nil, syntaxError("DELETE FROM requires a collection")
		}
		conds, err := parseOptionalWhere(where)
		if err != nil {
			return nil, err
		}
		if len(conds) == 0 {
			return nil, errors.Wrap(engine.ErrInvalidArgument, "DELETE FROM requires a WHERE clause")
		}
		return withConditions(api.Delete(helpers.StripQuotes(name)), conds).Execute()
	}
	return nil, syntaxError("DELETE requires COLLECTION, INDEX or FROM")
}

func directInsert(api *API, rest string) (*Result, error) {
	kw, rest := nextWord(rest)
	if !strings.EqualFold(kw, "INTO") {
		return nil, syntaxError("INSERT usage: 'INSERT INTO <collection> <json>'")
	}
	name, body := nextWord(rest)
	if name == "" || body == "" {
		return nil, syntaxError("INSERT INTO requires a collection and a JSON object")
	}

	doc, extra, err := parseObject(body)
	if err != nil {
		return nil, err
	}
	if extra != "" {
		return nil, syntaxError("unexpected text after document: %q", extra)
	}
	return api.Create(helpers.StripQuotes(name), doc).Execute()
}

func directSelect(api *API, rest string) (*Result, error) {
	kw, rest := nextWord(rest)
	if kw == "*" {
		kw, rest = nextWord(rest)
	}
	if !strings.EqualFold(kw, "FROM") {
		return nil, syntaxError("SELECT usage: 'SELECT FROM <collection>'")
	}
	name, where := nextWord(rest)
	if name == "" {
		return nil, syntaxError("SELECT FROM requires a collection")
	}

	conds, err := parseOptionalWhere(where)
	if err != nil {
		return nil, err
	}
	return withConditions(api.Read(helpers.StripQuotes(name)), conds).Execute()
}

func directUpdate(api *API, rest string) (*Result, error) {
	name, rest := nextWord(rest)
	kw, body := nextWord(rest)
	if name == "" || !strings.EqualFold(kw, "SET") || body == "" {
		return nil, syntaxError("UPDATE usage: 'UPDATE <collection> SET <json> [WHERE ...]'")
	}

	partial, where, err := parseObject(body)
	if err != nil {
		return nil, err
	}
	conds, err := parseOptionalWhere(where)
	if err != nil {
		return nil, err
	}
	return withConditions(api.Update(helpers.StripQuotes(name), partial), conds).Execute()
}

func directGet(api *API, rest string) (*Result, error) {
	name, rest := nextWord(rest)
	idText, extra := nextWord(rest)
	if name == "" || idText == "" || extra != "" {
		return nil, syntaxError("GET usage: 'GET <collection> <id>'")
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(engine.ErrInvalidArgument, "invalid id %q", idText)
	}

	res, err := api.Read(helpers.StripQuotes(name)).And(models.IDField, models.OpEqual, id).Execute()
	if err != nil {
		return nil, err
	}
	if res.Count == 0 {
		return nil, errors.Wrapf(engine.ErrDocumentNotFound, "no document with id %d", id)
	}
	return res, nil
}

func collectionAndField(rest, verb string) (string, models.FieldPath, error) {
	coll, rest := nextWord(rest)
	field, extra := nextWord(rest)
	if coll == "" || field == "" || extra != "" {
		return "", nil, syntaxError("%s usage: '%s <collection> <field.path>'", verb, verb)
	}
	return helpers.StripQuotes(coll), models.ParseFieldPath(helpers.StripQuotes(field)), nil
}

func withConditions(api *API, conds []models.Condition) *API {
	for _, c := range conds {
		api.AndCondition(c)
	}
	return api
}

func parseOptionalWhere(text string) ([]models.Condition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	kw, _ := nextWord(text)
	if !strings.EqualFold(kw, "WHERE") {
		return nil, syntaxError("expected WHERE, found %q", kw)
	}
	return engine.ParseWhereClause(text)
}

// parseObject reads a leading JSON object from text and returns the rest.
func parseObject(text string) (map[string]interface{}, string, error) {
	end, err := objectEnd(text)
	if err != nil {
		return nil, "", err
	}
	v, err := codec.ParseValue(text[:end])
	if err != nil {
		return nil, "", errors.Wrapf(engine.ErrInvalidArgument, "invalid JSON object: %v", err)
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, "", syntaxError("expected a JSON object")
	}
	return obj, strings.TrimSpace(text[end:]), nil
}

// objectEnd returns the index just past the JSON object text starts with.
func objectEnd(text string) (int, error) {
	if !strings.HasPrefix(text, "{") {
		return 0, syntaxError("expected a JSON object")
	}
	depth := 0
	inQuote := false
	escaped := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inQuote {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, syntaxError("unterminated JSON object")
}

// nextWord splits off the first whitespace-delimited word.
func nextWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func syntaxError(format string, args ...interface{}) error {
	return errors.Wrapf(engine.ErrInvalidArgument, format, args...)
}
