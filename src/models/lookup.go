package models

// Lookup descends through nested objects following path. The second result
// is false when any key along the way is missing or a non-object is reached
// before the path ends; absence is a value, not an error.
func (d Document) Lookup(path FieldPath) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}
	var current interface{} = map[string]interface{}(d)
	for _, key := range path {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Has reports whether the field exists and holds a non-null value.
func (d Document) Has(key string) bool {
	v, ok := d[key]
	return ok && v != nil
}
