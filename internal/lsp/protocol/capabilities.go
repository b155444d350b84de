package protocol

// Object is a JSON object such as the client capabilities sent in the
// initialize request. Features layer their flags onto the same Object
// in registration order; Ensure and SetDefault only ever fill in
// missing keys, so a later contribution cannot remove an earlier one.
type Object map[string]interface{}

// Ensure returns the child object stored under key, creating it if
// it does not exist. A non-object value under key is left untouched
// and a detached object is returned.
func (o Object) Ensure(key string) Object {
	switch v := o[key].(type) {
	case Object:
		return v
	case map[string]interface{}:
		return Object(v)
	case nil:
		child := Object{}
		o[key] = child
		return child
	}
	return Object{}
}

// EnsurePath calls Ensure for each key in turn.
func (o Object) EnsurePath(keys ...string) Object {
	cur := o
	for _, k := range keys {
		cur = cur.Ensure(k)
	}
	return cur
}

// SetDefault stores value under key unless key already holds a value.
// It reports whether value was stored.
func (o Object) SetDefault(key string, value interface{}) bool {
	if _, ok := o[key]; ok {
		return false
	}
	o[key] = value
	return true
}

// Lookup follows keys through nested objects and returns the value
// found at the end.
func (o Object) Lookup(keys ...string) (interface{}, bool) {
	var cur interface{} = o
	for _, k := range keys {
		var m map[string]interface{}
		switch v := cur.(type) {
		case Object:
			m = v
		case map[string]interface{}:
			m = v
		default:
			return nil, false
		}
		next, ok := m[k]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
