package audit

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"
	"unicode/utf8"
)

// UnserializableParameters replaces a parameter set that could not be sanitized.
const UnserializableParameters = "<unserializable parameters>"

const maxDepth = 8

// SanitizeArgs converts bound statement arguments into a JSON friendly tree.
// Positional arguments become a list; if every argument is named the result
// is a name keyed map.
func SanitizeArgs(args []driver.NamedValue) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = UnserializableParameters
		}
	}()

	if len(args) == 0 {
		return []any{}
	}
	named := true
	for _, a := range args {
		if a.Name == "" {
			named = false
			break
		}
	}
	if named {
		m := make(map[string]any, len(args))
		for _, a := range args {
			m[a.Name] = Sanitize(a.Value)
		}
		return m
	}
	list := make([]any, len(args))
	for i, a := range args {
		list[i] = Sanitize(a.Value)
	}
	return list
}

// Sanitize converts v into a value that encodes as JSON. Values with no
// faithful representation become "<non-serializable:TYPE>".
func Sanitize(v any) any {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if depth > maxDepth {
		return nonSerializable(v)
	}
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return fmt.Sprintf("<bytes:%d>", len(x))
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case driver.NamedValue:
		return sanitize(x.Value, depth+1)
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nonSerializable(v)
		}
		return sanitize(dv, depth+1)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return sanitize(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			out[i] = sanitize(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value().Interface(), depth+1)
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return nonSerializable(v)
}

func nonSerializable(v any) string {
	return fmt.Sprintf("<non-serializable:%T>", v)
}
