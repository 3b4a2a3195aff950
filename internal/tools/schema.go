package tools

import (
	"fmt"
	"reflect"
	"strings"
)

// BuildSchema generates a JSON Schema object from a struct using its json
// tags and a jsonschema tag with description=..., required, enum=a|b.
func BuildSchema(v any) map[string]any {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return objectSchema(t)
}

func objectSchema(t reflect.Type) map[string]any {
	props := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag := f.Tag.Get("json"); tag != "" {
			n, _, _ := strings.Cut(tag, ",")
			if n == "-" {
				continue
			}
			if n != "" {
				name = n
			}
		}

		prop := typeSchema(f.Type)
		for _, attr := range strings.Split(f.Tag.Get("jsonschema"), ",") {
			attr = strings.TrimSpace(attr)
			switch {
			case attr == "required":
				required = append(required, name)
			case strings.HasPrefix(attr, "description="):
				prop["description"] = strings.TrimPrefix(attr, "description=")
			case strings.HasPrefix(attr, "enum="):
				var vals []any
				for _, v := range strings.Split(strings.TrimPrefix(attr, "enum="), "|") {
					vals = append(vals, v)
				}
				prop["enum"] = vals
			}
		}
		props[name] = prop
	}

	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func typeSchema(t reflect.Type) map[string]any {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem())}
	case reflect.Struct:
		return objectSchema(t)
	}
	return map[string]any{"type": "object"}
}

// ValidateArgs checks args against the required list and top-level property
// types of an object schema.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	for _, name := range requiredOf(schema) {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for name, v := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		if want != "" && !hasType(v, want) {
			return fmt.Errorf("argument %q must be of type %s", name, want)
		}
		if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 && !inEnum(v, enum) {
			return fmt.Errorf("argument %q must be one of %v", name, enum)
		}
	}
	return nil
}

func requiredOf(schema map[string]any) []string {
	switch r := schema["required"].(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func inEnum(v any, enum []any) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}
