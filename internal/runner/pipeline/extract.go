package pipeline

import (
	"fmt"

	"coda/internal/tools"
)

// extracted holds argument values grouped by pattern kind.
type extracted struct {
	all      []string
	paths    []string
	commands []string
	globs    []string
}

func extract(def tools.Definition, args map[string]any) extracted {
	var ex extracted
	for _, p := range def.Permission.Patterns {
		for _, v := range stringValues(args[p.Arg]) {
			ex.all = append(ex.all, v)
			switch p.Kind {
			case tools.KindPath:
				ex.paths = append(ex.paths, v)
			case tools.KindCommand:
				ex.commands = append(ex.commands, v)
			case tools.KindGlob:
				ex.globs = append(ex.globs, v)
			}
		}
	}
	return ex
}

func stringValues(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []string:
		return x
	case []any:
		var out []string
		for _, e := range x {
			out = append(out, stringValues(e)...)
		}
		return out
	default:
		return []string{fmt.Sprint(x)}
	}
}

// expandHandles replaces handle values in path arguments.
func expandHandles(def tools.Definition, args map[string]any, h tools.HandleResolver) {
	if h == nil {
		return
	}
	for _, p := range def.Permission.Patterns {
		if p.Kind != tools.KindPath {
			continue
		}
		switch v := args[p.Arg].(type) {
		case string:
			if concrete, ok := h.Expand(v); ok {
				args[p.Arg] = concrete
			}
		case []any:
			out := make([]any, len(v))
			for i, e := range v {
				out[i] = e
				if s, ok := e.(string); ok {
					if concrete, ok := h.Expand(s); ok {
						out[i] = concrete
					}
				}
			}
			args[p.Arg] = out
		}
	}
}
