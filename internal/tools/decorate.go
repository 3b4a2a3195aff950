package tools

import (
	"context"
	"encoding/json"
)

// Decorator rewrites a successful tool result before it is shown to the model.
type Decorator func(ctx context.Context, def Definition, r Result) Result

// Decorate applies decs in order. Failed results pass through untouched.
func Decorate(ctx context.Context, def Definition, r Result, decs ...Decorator) Result {
	if !r.Success {
		return r
	}
	for _, d := range decs {
		r = d(ctx, def, r)
	}
	return r
}

// HandleResolver maps short-lived handles (e.g. "F3") to concrete locations
// and back.
type HandleResolver interface {
	// Expand returns the concrete value behind a handle.
	Expand(handle string) (string, bool)
	// Substitute replaces known concrete values in text with their handles.
	Substitute(text string) string
}

// textDecorator lifts a string transform into a Decorator. Structured data is
// encoded first and only replaced when the transform changed it.
func textDecorator(fn func(string) string) Decorator {
	return func(_ context.Context, _ Definition, r Result) Result {
		switch d := r.Data.(type) {
		case nil:
			return r
		case string:
			r.Data = fn(d)
			return r
		default:
			raw, err := json.Marshal(d)
			if err != nil {
				return r
			}
			if out := fn(string(raw)); out != string(raw) {
				r.Data = out
			}
			return r
		}
	}
}

// ScrubDecorator redacts credentials from result data.
func ScrubDecorator(custom ...CompiledScrubRule) Decorator {
	return textDecorator(func(s string) string {
		return ScrubCredentials(s, custom...)
	})
}

// TruncateDecorator bounds result data to maxBytes.
func TruncateDecorator(maxBytes int) Decorator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResultBytes
	}
	return textDecorator(func(s string) string {
		return TruncateOutput(s, maxBytes)
	})
}

// HandleDecorator swaps raw paths in result data for stable handles.
func HandleDecorator(h HandleResolver) Decorator {
	return textDecorator(h.Substitute)
}
