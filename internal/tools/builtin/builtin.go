// Package builtin provides the tools shipped with coda.
package builtin

import (
	"context"

	"coda/internal/tools"
)

// EchoArgs are the arguments of the echo tool.
type EchoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo back,required"`
}

// Echo returns the echo tool entry. It answers with its message argument.
func Echo() tools.Entry {
	return tools.Entry{
		Definition: tools.Definition{
			ID:          "echo",
			Description: "Echo the given message back unchanged.",
			Parameters:  tools.BuildSchema(EchoArgs{}),
			Permission:  tools.Permission{Name: "echo", ReadOnly: true},
		},
		Handler: func(_ context.Context, args map[string]any) (tools.Result, error) {
			msg, ok := args["message"].(string)
			if !ok {
				return tools.Result{}, tools.NewInvalidArgsError("echo", "message must be a string", nil)
			}
			return tools.Success(msg), nil
		},
	}
}

// RegisterBuiltins registers all built-in tools to the given registry.
func RegisterBuiltins(r *tools.Registry) error {
	for _, e := range []tools.Entry{Echo()} {
		if err := r.Register(e); err != nil {
			return err
		}
	}
	return nil
}

// MustRegisterBuiltins registers all built-in tools and panics on error.
func MustRegisterBuiltins(r *tools.Registry) {
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
}
