package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coda/internal/tools"
)

func TestEcho(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	res, err := r.Execute(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Text())

	_, err = r.Execute(context.Background(), "echo", map[string]any{"message": 3.0})
	assert.ErrorIs(t, err, tools.ErrInvalidArgs)
}

func TestEchoSchema(t *testing.T) {
	def := Echo().Definition
	assert.True(t, def.Permission.ReadOnly)
	assert.Equal(t, []string{"message"}, def.Parameters["required"])
	assert.NoError(t, tools.ValidateArgs(def.Parameters, map[string]any{"message": "x"}))
	assert.Error(t, tools.ValidateArgs(def.Parameters, map[string]any{}))
}

func TestRegisterTwice(t *testing.T) {
	r := tools.NewRegistry()
	MustRegisterBuiltins(r)
	assert.ErrorIs(t, RegisterBuiltins(r), tools.ErrToolAlreadyExists)
}
