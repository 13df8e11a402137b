package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(setupTestLogger())

	r.Register("thumbnail", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "thumb", nil
	})

	handler, ok := r.Lookup("thumbnail")
	require.True(t, ok)

	value, err := handler(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "thumb", value)
}

func TestRegistryLookupMissing(t *testing.T) {
	r := NewRegistry(setupTestLogger())

	handler, ok := r.Lookup("unregistered")
	assert.False(t, ok)
	assert.Nil(t, handler)
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry(setupTestLogger())

	r.Register("fn", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "first", nil
	})
	r.Register("fn", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "second", nil
	})

	handler, ok := r.Lookup("fn")
	require.True(t, ok)

	value, err := handler(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry(setupTestLogger())
	noop := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) { return nil, nil }

	r.Register("a", noop)
	r.Register("b", noop)

	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
}
