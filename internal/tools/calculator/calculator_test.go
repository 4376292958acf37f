package calculator_test

import (
	"context"
	"math"
	"testing"

	"github.com/aretw0/tendril/internal/tools/calculator"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{4, "4"},
		{-7, "-7"},
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{2.0000000000001, "2"},
		{1.9999999999999, "2"},
		{-3.0000000001, "-3"},
		{1e15, "1000000000000000"},
		{0.5, "0.5"},
		{1.0 / 3.0, "0.3333333333"},
		{2.0 / 3.0, "0.6666666667"},
		{-0.1 + -0.2, "-0.3"},
		{123456.789012345, "123456.789"},
		{1e-12 + 0.5, "0.5"},
	}

	for _, tt := range tests {
		if got := calculator.Format(tt.in); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormat_Deterministic(t *testing.T) {
	for _, x := range []float64{math.Pi, 1e21 + 0.5, -2.5e-7} {
		assert.Equal(t, calculator.Format(x), calculator.Format(x))
	}
}

func call(t *testing.T, r *registry.Registry, name string, args map[string]any) string {
	t.Helper()
	tool, ok := r.Lookup(name)
	require.True(t, ok, name)
	out, err := tool.Fn(context.Background(), args)
	require.NoError(t, err)
	return out
}

func TestTools(t *testing.T) {
	r := registry.NewRegistry()
	require.NoError(t, calculator.Register(r))
	assert.Equal(t, []string{"plus", "minus", "multiply", "divide"}, r.Names())

	assert.Equal(t, "4", call(t, r, "plus", map[string]any{"a": 2.0, "b": 2.0}))
	assert.Equal(t, "-1", call(t, r, "minus", map[string]any{"a": 2, "b": 3}))
	assert.Equal(t, "7.5", call(t, r, "multiply", map[string]any{"a": 2.5, "b": 3.0}))
	assert.Equal(t, "0.3333333333", call(t, r, "divide", map[string]any{"a": 1.0, "b": 3.0}))
}

func TestDivide_ByZero(t *testing.T) {
	r := registry.NewRegistry()
	require.NoError(t, calculator.Register(r))

	assert.Equal(t, calculator.DivisionByZero, call(t, r, "divide", map[string]any{"a": 5.0, "b": 0.0}))
	assert.Equal(t, "ERROR: Division by zero", call(t, r, "divide", map[string]any{"a": 5.0, "b": 1e-13}))
}

func TestTools_BadInputIsText(t *testing.T) {
	r := registry.NewRegistry()
	require.NoError(t, calculator.Register(r))

	out := call(t, r, "plus", map[string]any{"a": "two", "b": 2.0})
	assert.Contains(t, out, "ERROR:")

	out = call(t, r, "plus", map[string]any{"a": 1.0, "b": 2.0, "c": 3.0})
	assert.Contains(t, out, "ERROR:")
}

func TestRegister_Twice(t *testing.T) {
	r := registry.NewRegistry()
	require.NoError(t, calculator.Register(r))
	assert.ErrorIs(t, calculator.Register(r), domain.ErrDuplicateTool)
}
