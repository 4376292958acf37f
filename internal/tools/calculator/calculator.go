// Package calculator provides the arithmetic tools of the calculator agent.
package calculator

import (
	"context"
	"fmt"
	"math"

	"github.com/aretw0/tendril/pkg/registry"
	"github.com/aretw0/tendril/pkg/schema"
	"github.com/mitchellh/mapstructure"
)

// SystemPrompt instructs the model to delegate arithmetic to the tools.
const SystemPrompt = "You are a calculator. Always use the provided tools for arithmetic."

// DivisionByZero is returned as the tool output when the divisor is zero.
const DivisionByZero = "ERROR: Division by zero"

// zeroTolerance treats divisors this close to zero as zero.
const zeroTolerance = 1e-12

// operands are the arguments shared by every binary tool.
type operands struct {
	A float64 `mapstructure:"a"`
	B float64 `mapstructure:"b"`
}

var binary = schema.Schema{
	schema.Param("a", schema.Float(), "First number"),
	schema.Param("b", schema.Float(), "Second number"),
}

// Tools returns the four arithmetic tools.
func Tools() []registry.Tool {
	return []registry.Tool{
		op("plus", "Adds a and b", func(a, b float64) string { return Format(a + b) }),
		op("minus", "Subtracts b from a", func(a, b float64) string { return Format(a - b) }),
		op("multiply", "Multiplies a and b", func(a, b float64) string { return Format(a * b) }),
		op("divide", "Divides a by b", divide),
	}
}

// Register adds every calculator tool to r.
func Register(r *registry.Registry) error {
	for _, t := range Tools() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func divide(a, b float64) string {
	if math.Abs(b) < zeroTolerance {
		return DivisionByZero
	}
	return Format(a / b)
}

func op(name, description string, fn func(a, b float64) string) registry.Tool {
	return registry.Tool{
		Name:        name,
		Description: description,
		Params:      binary,
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			var in operands
			if err := decode(args, &in); err != nil {
				return fmt.Sprintf("ERROR: %v", err), nil
			}
			return fn(in.A, in.B), nil
		},
	}
}

func decode(args map[string]any, out *operands) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}
