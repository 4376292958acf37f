package schema

import (
	"encoding/json"
	"fmt"
	"math"
)

// Type defines the contract for argument validation.
type Type interface {
	// Name returns the human-readable name of the type (e.g., "string", "float").
	Name() string
	// JSONType returns the JSON schema type keyword.
	JSONType() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

// StringType validates string values.
type StringType struct{}

func (t *StringType) Name() string     { return "string" }
func (t *StringType) JSONType() string { return "string" }

func (t *StringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

// IntType validates integer values.
type IntType struct{}

func (t *IntType) Name() string     { return "int" }
func (t *IntType) JSONType() string { return "integer" }

func (t *IntType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return nil
	case float64:
		// JSON decoding yields float64 for every number.
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return nil
		}
		return fmt.Errorf("expected int, got float (not a whole number)")
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return fmt.Errorf("expected int, got %q", v.String())
		}
		return nil
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

// FloatType validates floating-point values. Integers are accepted.
type FloatType struct{}

func (t *FloatType) Name() string     { return "float" }
func (t *FloatType) JSONType() string { return "number" }

func (t *FloatType) Validate(value any) error {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) {
			return fmt.Errorf("expected float, got NaN")
		}
		return nil
	case float32, int, int8, int16, int32, int64:
		return nil
	case json.Number:
		if _, err := v.Float64(); err != nil {
			return fmt.Errorf("expected float, got %q", v.String())
		}
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

// String creates a string type validator.
func String() Type { return &StringType{} }

// Int creates an integer type validator.
func Int() Type { return &IntType{} }

// Float creates a float type validator.
func Float() Type { return &FloatType{} }
