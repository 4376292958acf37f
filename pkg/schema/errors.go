package schema

import (
	"errors"
	"strings"
)

// FieldError is a problem with one argument.
type FieldError struct {
	Param  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Param + ": " + e.Reason
}

// ArgumentsError lists every problem found in one set of arguments, in parameter
// order. Error renders them on a single line so the text can be handed to a model.
type ArgumentsError struct {
	Fields []*FieldError
}

func (e *ArgumentsError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ArgumentsError) Unwrap() []error {
	errs := make([]error, len(e.Fields))
	for i, f := range e.Fields {
		errs[i] = f
	}
	return errs
}

// FieldErrors returns the per-argument problems carried by err, or nil.
func FieldErrors(err error) []*FieldError {
	var ae *ArgumentsError
	if errors.As(err, &ae) {
		return ae.Fields
	}
	return nil
}

// Params returns the names of the failing arguments carried by err, or nil.
func Params(err error) []string {
	fields := FieldErrors(err)
	if fields == nil {
		return nil
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Param
	}
	return names
}
