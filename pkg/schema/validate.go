package schema

// Parameter describes one named tool argument.
type Parameter struct {
	Name        string
	Type        Type
	Description string
	Optional    bool
}

// Param is shorthand for a required parameter.
func Param(name string, typ Type, description string) Parameter {
	return Parameter{Name: name, Type: typ, Description: description}
}

// OptionalParam is shorthand for a parameter that may be omitted.
func OptionalParam(name string, typ Type, description string) Parameter {
	return Parameter{Name: name, Type: typ, Description: description, Optional: true}
}

// Schema is the ordered parameter list of a tool.
type Schema []Parameter

// Lookup finds a parameter by name.
func (s Schema) Lookup(name string) (Parameter, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Validate checks if data conforms to the schema.
// Returns an *ArgumentsError with all failures found, in parameter order.
// Arguments not declared by the schema are rejected after the declared ones.
func Validate(s Schema, data map[string]any) error {
	var errs []*FieldError

	for _, p := range s {
		value, exists := data[p.Name]
		if !exists || value == nil {
			if !p.Optional {
				errs = append(errs, &FieldError{Param: p.Name, Reason: "required"})
			}
			continue
		}
		if err := p.Type.Validate(value); err != nil {
			errs = append(errs, &FieldError{Param: p.Name, Reason: err.Error()})
		}
	}

	for _, key := range sortedKeys(data) {
		if _, ok := s.Lookup(key); !ok {
			errs = append(errs, &FieldError{Param: key, Reason: "unexpected argument"})
		}
	}

	if len(errs) > 0 {
		return &ArgumentsError{Fields: errs}
	}
	return nil
}
