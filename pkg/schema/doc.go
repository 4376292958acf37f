// Package schema describes and validates tool arguments.
//
// A Schema is an ordered list of parameters, each with a name, a semantic type and a
// description. The same Schema validates decoded arguments before a tool runs and is
// exported as a JSON schema object for the language-model backend:
//
//	args := schema.Schema{
//	    schema.Param("a", schema.Float(), "First operand"),
//	    schema.Param("b", schema.Float(), "Second operand"),
//	}
//
//	if err := schema.Validate(args, map[string]any{"a": 2.0, "b": "x"}); err != nil {
//	    // err is an *ArgumentsError: "b: expected float, got string"
//	}
//
//	params := args.JSONSchema() // {"type":"object","properties":{...},"required":["a","b"]}
package schema
