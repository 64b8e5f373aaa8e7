package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource []byte

// Validation error codes (E200-E299).
const (
	ErrCodeSyntax  = "E201" // YAML could not be parsed
	ErrCodeSchema  = "E202" // document violates the CUE schema
	ErrCodeDecode  = "E203" // strict decode failed (unknown or mistyped field)
	ErrCodeCatalog = "E204" // cross references or values inconsistent
)

// ValidationError is one problem found in a config document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors collects every problem found in a document.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	switch len(v) {
	case 0:
		return "no errors"
	case 1:
		return v[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", v[0].Error(), len(v)-1)
	}
}

// validateSchema unifies the YAML document with #Config and requires the
// result to be concrete. Returns all errors found (does not fail-fast).
func validateSchema(filename string, data []byte) ValidationErrors {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The schema is embedded; failing to compile it is a programming error.
		panic(fmt.Sprintf("config: compile schema: %v", err))
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fromCUE(ErrCodeSyntax, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fromCUE(ErrCodeSyntax, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fromCUE(ErrCodeSchema, err)
	}
	return nil
}

// fromCUE flattens a CUE error list, keeping the document path and line of each.
func fromCUE(code string, err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Field:   pathString(e.Path()),
			Message: cueMessage(e),
			Code:    code,
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() != "schema.cue" && pos.IsValid() {
				ve.Line = pos.Line()
				break
			}
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Field: "config", Message: err.Error(), Code: code})
	}
	return out
}

func cueMessage(e cueerrors.Error) string {
	format, args := e.Msg()
	return fmt.Sprintf(format, args...)
}

func pathString(path []string) string {
	if len(path) == 0 {
		return "config"
	}
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
