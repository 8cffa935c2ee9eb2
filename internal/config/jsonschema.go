package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var documentSchema []byte

const schemaURL = "vuramp.schema.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(documentSchema)); err != nil {
			compileErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("invalid schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// SchemaErrors is the list of schema violations found in a document.
type SchemaErrors []error

func (se SchemaErrors) Error() string {
	parts := make([]string, 0, len(se))
	for _, err := range se {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// ValidateDocument checks a decoded document against the embedded JSON
// Schema. The document may come from YAML or JSON; it is normalized through
// JSON first so both formats are checked identically.
func ValidateDocument(doc interface{}) error {
	s, err := schema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("document is not representable as JSON: %w", err)
	}
	var normalized interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&normalized); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := s.Validate(normalized); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return leafErrors(verr)
		}
		return err
	}
	return nil
}

// leafErrors flattens a validation error tree into its most specific causes.
func leafErrors(err *jsonschema.ValidationError) SchemaErrors {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return SchemaErrors{fmt.Errorf("%s: %s", loc, err.Message)}
	}

	var out SchemaErrors
	for _, cause := range err.Causes {
		out = append(out, leafErrors(cause)...)
	}
	return out
}
