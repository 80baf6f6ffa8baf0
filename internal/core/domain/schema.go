package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const extractionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "diagnosis": {"type": ["object", "null"]},
    "staging": {
      "type": ["object", "null"],
      "properties": {
        "t_category": {"type": "string"},
        "n_category": {"type": "string"},
        "m_category": {"type": "string"}
      }
    },
    "treatment": {
      "type": ["object", "null"],
      "properties": {
        "cycles": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["cycle_number"],
            "properties": {
              "cycle_number": {"type": "integer", "minimum": 1},
              "toxicity_grade": {"type": ["integer", "null"], "minimum": 1, "maximum": 5}
            }
          }
        }
      }
    },
    "medications": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["generic_name"],
        "properties": {"generic_name": {"type": "string", "minLength": 1}}
      }
    },
    "labs": {
      "type": ["array", "null"],
      "items": {"type": "object", "required": ["name"]}
    },
    "findings": {"type": ["array", "null"], "items": {"type": "string"}},
    "summary": {"type": ["string", "null"]}
  }
}`

const timelineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "date": {"type": "string"},
      "type": {"type": "string"},
      "title": {"type": "string"},
      "description": {"type": "string"}
    }
  }
}`

var (
	schemasOnce      sync.Once
	extractionSchema *jsonschema.Schema
	timelineSchema   *jsonschema.Schema
	schemaErr        error
)

func compileSchemas() {
	compile := func(name, src string) *jsonschema.Schema {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", name, err)
			return nil
		}
		s, err := compiler.Compile(name)
		if err != nil {
			schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
			return nil
		}
		return s
	}
	extractionSchema = compile("extraction.json", extractionSchemaJSON)
	timelineSchema = compile("timeline.json", timelineSchemaJSON)
}

// ValidateExtraction checks a parsed extraction payload and returns the violations.
// An empty result means the payload conforms.
func ValidateExtraction(data []byte) []string {
	return validateAgainst(func() *jsonschema.Schema { return extractionSchema }, data)
}

// ValidateTimeline checks a timeline array and returns the violations.
func ValidateTimeline(data []byte) []string {
	return validateAgainst(func() *jsonschema.Schema { return timelineSchema }, data)
}

func validateAgainst(pick func() *jsonschema.Schema, data []byte) []string {
	schemasOnce.Do(compileSchemas)
	if schemaErr != nil {
		return []string{schemaErr.Error()}
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return []string{fmt.Sprintf("unmarshal: %v", err)}
	}
	if err := pick().Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return flattenValidation(ve)
		}
		return []string{err.Error()}
	}
	return nil
}

func flattenValidation(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + ve.Message}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flattenValidation(c)...)
	}
	return out
}
