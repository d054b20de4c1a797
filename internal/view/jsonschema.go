package view

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema is the JSON Schema of a view document.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "names": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "function": {
      "type": "object",
      "required": ["id"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "config": {"type": "object"}
      }
    },
    "filters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["selection", "predicate"],
        "additionalProperties": false,
        "properties": {
          "selection": {"$ref": "#/definitions/names"},
          "predicate": {"$ref": "#/definitions/function"}
        }
      }
    },
    "definition": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "groupBy": {"type": "array", "items": {"type": "string", "minLength": 1}, "uniqueItems": true},
        "transientProperties": {
          "type": "object",
          "additionalProperties": {"enum": ["string", "int", "bool", "list"]}
        },
        "preAggregationFilterFunctions": {"$ref": "#/definitions/filters"},
        "postAggregationFilterFunctions": {"$ref": "#/definitions/filters"},
        "postTransformFilterFunctions": {"$ref": "#/definitions/filters"},
        "transformFunctions": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["selection", "projection", "function"],
            "additionalProperties": false,
            "properties": {
              "selection": {"$ref": "#/definitions/names"},
              "projection": {"$ref": "#/definitions/names"},
              "function": {"$ref": "#/definitions/function"}
            }
          }
        }
      }
    },
    "groups": {
      "type": "object",
      "additionalProperties": {"$ref": "#/definitions/definition"}
    }
  },
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "entities": {"$ref": "#/definitions/groups"},
    "edges": {"$ref": "#/definitions/groups"}
  }
}`

var (
	compiledSchemaOnce sync.Once
	compiledSchema     *gojsonschema.Schema
	compiledSchemaErr  error
)

func loadDocumentSchema() (*gojsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiledSchema, compiledSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return compiledSchema, compiledSchemaErr
}

// ValidateDocument checks raw JSON against the view document schema.
// Problems are reported together in a DocumentError.
func ValidateDocument(data []byte) error {
	s, err := loadDocumentSchema()
	if err != nil {
		return fmt.Errorf("compile view document schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("view document validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &DocumentError{Problems: problems}
}
