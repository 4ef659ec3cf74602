package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const responseSchemaURL = "https://truthtag.schemas.local/analysis/response.schema.json"

const responseSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["aiGenerated", "score"],
  "properties": {
    "aiGenerated": {"type": "boolean"},
    "score": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var responseSchema = mustCompileResponseSchema()

func mustCompileResponseSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(responseSchemaURL, strings.NewReader(responseSchemaJSON)); err != nil {
		panic(fmt.Sprintf("analysis: load response schema: %v", err))
	}
	return c.MustCompile(responseSchemaURL)
}

// decodeResult validates the classifier payload before trusting it.
func decodeResult(raw []byte) (Result, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return Result{}, fmt.Errorf("schema: %w", err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}
	return res, nil
}
