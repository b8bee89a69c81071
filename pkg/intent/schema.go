package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const intentSchemaURL = "https://gate.adamantine.local/schemas/intent.schema.json"

// intentSchema constrains intent documents arriving from outside the
// process (CLI files, RPC payloads). Floats are rejected outright.
const intentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["wallet_id", "account_id", "action", "asset"],
  "additionalProperties": false,
  "properties": {
    "wallet_id":  {"type": "string", "minLength": 1, "maxLength": 128},
    "account_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "action":     {"type": "string", "minLength": 1, "maxLength": 64},
    "asset":      {"type": "string", "minLength": 1, "maxLength": 64},
    "amount":     {"type": "integer", "minimum": 0},
    "recipient":  {"type": "string", "maxLength": 256},
    "note":       {"type": "string", "maxLength": 1024},
    "device": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id":          {"type": "string"},
        "type":        {"type": "string"},
        "os":          {"type": "string"},
        "trusted":     {"type": "boolean"},
        "app_version": {"type": "string"}
      }
    },
    "network": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name":         {"type": "string"},
        "node_type":    {"type": "string"},
        "node_trusted": {"type": "boolean"},
        "peer_count":   {"type": "integer", "minimum": 0},
        "fee_rate":     {"type": "integer", "minimum": 0}
      }
    },
    "user": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "user_id":             {"type": "string"},
        "biometric_available": {"type": "boolean"},
        "pin_set":             {"type": "boolean"}
      }
    }
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(intentSchemaURL, strings.NewReader(intentSchema)); err != nil {
			compileErr = fmt.Errorf("intent schema load failed: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(intentSchemaURL)
	})
	return compiledSchema, compileErr
}

// DecodeJSON validates raw against the intent schema and decodes it.
// Schema violations are reported as ErrInvalidIntent.
func DecodeJSON(raw []byte) (Intent, error) {
	s, err := schema()
	if err != nil {
		return Intent{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if err := s.Validate(doc); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	return in, nil
}
