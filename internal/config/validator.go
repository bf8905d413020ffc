package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the JSON schema every config document must satisfy
// before it is unmarshaled. It guards shapes and ranges; semantic
// checks live in Config.Validate.
const configSchema = `{
	"type": "object",
	"properties": {
		"data_dir": {"type": "string"},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
				"file": {"type": "string"},
				"max_size": {"type": "integer", "minimum": 0},
				"max_age": {"type": "integer", "minimum": 0},
				"compress": {"type": "boolean"},
				"redaction": {"type": "boolean"}
			},
			"additionalProperties": false
		},
		"retry": {
			"type": "object",
			"properties": {
				"max_attempts": {"type": "integer", "minimum": 1},
				"initial_backoff_ms": {"type": "integer", "minimum": 0},
				"max_backoff_ms": {"type": "integer", "minimum": 0},
				"multiplier": {"type": "number", "minimum": 1},
				"jitter": {"type": "number", "minimum": 0, "maximum": 1}
			},
			"additionalProperties": false
		},
		"runlog": {
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"retention_days": {"type": "integer", "minimum": 1},
				"sweep_schedule": {"type": "string"}
			},
			"additionalProperties": false
		},
		"bridge": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"port": {"type": "integer", "minimum": 1, "maximum": 65535},
				"shared_secret": {"type": "string"}
			},
			"additionalProperties": false
		},
		"plan": {
			"type": "object",
			"properties": {
				"regen_interval": {"type": "integer", "minimum": 1}
			},
			"additionalProperties": false
		},
		"tracing": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"service_name": {"type": "string"}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}`

// ValidateDocument checks a raw config document against the schema.
func ValidateDocument(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate config document: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
	}

	return nil
}
