package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// reportSchemaJSON is the pinned wire-format schema for a DissonanceReport
// (spec §3, §6): every field the external consumer contract requires.
// Its SHA-256 is schemaHash below; bump both together on a schema change.
const reportSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["runId", "repoId", "mode", "outcome", "thresholdsSnapshot", "findings", "redactionTag", "schemaVersion", "createdAt"],
  "properties": {
    "runId": {"type": "string", "minLength": 1},
    "repoId": {"type": "string", "minLength": 1},
    "mode": {"type": "string", "enum": ["pull_request", "merge_group", "schedule", "calibration", "drift"]},
    "outcome": {"type": "string", "enum": ["ALLOW", "WARN", "BLOCK"]},
    "thresholdsSnapshot": {},
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "ruleId", "severity", "title"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "ruleId": {"type": "string", "minLength": 1},
          "severity": {"type": "string"},
          "title": {"type": "string"}
        }
      }
    },
    "redactionTag": {"type": "string"},
    "schemaVersion": {"type": "string", "minLength": 1},
    "createdAt": {"type": "string"}
  }
}`

// schemaHash is the SHA-256 of reportSchemaJSON; bump it alongside any
// change to the schema text above.
const schemaHash = "354756e29169e3be155a33024ce3fd16839303a944c985cb300d2bfd81c05a14"

var (
	compiledReportSchema     *jsonschema.Schema
	compiledReportSchemaOnce sync.Once
	compiledReportSchemaErr  error
)

func reportSchema() (*jsonschema.Schema, error) {
	compiledReportSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://gov-oracle.local/schema/dissonance_report.schema.json"
		if err := c.AddResource(url, strings.NewReader(reportSchemaJSON)); err != nil {
			compiledReportSchemaErr = fmt.Errorf("oracle: load report schema: %w", err)
			return
		}
		schema, err := c.Compile(url)
		if err != nil {
			compiledReportSchemaErr = fmt.Errorf("oracle: compile report schema: %w", err)
			return
		}
		compiledReportSchema = schema
	})
	return compiledReportSchema, compiledReportSchemaErr
}

// ValidateReportSchema checks report against the pinned wire-format schema.
func ValidateReportSchema(report DissonanceReport) error {
	schema, err := reportSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("oracle: marshal report: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("oracle: decode report: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("oracle: report failed schema validation: %w", err)
	}
	return nil
}
