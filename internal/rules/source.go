package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"retrosim/internal/model"
)

const (
	SupportedSchemaVersion = 1
	SupportedCodecVersion  = 1
)

// DefaultTrustScore is the neutral score assigned to rules with no history.
const DefaultTrustScore = 0.5

// ruleFileSchema constrains the rule definition file before decoding. The
// evaluator performs deeper checks (op names, target shapes) at run time;
// this guards the load boundary so the registry fails closed on malformed
// input rather than loading partial populations.
const ruleFileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["rule_id", "domain", "condition", "effects"],
        "properties": {
          "rule_id": {"type": "string", "minLength": 1},
          "domain": {"type": "string", "minLength": 1},
          "enabled": {"type": "boolean"},
          "trust_score": {"type": "number", "minimum": 0, "maximum": 1},
          "condition": {"$ref": "#/$defs/predicate"},
          "effects": {
            "type": "array",
            "minItems": 1,
            "items": {"$ref": "#/$defs/effect"}
          },
          "parameters": {
            "type": "object",
            "additionalProperties": {
              "type": "object",
              "required": ["value", "min", "max"],
              "properties": {
                "value": {"type": "number"},
                "min": {"type": "number"},
                "max": {"type": "number"}
              }
            }
          }
        }
      }
    }
  },
  "$defs": {
    "predicate": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"type": "string", "enum": ["threshold", "all", "any", "custom"]},
        "target": {"type": "string"},
        "op": {"type": "string", "enum": ["gt", "gte", "lt", "lte", "eq"]},
        "value": {"type": "number"},
        "param": {"type": "string"},
        "func": {"type": "string"},
        "children": {"type": "array", "items": {"$ref": "#/$defs/predicate"}}
      }
    },
    "effect": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"type": "string", "enum": ["additive", "custom"]},
        "target": {"type": "string"},
        "delta": {"type": "number"},
        "param": {"type": "string"},
        "func": {"type": "string"}
      }
    }
  }
}`

type ruleFile struct {
	Rules []ruleFileEntry `json:"rules"`
}

type ruleFileEntry struct {
	RuleID     string                     `json:"rule_id"`
	Domain     string                     `json:"domain"`
	Enabled    *bool                      `json:"enabled"`
	TrustScore *float64                   `json:"trust_score"`
	Condition  model.Predicate            `json:"condition"`
	Effects    []model.Effect             `json:"effects"`
	Parameters map[string]model.Parameter `json:"parameters"`
}

// FileSource loads the rule population from one JSON file, schema-validated
// before decoding.
type FileSource struct {
	Path string
}

func (f FileSource) LoadAll() ([]model.RuleRecord, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return ParseRuleFile(raw)
}

// ParseRuleFile validates and decodes a rule definition payload. Omitted
// enabled flags default to true; omitted trust scores default to neutral.
func ParseRuleFile(raw []byte) ([]model.RuleRecord, error) {
	schema, err := compileRuleSchema()
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode rule file: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("rule file schema: %w", err)
	}

	var file ruleFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode rule file: %w", err)
	}

	records := make([]model.RuleRecord, 0, len(file.Rules))
	for _, entry := range file.Rules {
		record := model.RuleRecord{
			VersionedRecord: model.VersionedRecord{
				SchemaVersion: SupportedSchemaVersion,
				CodecVersion:  SupportedCodecVersion,
			},
			ID:         entry.RuleID,
			Domain:     entry.Domain,
			Enabled:    true,
			Condition:  entry.Condition,
			Effects:    entry.Effects,
			Parameters: entry.Parameters,
			TrustScore: DefaultTrustScore,
		}
		if entry.Enabled != nil {
			record.Enabled = *entry.Enabled
		}
		if entry.TrustScore != nil {
			record.TrustScore = *entry.TrustScore
		}
		for name, param := range record.Parameters {
			if param.Min > param.Max {
				return nil, fmt.Errorf("rule %s parameter %s: min %v above max %v",
					record.ID, name, param.Min, param.Max)
			}
			if param.Value < param.Min || param.Value > param.Max {
				return nil, fmt.Errorf("rule %s parameter %s: value %v outside [%v, %v]",
					record.ID, name, param.Value, param.Min, param.Max)
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func compileRuleSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.schema.json", strings.NewReader(ruleFileSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("rules.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// StaticSource serves a fixed record slice, mostly for tests and embedding
// applications that author rules in code.
type StaticSource []model.RuleRecord

func (s StaticSource) LoadAll() ([]model.RuleRecord, error) {
	out := make([]model.RuleRecord, len(s))
	copy(out, s)
	return out, nil
}
