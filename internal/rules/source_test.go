package rules

import (
	"testing"
)

const sampleRuleFile = `{
  "rules": [
    {
      "rule_id": "hope_rally",
      "domain": "capital",
      "condition": {"kind": "threshold", "target": "overlay.hope", "op": "gt", "value": 0.6},
      "effects": [{"kind": "additive", "target": "capital.nvda", "delta": 10}],
      "parameters": {"delta": {"value": 10, "min": 0, "max": 50}}
    },
    {
      "rule_id": "fear_retreat",
      "domain": "capital",
      "enabled": false,
      "trust_score": 0.8,
      "condition": {"kind": "threshold", "target": "overlay.fear", "op": "gte", "value": 0.7},
      "effects": [{"kind": "additive", "target": "capital.nvda", "delta": -10}]
    }
  ]
}`

func TestParseRuleFileDefaults(t *testing.T) {
	records, err := ParseRuleFile([]byte(sampleRuleFile))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(records))
	}

	first := records[0]
	if !first.Enabled {
		t.Fatal("enabled should default to true")
	}
	if first.TrustScore != DefaultTrustScore {
		t.Fatalf("trust should default to %v, got %v", DefaultTrustScore, first.TrustScore)
	}
	if first.SchemaVersion != SupportedSchemaVersion {
		t.Fatalf("unexpected schema version %d", first.SchemaVersion)
	}

	second := records[1]
	if second.Enabled {
		t.Fatal("explicit enabled=false should survive")
	}
	if second.TrustScore != 0.8 {
		t.Fatalf("explicit trust should survive, got %v", second.TrustScore)
	}
}

func TestParseRuleFileRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing rule_id": `{"rules": [{"domain": "a", "condition": {"kind": "threshold"}, "effects": [{"kind": "additive"}]}]}`,
		"bad trust range": `{"rules": [{"rule_id": "r", "domain": "a", "trust_score": 1.5, "condition": {"kind": "threshold"}, "effects": [{"kind": "additive"}]}]}`,
		"bad kind":        `{"rules": [{"rule_id": "r", "domain": "a", "condition": {"kind": "psychic"}, "effects": [{"kind": "additive"}]}]}`,
		"empty effects":   `{"rules": [{"rule_id": "r", "domain": "a", "condition": {"kind": "threshold"}, "effects": []}]}`,
		"not json":        `{rules: [}`,
	}
	for name, payload := range cases {
		if _, err := ParseRuleFile([]byte(payload)); err == nil {
			t.Fatalf("%s: expected parse failure", name)
		}
	}
}

func TestParseRuleFileRejectsParameterOutsideDeclaredBounds(t *testing.T) {
	payload := `{
	  "rules": [{
	    "rule_id": "r", "domain": "a",
	    "condition": {"kind": "threshold", "target": "overlay.hope", "op": "gt", "value": 0.5},
	    "effects": [{"kind": "additive", "target": "capital.nvda", "delta": 1}],
	    "parameters": {"p": {"value": 5, "min": 0, "max": 1}}
	  }]
	}`
	if _, err := ParseRuleFile([]byte(payload)); err == nil {
		t.Fatal("expected failure for value outside [min, max]")
	}
}
