package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"retrosim/internal/rules"
	simapi "retrosim/pkg/retrosim"
)

const cliTestRules = `{
  "rules": [
    {
      "rule_id": "r-hope-gain",
      "domain": "hope",
      "condition": {"kind": "threshold", "target": "overlay.hope", "op": "gt", "value": 0.6},
      "effects": [{"kind": "additive", "target": "capital.nvda", "delta": 10}]
    }
  ]
}`

const cliTestState = `{
  "turn": 0,
  "overlays": {"hope": 0.8},
  "variables": {},
  "capital": {"nvda": 100}
}`

func writeCLIFixtures(t *testing.T) (rulesPath, statePath, trailPath, trustPath string) {
	t.Helper()

	base := t.TempDir()
	rulesPath = filepath.Join(base, "rules.json")
	statePath = filepath.Join(base, "state.json")
	trailPath = filepath.Join(base, "mutation_audit.jsonl")
	trustPath = filepath.Join(base, "trust_trail.jsonl")
	if err := os.WriteFile(rulesPath, []byte(cliTestRules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if err := os.WriteFile(statePath, []byte(cliTestState), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	return rulesPath, statePath, trailPath, trustPath
}

func TestRunCommandAdvancesState(t *testing.T) {
	rulesPath, statePath, trailPath, trustPath := writeCLIFixtures(t)

	err := run(context.Background(), []string{
		"run",
		"-rules", rulesPath,
		"-state", statePath,
		"-turns", "2",
		"-mutation-trail", trailPath,
		"-trust-trail", trustPath,
	})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
}

func TestRetrodictCommand(t *testing.T) {
	rulesPath, statePath, trailPath, trustPath := writeCLIFixtures(t)

	err := run(context.Background(), []string{
		"retrodict",
		"-rules", rulesPath,
		"-state", statePath,
		"-turns", "3",
		"-mutation-trail", trailPath,
		"-trust-trail", trustPath,
	})
	if err != nil {
		t.Fatalf("retrodict command: %v", err)
	}
}

func TestMutateCommandUnknownRuleExitCode(t *testing.T) {
	rulesPath, _, trailPath, trustPath := writeCLIFixtures(t)

	err := run(context.Background(), []string{
		"mutate",
		"-rules", rulesPath,
		"-rule", "r-missing",
		"-mutation-trail", trailPath,
		"-trust-trail", trustPath,
	})
	if !errors.Is(err, rules.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %d", exitCode(err))
	}
}

func TestDeprecateCommandUnknownRuleExitCode(t *testing.T) {
	rulesPath, _, trailPath, trustPath := writeCLIFixtures(t)

	err := run(context.Background(), []string{
		"deprecate",
		"-rules", rulesPath,
		"-rule", "r-missing",
		"-mutation-trail", trailPath,
		"-trust-trail", trustPath,
	})
	if !errors.Is(err, rules.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %d", exitCode(err))
	}
}

func TestRunCommandInvalidStateExitCode(t *testing.T) {
	rulesPath, _, trailPath, trustPath := writeCLIFixtures(t)
	badState := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(badState, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write bad state: %v", err)
	}

	err := run(context.Background(), []string{
		"run",
		"-rules", rulesPath,
		"-state", badState,
		"-mutation-trail", trailPath,
		"-trust-trail", trustPath,
	})
	if !errors.Is(err, simapi.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if exitCode(err) != 2 {
		t.Fatalf("expected exit code 2, got %d", exitCode(err))
	}
}

func TestRunCommandMalformedRuleFileExitCode(t *testing.T) {
	badRules := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(badRules, []byte(`{"rules": [{"rule_id": ""}]}`), 0o644); err != nil {
		t.Fatalf("write bad rules: %v", err)
	}
	base := t.TempDir()

	err := run(context.Background(), []string{
		"run",
		"-rules", badRules,
		"-mutation-trail", filepath.Join(base, "mutation_audit.jsonl"),
		"-trust-trail", filepath.Join(base, "trust_trail.jsonl"),
	})
	if !errors.Is(err, rules.ErrRegistryLoad) {
		t.Fatalf("expected ErrRegistryLoad, got %v", err)
	}
	if exitCode(err) != 2 {
		t.Fatalf("expected exit code 2, got %d", exitCode(err))
	}
}

func TestScoreCommandRuleFlag(t *testing.T) {
	rulesPath, statePath, trailPath, trustPath := writeCLIFixtures(t)

	forecastPath := filepath.Join(filepath.Dir(statePath), "forecasts.jsonl")
	lines := `{"schema_version":1,"codec_version":1,"trace_id":"trace-1","start_turn":0,"end_turn":1,"overlay_trajectory":{"hope":0.8},"capital_trajectory":{"nvda":100},"confidence":0.7,"fired_rule_ids":["r-hope-gain"]}
{"schema_version":1,"codec_version":1,"trace_id":"trace-1","start_turn":1,"end_turn":2,"overlay_trajectory":{"hope":0.8},"capital_trajectory":{"nvda":110},"confidence":0.7,"fired_rule_ids":["r-hope-gain"]}
`
	if err := os.WriteFile(forecastPath, []byte(lines), 0o644); err != nil {
		t.Fatalf("write forecast file: %v", err)
	}

	err := run(context.Background(), []string{
		"score",
		"-rules", rulesPath,
		"-forecasts", forecastPath,
		"-rule", "r-hope-gain",
		"-mutation-trail", trailPath,
		"-trust-trail", trustPath,
	})
	if err != nil {
		t.Fatalf("score command: %v", err)
	}

	err = run(context.Background(), []string{
		"score",
		"-rules", rulesPath,
		"-forecasts", forecastPath,
		"-rule", "r-missing",
		"-mutation-trail", trailPath,
		"-trust-trail", trustPath,
	})
	if !errors.Is(err, rules.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %d", exitCode(err))
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := run(context.Background(), nil); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestScanCommand(t *testing.T) {
	rulesPath, _, trailPath, trustPath := writeCLIFixtures(t)

	err := run(context.Background(), []string{
		"scan",
		"-rules", rulesPath,
		"-mutation-trail", trailPath,
		"-trust-trail", trustPath,
	})
	if err != nil {
		t.Fatalf("scan command: %v", err)
	}
}
