package trust

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeForecastFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

const goodLine = `{"trace_id":"t1","start_turn":0,"end_turn":1,"overlay_trajectory":{"hope":0.5},"capital_trajectory":{},"confidence":0.8}`

func TestScoreFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := writeForecastFile(t, dir, "mixed.jsonl",
		goodLine+"\n"+
			`{"this is not json`+"\n"+
			`{"trace_id":"","start_turn":0,"end_turn":1,"overlay_trajectory":{},"confidence":0.5}`+"\n"+
			goodLine+"\n")

	s := NewScorer(Config{})
	entries, failures, err := s.ScoreFile(path, nil)
	if err != nil {
		t.Fatalf("score file: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 scored entries, got %d", len(entries))
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", len(failures))
	}
	for _, failure := range failures {
		if !errors.Is(failure.Err, ErrMalformedForecastRecord) {
			t.Fatalf("unexpected failure error: %v", failure.Err)
		}
	}
	if failures[0].Line != 2 || failures[1].Line != 3 {
		t.Fatalf("failure lines: %d, %d", failures[0].Line, failures[1].Line)
	}
}

func TestScoreFileObservesFirings(t *testing.T) {
	dir := t.TempDir()
	path := writeForecastFile(t, dir, "fired.jsonl",
		`{"trace_id":"t1","start_turn":0,"end_turn":1,"overlay_trajectory":{"hope":0.8},"capital_trajectory":{"nvda":100},"confidence":0.8,"fired_rule_ids":["r1"]}`+"\n"+
			`{"trace_id":"t1","start_turn":1,"end_turn":2,"overlay_trajectory":{"hope":0.8},"capital_trajectory":{"nvda":110},"confidence":0.8,"fired_rule_ids":["r1"]}`+"\n")

	s := NewScorer(Config{})
	if _, _, err := s.ScoreFile(path, nil); err != nil {
		t.Fatalf("score file: %v", err)
	}

	entry, err := s.ScoreRule("r1")
	if err != nil {
		t.Fatalf("score rule: %v", err)
	}
	if entry.Signals["sample_size"] != 1 {
		t.Fatalf("sample size %v, want 1", entry.Signals["sample_size"])
	}
	// The single observed step moved 10: volatile, so trust bottoms out.
	if entry.Score != 0 {
		t.Fatalf("score %v, want 0", entry.Score)
	}
}

func TestScoreFileMissingFile(t *testing.T) {
	s := NewScorer(Config{})
	if _, _, err := s.ScoreFile(filepath.Join(t.TempDir(), "ghost.jsonl"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestScoreFilesBatchSurvivesBadFile(t *testing.T) {
	dir := t.TempDir()
	good := writeForecastFile(t, dir, "good.jsonl", goodLine+"\n")
	missing := filepath.Join(dir, "missing.jsonl")
	alsoGood := writeForecastFile(t, dir, "also.jsonl", goodLine+"\n"+goodLine+"\n")

	s := NewScorer(Config{})
	results := s.ScoreFiles(context.Background(), []string{good, missing, alsoGood}, nil, 2)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || len(results[0].Entries) != 1 {
		t.Fatalf("good file: %+v", results[0])
	}
	if results[1].Err == nil {
		t.Fatal("missing file should carry its error")
	}
	if results[2].Err != nil || len(results[2].Entries) != 2 {
		t.Fatalf("also-good file: %+v", results[2])
	}
}
