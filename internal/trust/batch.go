package trust

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"retrosim/internal/coherence"
	"retrosim/internal/model"
)

// ItemFailure records one skipped record within a batch.
type ItemFailure struct {
	Path string
	Line int
	Err  error
}

// FileResult is the outcome of scoring one forecast file.
type FileResult struct {
	Path     string
	Entries  []model.TrustEntry
	Failures []ItemFailure
	Err      error
}

// ScoreFile scores a line-delimited forecast record file. Malformed lines
// are recorded and skipped; they never abort the file. Valid records also
// feed the per-rule volatility window, so ScoreRule works on file-sourced
// history.
func (s *Scorer) ScoreFile(path string, issues []coherence.Issue) ([]model.TrustEntry, []ItemFailure, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open forecast file: %w", err)
	}
	defer file.Close()

	var entries []model.TrustEntry
	var failures []ItemFailure
	var records []model.ForecastRecord

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var record model.ForecastRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			failures = append(failures, ItemFailure{
				Path: path,
				Line: line,
				Err:  fmt.Errorf("%w: %v", ErrMalformedForecastRecord, err),
			})
			continue
		}

		entry, err := s.ScoreForecast(record, issues)
		if err != nil {
			if errors.Is(err, ErrMalformedForecastRecord) {
				failures = append(failures, ItemFailure{Path: path, Line: line, Err: err})
				continue
			}
			return entries, failures, err
		}
		entries = append(entries, entry)
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return entries, failures, fmt.Errorf("read forecast file: %w", err)
	}
	s.ObserveForecasts(records)
	return entries, failures, nil
}

// ScoreFiles scores many forecast files on a bounded worker pool. Per-file
// failures land in that file's result; the batch always completes.
func (s *Scorer) ScoreFiles(ctx context.Context, paths []string, issues []coherence.Issue, workers int) []FileResult {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	results := make([]FileResult, len(paths))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := ctx.Err(); err != nil {
					results[idx] = FileResult{Path: paths[idx], Err: err}
					continue
				}
				entries, failures, err := s.ScoreFile(paths[idx], issues)
				results[idx] = FileResult{Path: paths[idx], Entries: entries, Failures: failures, Err: err}
			}
		}()
	}

	for idx := range paths {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return results
}
