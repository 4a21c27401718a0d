package retrodiction

import (
	"context"
	"sync"

	"retrosim/internal/model"
	"retrosim/internal/worldstate"
)

// Window is one independent replay over a historical span.
type Window struct {
	ID      string
	Initial *worldstate.Snapshot
	Turns   int
}

// WindowResult carries one window's records or its failure. A failed window
// never aborts the batch.
type WindowResult struct {
	WindowID string
	Records  []model.ForecastRecord
	Err      error
}

// RunWindows replays many windows on a bounded worker pool. Each window is
// strictly sequential internally; windows are independent of each other.
// The context bounds the whole batch: a deadline stops unstarted windows
// and surfaces context errors in their results.
func (e *Engine) RunWindows(ctx context.Context, windows []Window, workers int) []WindowResult {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(windows) {
		workers = len(windows)
	}

	results := make([]WindowResult, len(windows))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				window := windows[idx]
				records, err := e.Run(ctx, window.Initial, window.Turns)
				results[idx] = WindowResult{WindowID: window.ID, Records: records, Err: err}
			}
		}()
	}

	for idx := range windows {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return results
}
