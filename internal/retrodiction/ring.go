package retrodiction

import (
	"sync"

	"retrosim/internal/model"
)

// recordRing is a bounded append-only record buffer. When full, the oldest
// record is dropped.
type recordRing struct {
	mu      sync.Mutex
	limit   int
	records []model.ForecastRecord
}

func (r *recordRing) append(record model.ForecastRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, record)
	if overflow := len(r.records) - r.limit; overflow > 0 {
		r.records = append(r.records[:0:0], r.records[overflow:]...)
	}
}

func (r *recordRing) snapshot() []model.ForecastRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.ForecastRecord, len(r.records))
	copy(out, r.records)
	return out
}
