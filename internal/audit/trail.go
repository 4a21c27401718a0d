package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"retrosim/internal/model"
)

// Trail is an append-only line-delimited JSON log. One trail instance owns
// its file handle; appends are serialized and flushed per entry so partially
// written lines never become visible to readers.
type Trail struct {
	mu   sync.Mutex
	path string
	file *os.File
	sync bool
}

// Open creates or opens a trail file in append mode.
func Open(path string) (*Trail, error) {
	if path == "" {
		return nil, errors.New("trail path is required")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trail: %w", err)
	}
	return &Trail{path: path, file: file}, nil
}

// OpenSync is Open with an fsync after every append, for trails that must
// survive a crash at the cost of write throughput.
func OpenSync(path string) (*Trail, error) {
	trail, err := Open(path)
	if err != nil {
		return nil, err
	}
	trail.sync = true
	return trail, nil
}

// Append writes one record as a single JSON line.
func (t *Trail) Append(record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode trail record: %w", err)
	}
	payload = append(payload, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return errors.New("trail is closed")
	}
	if _, err := t.file.Write(payload); err != nil {
		return fmt.Errorf("append trail record: %w", err)
	}
	if t.sync {
		if err := t.file.Sync(); err != nil {
			return fmt.Errorf("sync trail: %w", err)
		}
	}
	return nil
}

// Path returns the trail's backing file path.
func (t *Trail) Path() string {
	return t.path
}

// Close releases the file handle. Further appends fail.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// ReadAuditEntries returns the last n mutation audit entries, oldest first.
// n <= 0 returns everything.
func ReadAuditEntries(path string, n int) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := readLines(path, func(line []byte) error {
		var entry model.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// ReadTrustEntries returns every trust trail entry, oldest first.
func ReadTrustEntries(path string) ([]model.TrustEntry, error) {
	var entries []model.TrustEntry
	err := readLines(path, func(line []byte) error {
		var entry model.TrustEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("decode trust entry: %w", err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func readLines(path string, fn func(line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open trail: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
