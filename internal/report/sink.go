package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StorageError wraps a persistence failure. Filesystem and network
// hiccups are worth retrying; a report that cannot be serialized is
// not.
type StorageError struct {
	Op        string
	Path      string
	Err       error
	Permanent bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("report %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same write may succeed.
func (e *StorageError) Transient() bool { return !e.Permanent }

// Handle locates a persisted report.
type Handle struct {
	ItemID   string    `json:"item_id"`
	Path     string    `json:"path"`
	StoredAt time.Time `json:"stored_at"`
}

// Sink persists reports and batch summaries.
type Sink interface {
	Store(ctx context.Context, r *Report) (Handle, error)
	Retrieve(ctx context.Context, h Handle, f Format) ([]byte, error)
	StoreSummary(ctx context.Context, s *Summary) (string, error)
}

// FileSink writes reports as pretty-printed JSON files under a single
// output directory.
type FileSink struct {
	Dir string
}

// NewFileSink creates the output directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &FileSink{Dir: dir}, nil
}

func (s *FileSink) Store(ctx context.Context, r *Report) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return Handle{}, &StorageError{Op: "encode", Path: r.Metadata.ItemID, Err: err, Permanent: true}
	}

	name := fmt.Sprintf("batch_report_%s_%s.json", r.Metadata.ItemID, time.Now().Format("20060102_150405"))
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Handle{}, &StorageError{Op: "write", Path: path, Err: err}
	}

	return Handle{ItemID: r.Metadata.ItemID, Path: path, StoredAt: time.Now()}, nil
}

func (s *FileSink) Retrieve(ctx context.Context, h Handle, f Format) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: h.Path, Err: err}
	}
	if f == FormatJSON {
		return data, nil
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &StorageError{Op: "decode", Path: h.Path, Err: err, Permanent: true}
	}
	return Render(&r, f)
}

func (s *FileSink) StoreSummary(ctx context.Context, sum *Summary) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", &StorageError{Op: "encode", Path: sum.JobID, Err: err, Permanent: true}
	}

	path := filepath.Join(s.Dir, fmt.Sprintf("batch_summary_%s.json", sum.JobID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &StorageError{Op: "write", Path: path, Err: err}
	}
	return path, nil
}
