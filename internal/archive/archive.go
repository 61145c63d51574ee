// Package archive writes terminally failed work items to cold storage as
// zstd-compressed JSONL objects, one line per item.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"remindwell/internal/types"
)

// BlobSink stores one immutable object under a key. Implementations exist for
// the local filesystem; an S3-backed sink satisfies the same interface.
type BlobSink interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Archiver compresses terminal work items and hands them to a BlobSink. The
// maintenance sweep only deletes rows the Archiver has accepted.
type Archiver struct {
	sink    BlobSink
	clock   types.Clock
	logger  *slog.Logger
	encoder *zstd.Encoder
}

// NewArchiver creates an Archiver writing through the given sink.
func NewArchiver(sink BlobSink, clock types.Clock, logger *slog.Logger) (*Archiver, error) {
	if clock == nil {
		clock = types.RealClock{}
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &Archiver{
		sink:    sink,
		clock:   clock,
		logger:  logger,
		encoder: enc,
	}, nil
}

// ArchiveTerminal writes the given items as one compressed JSONL object. An
// empty slice is a no-op. The object key embeds the archive instant so sweeps
// produce non-colliding, time-ordered objects.
func (a *Archiver) ArchiveTerminal(ctx context.Context, items []types.WorkItem) error {
	if len(items) == 0 {
		return nil
	}

	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to encode work item %s: %w", item.ID, err)
		}
	}

	compressed := a.encoder.EncodeAll(raw.Bytes(), nil)

	now := a.clock.Now()
	key := fmt.Sprintf("terminal/%s/%s-%s.jsonl.zst",
		now.Format("2006/01/02"),
		now.Format("20060102T150405Z"),
		uuid.New().String()[:8],
	)

	if err := a.sink.Put(ctx, key, compressed); err != nil {
		return fmt.Errorf("failed to store archive object %s: %w", key, err)
	}

	a.logger.InfoContext(ctx, "terminal work archived",
		"key", key,
		"items", len(items),
		"raw_bytes", raw.Len(),
		"compressed_bytes", len(compressed),
	)
	return nil
}

// FileSink is a BlobSink backed by a local directory. Keys become relative
// paths under the root.
type FileSink struct {
	root string
}

var _ BlobSink = (*FileSink)(nil)

// NewFileSink creates a FileSink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{root: dir}
}

// Put writes the object, creating parent directories as needed.
func (s *FileSink) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive object: %w", err)
	}
	return nil
}
