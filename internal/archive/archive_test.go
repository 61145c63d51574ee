package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"remindwell/internal/types"
)

type memSink struct {
	objects map[string][]byte
	err     error
}

func (s *memSink) Put(ctx context.Context, key string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func terminalItem(id string) types.WorkItem {
	return types.WorkItem{
		ID:            id,
		UserID:        "user_1",
		TargetAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:        types.WorkStatusFailedTerminal,
		FailureReason: "transport rejected item",
	}
}

func TestArchiveTerminal_WritesCompressedJSONL(t *testing.T) {
	sink := &memSink{}
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	a, err := NewArchiver(sink, clock, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	items := []types.WorkItem{terminalItem("itm_1"), terminalItem("itm_2"), terminalItem("itm_3")}
	if err := a.ArchiveTerminal(context.Background(), items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(sink.objects))
	}

	var key string
	var data []byte
	for k, v := range sink.objects {
		key, data = k, v
	}
	if !strings.HasPrefix(key, "terminal/2026/03/02/") || !strings.HasSuffix(key, ".jsonl.zst") {
		t.Errorf("unexpected key %q", key)
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("object is not valid zstd: %v", err)
	}
	defer dec.Close()

	var got []types.WorkItem
	scanner := bufio.NewScanner(dec)
	for scanner.Scan() {
		var item types.WorkItem
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			t.Fatalf("line is not a work item: %v", err)
		}
		got = append(got, item)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	if got[0].ID != "itm_1" || got[2].FailureReason != "transport rejected item" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestArchiveTerminal_EmptyIsNoOp(t *testing.T) {
	sink := &memSink{}
	a, err := NewArchiver(sink, &fakeClock{now: time.Now()}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.ArchiveTerminal(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.objects) != 0 {
		t.Errorf("expected no objects for empty input")
	}
}

func TestArchiveTerminal_SinkFailurePropagates(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	a, err := NewArchiver(sink, &fakeClock{now: time.Now()}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.ArchiveTerminal(context.Background(), []types.WorkItem{terminalItem("itm_1")}); err == nil {
		t.Fatal("expected sink error to propagate")
	}
}

func TestFileSink_PutCreatesNestedPath(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	if err := sink.Put(context.Background(), "terminal/2026/03/02/x.jsonl.zst", []byte("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "terminal", "2026", "03", "02", "x.jsonl.zst"))
	if err != nil {
		t.Fatalf("object not written: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("content mismatch: %q", data)
	}
}
