package nvwal

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testEngineConfig(t *testing.T, base string) Config {
	t.Helper()
	return Config{
		NVRoot:           filepath.Join(base, "nv"),
		DiskRoot:         filepath.Join(base, "disk"),
		WriterCount:      1,
		WriterBufferSize: 4096,
		SegmentSize:      4096,
		NVQuota:          3 * 4096,
		MDSPageSize:      4096,
		FrameCount:       4,
	}
}

func waitForDurableEpoch(t *testing.T, e *Engine, target Epoch, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		de, err := e.QueryDurableEpoch()
		if err != nil {
			t.Fatalf("QueryDurableEpoch() = %v", err)
		}
		if !after(target, de) {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	de, _ := e.QueryDurableEpoch()
	t.Fatalf("durable epoch never reached %s; stuck at %s", target, de)
}

func TestEngineWriteConcludeAndReadBack(t *testing.T) {
	base, err := ioutil.TempDir("", "nvwal")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)

	cfg := testEngineConfig(t, base)
	e, err := Open(cfg, zap.NewExample())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	w := e.Writer(0)
	payload := []byte("hello epoch one")
	copy(w.Buffer()[w.TailOffset():], payload)
	w.OnWrite(len(payload), Epoch(1))

	if err := e.AdvanceStableEpoch(Epoch(1)); err != nil {
		t.Fatalf("AdvanceStableEpoch() = %v", err)
	}
	waitForDurableEpoch(t, e, Epoch(1), 5*time.Second)

	cur, err := e.NewCursor(InvalidEpoch)
	if err != nil {
		t.Fatalf("NewCursor() = %v", err)
	}
	gotEpoch, data, err := cur.Next()
	if err != nil {
		t.Fatalf("Cursor.Next() = %v", err)
	}
	if gotEpoch != 1 {
		t.Fatalf("Cursor.Next() epoch = %s, want 1", gotEpoch)
	}
	if string(data) != string(payload) {
		t.Fatalf("Cursor.Next() data = %q, want %q", data, payload)
	}
	if _, _, err := cur.Next(); err != io.EOF {
		t.Fatalf("Cursor.Next() after last durable epoch = %v, want io.EOF", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}

func TestEngineRecoversAcrossRestart(t *testing.T) {
	base, err := ioutil.TempDir("", "nvwal")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)

	cfg := testEngineConfig(t, base)
	e, err := Open(cfg, zap.NewExample())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	w := e.Writer(0)
	payload := []byte("durable across restart")
	copy(w.Buffer()[w.TailOffset():], payload)
	w.OnWrite(len(payload), Epoch(1))
	if err := e.AdvanceStableEpoch(Epoch(1)); err != nil {
		t.Fatalf("AdvanceStableEpoch() = %v", err)
	}
	waitForDurableEpoch(t, e, Epoch(1), 5*time.Second)

	if err := e.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	cfg.Mode = Restart
	e2, err := Open(cfg, zap.NewExample())
	if err != nil {
		t.Fatalf("second Open() (restart) = %v", err)
	}
	defer e2.Close()

	got, err := e2.QueryDurableEpoch()
	if err != nil {
		t.Fatalf("QueryDurableEpoch() after restart = %v", err)
	}
	if got != 1 {
		t.Fatalf("QueryDurableEpoch() after restart = %s, want 1", got)
	}

	cur, err := e2.NewCursor(InvalidEpoch)
	if err != nil {
		t.Fatalf("NewCursor() after restart = %v", err)
	}
	gotEpoch, data, err := cur.Next()
	if err != nil {
		t.Fatalf("Cursor.Next() after restart = %v", err)
	}
	if gotEpoch != 1 || string(data) != string(payload) {
		t.Fatalf("Cursor.Next() after restart = (%s, %q), want (1, %q)", gotEpoch, data, payload)
	}
}

func TestEngineRollbackDiscardsDurableEpoch(t *testing.T) {
	base, err := ioutil.TempDir("", "nvwal")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)

	cfg := testEngineConfig(t, base)
	e, err := Open(cfg, zap.NewExample())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	w := e.Writer(0)
	payload := []byte("epoch one")
	copy(w.Buffer()[w.TailOffset():], payload)
	w.OnWrite(len(payload), Epoch(1))
	if err := e.AdvanceStableEpoch(Epoch(1)); err != nil {
		t.Fatalf("AdvanceStableEpoch() = %v", err)
	}
	waitForDurableEpoch(t, e, Epoch(1), 5*time.Second)

	if err := e.RollbackToEpoch(InvalidEpoch); err != nil {
		t.Fatalf("RollbackToEpoch() = %v", err)
	}
	got, err := e.QueryDurableEpoch()
	if err != nil {
		t.Fatalf("QueryDurableEpoch() after rollback = %v", err)
	}
	if got != InvalidEpoch {
		t.Fatalf("QueryDurableEpoch() after rollback to InvalidEpoch = %s, want %s", got, InvalidEpoch)
	}
}
