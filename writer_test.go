package nvwal

import (
	"testing"

	"go.uber.org/zap"
)

func newTestWriter(bufSize, frameCount int) *Writer {
	return newWriter(0, make([]byte, bufSize), frameCount, zap.NewExample())
}

func TestWriterOnWriteAdvancesTailAndFrame(t *testing.T) {
	w := newTestWriter(100, 4)

	copy(w.Buffer()[w.TailOffset():], "hello")
	w.OnWrite(5, Epoch(1))

	if got, want := w.TailOffset(), 5; got != want {
		t.Fatalf("TailOffset() = %d, want %d", got, want)
	}

	active := &w.frames[w.activeFrame]
	if Epoch(active.logEpoch.Load()) != 1 {
		t.Fatalf("active frame logEpoch = %d, want 1", active.logEpoch.Load())
	}
	if active.tail.Load() != 5 {
		t.Fatalf("active frame tail = %d, want 5", active.tail.Load())
	}
}

func TestWriterOnWriteNewEpochAdvancesFrame(t *testing.T) {
	w := newTestWriter(100, 4)

	copy(w.Buffer()[w.TailOffset():], "ab")
	w.OnWrite(2, Epoch(1))
	copy(w.Buffer()[w.TailOffset():], "cd")
	w.OnWrite(2, Epoch(2))

	if w.activeFrame != 1 {
		t.Fatalf("activeFrame = %d, want 1 after a second epoch starts", w.activeFrame)
	}
	first := &w.frames[0]
	if Epoch(first.logEpoch.Load()) != 1 {
		t.Fatalf("frame 0 logEpoch = %d, want 1", first.logEpoch.Load())
	}
	second := &w.frames[1]
	if Epoch(second.logEpoch.Load()) != 2 {
		t.Fatalf("frame 1 logEpoch = %d, want 2", second.logEpoch.Load())
	}
	if second.head.Load() != 2 || second.tail.Load() != 4 {
		t.Fatalf("frame 1 head/tail = %d/%d, want 2/4", second.head.Load(), second.tail.Load())
	}
}

func TestWriterHasEnoughSpaceReflectsConsumedBytes(t *testing.T) {
	w := newTestWriter(10, 4)

	copy(w.Buffer()[w.TailOffset():], "abcde")
	w.OnWrite(5, Epoch(1))
	if !w.HasEnoughSpace() {
		t.Fatal("HasEnoughSpace() = false after writing half the buffer, want true")
	}

	copy(w.Buffer()[w.TailOffset()%w.bufSize:], "f")
	w.OnWrite(1, Epoch(1))
	if w.HasEnoughSpace() {
		t.Fatal("HasEnoughSpace() = true after exceeding half the buffer, want false")
	}
}

func TestWriterAdvanceFrameIntoOccupiedSlotPanics(t *testing.T) {
	w := newTestWriter(100, 2)

	w.OnWrite(0, Epoch(1))
	w.OnWrite(0, Epoch(2))

	defer func() {
		if recover() == nil {
			t.Fatal("advancing into an occupied frame slot should panic (frame horizon violated)")
		}
	}()
	w.OnWrite(0, Epoch(3))
}
