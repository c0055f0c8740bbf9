package nvwal

import "testing"

func TestCircularAdd(t *testing.T) {
	if got := circularAdd(8, 4, 10); got != 2 {
		t.Errorf("circularAdd(8, 4, 10) = %d, want 2", got)
	}
	if got := circularAdd(0, 5, 10); got != 5 {
		t.Errorf("circularAdd(0, 5, 10) = %d, want 5", got)
	}
	if got := circularAdd(9, 1, 10); got != 0 {
		t.Errorf("circularAdd(9, 1, 10) = %d, want 0", got)
	}
}

func TestCircularDistance(t *testing.T) {
	if got := circularDistance(2, 5, 10); got != 3 {
		t.Errorf("circularDistance(2, 5, 10) = %d, want 3", got)
	}
	if got := circularDistance(8, 2, 10); got != 4 {
		t.Errorf("circularDistance(8, 2, 10) = %d, want 4", got)
	}
	if got := circularDistance(5, 5, 10); got != 0 {
		t.Errorf("circularDistance(5, 5, 10) = %d, want 0", got)
	}
}

func TestCircularMemcpyWraps(t *testing.T) {
	buf := []byte("0123456789")
	dst := make([]byte, 4)
	if n := circularMemcpy(dst, buf, len(buf), 8, 4); n != 4 {
		t.Fatalf("circularMemcpy returned %d, want 4", n)
	}
	if got, want := string(dst), "8901"; got != want {
		t.Fatalf("circularMemcpy wrapped copy = %q, want %q", got, want)
	}
}

func TestCircularMemcpyNoWrap(t *testing.T) {
	buf := []byte("0123456789")
	dst := make([]byte, 3)
	if n := circularMemcpy(dst, buf, len(buf), 2, 3); n != 3 {
		t.Fatalf("circularMemcpy returned %d, want 3", n)
	}
	if got, want := string(dst), "234"; got != want {
		t.Fatalf("circularMemcpy copy = %q, want %q", got, want)
	}
}

func TestCircularMemcpyIntoRoundTrip(t *testing.T) {
	buf := make([]byte, 10)
	src := []byte("wxyz")
	circularMemcpyInto(buf, len(buf), 8, src, 4)

	dst := make([]byte, 4)
	circularMemcpy(dst, buf, len(buf), 8, 4)
	if got, want := string(dst), "wxyz"; got != want {
		t.Fatalf("round trip through circularMemcpyInto/circularMemcpy = %q, want %q", got, want)
	}
}
