package nvwal

import "testing"

func TestAfter(t *testing.T) {
	cases := []struct {
		a, b Epoch
		want bool
	}{
		{5, 3, true},
		{3, 5, false},
		{5, 5, false},
		{0, ^Epoch(0), true},           // wraparound: 0 comes after max uint64
		{^Epoch(0), 0, false},
		{1, 0, true},
	}
	for _, c := range cases {
		if got := after(c.a, c.b); got != c.want {
			t.Errorf("after(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestIncrementSkipsInvalidEpoch(t *testing.T) {
	if got := increment(^Epoch(0)); got != 1 {
		t.Fatalf("increment(max) = %d, want 1 (skipping InvalidEpoch)", got)
	}
	if got := increment(Epoch(41)); got != 42 {
		t.Fatalf("increment(41) = %d, want 42", got)
	}
}

func TestEpochLessOrEqual(t *testing.T) {
	if !epochLessOrEqual(3, 3) {
		t.Error("epochLessOrEqual(3, 3) should be true")
	}
	if !epochLessOrEqual(2, 3) {
		t.Error("epochLessOrEqual(2, 3) should be true")
	}
	if epochLessOrEqual(3, 2) {
		t.Error("epochLessOrEqual(3, 2) should be false")
	}
}

func TestEpochStringIsDecimal(t *testing.T) {
	if got, want := Epoch(42).String(), "42"; got != want {
		t.Fatalf("Epoch(42).String() = %q, want %q", got, want)
	}
}
