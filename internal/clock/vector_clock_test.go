package clock

import "testing"

func TestIncrement(t *testing.T) {
	c := NewVectorClock()
	c = Increment(c, "user1")
	if c["user1"] != 1 {
		t.Errorf("expected 1, got %d", c["user1"])
	}
	c = Increment(c, "user1")
	if c["user1"] != 2 {
		t.Errorf("expected 2, got %d", c["user1"])
	}
}

func TestIncrementNil(t *testing.T) {
	var c VectorClock
	c = Increment(c, "user1")
	if c["user1"] != 1 {
		t.Errorf("expected 1, got %d", c["user1"])
	}
}

func TestMerge(t *testing.T) {
	c1 := VectorClock{"a": 1, "b": 2}
	c2 := VectorClock{"a": 3, "c": 4}
	merged := Merge(c1, c2)
	if merged["a"] != 3 || merged["b"] != 2 || merged["c"] != 4 {
		t.Errorf("merge failed: %v", merged)
	}
}

func TestCompare(t *testing.T) {
	c1 := VectorClock{"a": 1, "b": 2}
	c2 := VectorClock{"a": 1, "b": 2}
	if Compare(c1, c2) != Equal {
		t.Error("expected Equal")
	}

	c3 := VectorClock{"a": 2, "b": 2}
	if Compare(c1, c3) != Before {
		t.Error("expected Before")
	}

	c4 := VectorClock{"a": 0, "b": 2}
	if Compare(c1, c4) != After {
		t.Error("expected After")
	}

	c5 := VectorClock{"a": 2, "b": 1}
	if Compare(c1, c5) != Concurrent {
		t.Error("expected Concurrent")
	}
}

func TestHappensBefore(t *testing.T) {
	c1 := VectorClock{"a": 1, "b": 2}
	c2 := VectorClock{"a": 1, "b": 2}
	if !HappensBefore(c1, c2) {
		t.Error("equal should happen before")
	}

	c3 := VectorClock{"a": 2, "b": 2}
	if !HappensBefore(c1, c3) {
		t.Error("before should happen before")
	}

	c4 := VectorClock{"a": 0, "b": 2}
	if HappensBefore(c1, c4) {
		t.Error("after should not happen before")
	}
}

func TestDominates(t *testing.T) {
	c1 := VectorClock{"a": 2, "b": 2}
	c2 := VectorClock{"a": 1, "b": 2}
	if !Dominates(c1, c2) {
		t.Error("c1 should dominate c2")
	}
	if Dominates(c2, c1) {
		t.Error("c2 should not dominate c1")
	}

	c3 := VectorClock{"a": 2, "b": 1}
	if Dominates(c1, c3) == Dominates(c3, c1) {
		t.Error("ordered clocks should dominate in exactly one direction")
	}
}

func TestClone(t *testing.T) {
	c := VectorClock{"a": 1, "b": 2}
	cloned := Clone(c)
	if cloned["a"] != 1 || cloned["b"] != 2 {
		t.Errorf("clone failed: %v", cloned)
	}
	cloned["a"] = 3
	if c["a"] != 1 {
		t.Error("clone should be independent")
	}
}

func TestCloneNil(t *testing.T) {
	var c VectorClock
	cloned := Clone(c)
	if cloned != nil {
		t.Error("clone of nil should be nil")
	}
}
