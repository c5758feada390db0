package addressing

import "testing"

func TestComputeIsDeterministic(t *testing.T) {
	a := Compute([]byte(`{"a":1,"b":2}`))
	b := Compute([]byte(`{"a":1,"b":2}`))
	if a != b {
		t.Fatalf("expected identical input to hash identically, got %q vs %q", a, b)
	}
	if len(a) != IDLength {
		t.Fatalf("expected length %d, got %d (%q)", IDLength, len(a), a)
	}
}

func TestComputeDiffersOnDifferentInput(t *testing.T) {
	a := Compute([]byte(`{"a":1}`))
	b := Compute([]byte(`{"a":2}`))
	if a == b {
		t.Fatal("expected different input to hash differently")
	}
}

func TestComputeJSONMatchesCanonicalBytes(t *testing.T) {
	v := map[string]int{"x": 1}
	viaJSON, err := ComputeJSON(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if viaJSON != Compute([]byte(`{"x":1}`)) {
		t.Fatalf("ComputeJSON diverged from Compute on equivalent canonical bytes: %q", viaJSON)
	}
}

func TestValid(t *testing.T) {
	id := Compute([]byte("anything"))
	if !Valid(id) {
		t.Fatalf("expected a freshly computed id to be valid: %q", id)
	}
	if Valid("too-short") {
		t.Fatal("expected a short string to be invalid")
	}
}
