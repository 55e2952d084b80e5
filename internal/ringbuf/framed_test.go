package ringbuf

import "testing"

func TestFramed_PutGetDrop(t *testing.T) {
	t.Parallel()
	r := NewFramed(1024)

	f1 := &Frame{Bytes: make([]byte, 100), Length: 100, Index: 1}
	f2 := &Frame{Bytes: make([]byte, 100), Length: 100, Index: 2}

	if !r.Put(f1) {
		t.Fatal("Put f1 failed")
	}
	if !r.Put(f2) {
		t.Fatal("Put f2 failed")
	}

	got := r.Get()
	if got != f1 {
		t.Fatalf("Get should return oldest frame first")
	}
	r.Drop(got)

	got = r.Get()
	if got != f2 {
		t.Fatalf("Get should now return f2")
	}
	r.Drop(got)

	if r.Get() != nil {
		t.Fatalf("expected empty ring")
	}
}

func TestFramed_PutFalseWhenFull(t *testing.T) {
	t.Parallel()
	r := NewFramed(150)

	f1 := &Frame{Bytes: make([]byte, 100), Length: 100, Index: 1}
	f2 := &Frame{Bytes: make([]byte, 100), Length: 100, Index: 2}

	if !r.Put(f1) {
		t.Fatal("Put f1 should succeed (ring empty)")
	}
	if r.Put(f2) {
		t.Fatal("Put f2 should fail: exceeds capacity")
	}

	r.Drop(r.Get())
	if !r.Put(f2) {
		t.Fatal("Put f2 should succeed after drain")
	}
}

func TestFramed_Clear(t *testing.T) {
	t.Parallel()
	r := NewFramed(1024)
	r.Put(&Frame{Bytes: make([]byte, 10), Length: 10})
	r.Put(&Frame{Bytes: make([]byte, 10), Length: 10})
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected empty after Clear, got %d", r.Len())
	}
}

func TestFrame_ValidInvariant(t *testing.T) {
	t.Parallel()
	f := &Frame{Independent: true, Index: -1}
	if f.Valid() {
		t.Fatal("independent frame with negative index should be invalid")
	}
	f.Index = 5
	if !f.Valid() {
		t.Fatal("independent frame with valid index should be valid")
	}
}
