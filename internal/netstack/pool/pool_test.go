package pool

import "testing"

func TestAllocReleaseReuse(t *testing.T) {
	p := New[int](2)

	a, err := p.Alloc(1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Alloc(2)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("Alloc returned duplicate handle %d", a)
	}

	if _, err := p.Alloc(3); err != ErrExhausted {
		t.Fatalf("Alloc on full pool = %v, want ErrExhausted", err)
	}

	p.Release(a)
	c, err := p.Alloc(4)
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Fatalf("Alloc after Release = %d, want reused handle %d", c, a)
	}
}

func TestGetAfterRelease(t *testing.T) {
	p := New[string](1)
	h, _ := p.Alloc("x")
	p.Release(h)
	if _, ok := p.Get(h); ok {
		t.Fatal("Get after Release should report !ok")
	}
}

func TestMutate(t *testing.T) {
	p := New[int](1)
	h, _ := p.Alloc(1)
	if err := p.Mutate(h, func(v int) int { return v + 41 }); err != nil {
		t.Fatal(err)
	}
	v, _ := p.Get(h)
	if v != 42 {
		t.Fatalf("Mutate result = %d, want 42", v)
	}
}
