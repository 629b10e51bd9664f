package list

import "testing"

func TestAppendOrderPreserved(t *testing.T) {
	l := New[int]()
	for i := 0; i < 5; i++ {
		l.Append(i)
	}
	var got []int
	l.Each(func(v int) { got = append(got, v) })
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d = %d, want %d", i, v, i)
		}
	}
}

func TestBestTiebreakIsInsertionOrder(t *testing.T) {
	type route struct {
		name    string
		netmask int
		matches bool
	}
	l := New[route]()
	l.Append(route{"first", 24, true})
	l.Append(route{"second", 24, true})
	l.Append(route{"default", 0, true})

	best, ok := l.Best(func(r route) (int, bool) { return r.netmask, r.matches })
	if !ok || best.name != "first" {
		t.Fatalf("Best = %+v, ok=%v, want {first ...}", best, ok)
	}
}

func TestBestSkipsNonMatching(t *testing.T) {
	l := New[int]()
	l.Append(1)
	l.Append(2)
	_, ok := l.Best(func(int) (int, bool) { return 0, false })
	if ok {
		t.Fatal("Best with no matches should return ok=false")
	}
}
