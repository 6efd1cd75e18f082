package pool

import "testing"

type fakeSession struct {
	closed bool
}

func (f *fakeSession) Close() { f.closed = true }

func TestPoolAddDuplicateAndCapacity(t *testing.T) {
	p := New[*fakeSession](2)

	if err := p.Add("a", &fakeSession{}); err != nil {
		t.Fatalf("Add(a) error = %v", err)
	}
	if err := p.Add("a", &fakeSession{}); err != ErrDuplicate {
		t.Fatalf("Add(a) again = %v, want ErrDuplicate", err)
	}

	if err := p.Add("b", &fakeSession{}); err != nil {
		t.Fatalf("Add(b) error = %v", err)
	}
	if err := p.Add("c", &fakeSession{}); err != ErrCapacityExceeded {
		t.Fatalf("Add(c) = %v, want ErrCapacityExceeded", err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}
}

func TestPoolGetAndRemove(t *testing.T) {
	p := New[*fakeSession](10)
	sess := &fakeSession{}
	p.Add("uid1", sess)

	got, ok := p.Get("uid1")
	if !ok || got != sess {
		t.Fatalf("Get(uid1) = %v, %v", got, ok)
	}

	p.Remove("uid1")
	if _, ok := p.Get("uid1"); ok {
		t.Fatal("expected uid1 removed")
	}
	if sess.closed {
		t.Fatal("Remove must not close the session")
	}
}

func TestPoolClearClosesAllAndEmpties(t *testing.T) {
	p := New[*fakeSession](10)
	a := &fakeSession{}
	b := &fakeSession{}
	p.Add("a", a)
	p.Add("b", b)

	p.Clear()

	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", p.Len())
	}
	if !a.closed || !b.closed {
		t.Fatal("expected both sessions closed by Clear")
	}
}

func TestPoolIterVisitsSnapshot(t *testing.T) {
	p := New[*fakeSession](10)
	p.Add("a", &fakeSession{})
	p.Add("b", &fakeSession{})

	seen := map[string]bool{}
	p.Iter(func(uid string, sess *fakeSession) {
		seen[uid] = true
	})

	if !seen["a"] || !seen["b"] {
		t.Fatalf("Iter visited %v, want both a and b", seen)
	}
}
