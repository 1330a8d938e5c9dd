package registry

import (
	"sync"
	"testing"
)

func TestThreadInitIsIdempotentWithinGoroutine(t *testing.T) {
	r := New()
	a := r.ThreadInit()
	b := r.ThreadInit()
	if a != b {
		t.Fatal("ThreadInit returned different engines for the same goroutine")
	}
}

func TestThreadInitGivesDistinctEnginesPerGoroutine(t *testing.T) {
	r := New()
	const n = 16
	engines := make([]uintptrLike, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			engines[i] = uintptrLike(r.ThreadInit().ID())
		}(i)
	}
	wg.Wait()

	seen := map[uintptrLike]bool{}
	for _, id := range engines {
		if seen[id] {
			t.Fatalf("duplicate engine id %d handed to two goroutines", id)
		}
		seen[id] = true
	}
}

type uintptrLike = uint32

func TestCurrentBeforeThreadInit(t *testing.T) {
	r := New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := r.Current(); ok {
			t.Error("Current() reported an engine before ThreadInit was ever called on this goroutine")
		}
	}()
	<-done
}

func TestLookupResolvesEngineByID(t *testing.T) {
	r := New()
	e := r.ThreadInit()

	found, ok := r.Lookup(e.ID())
	if !ok {
		t.Fatal("Lookup failed to find a freshly registered engine")
	}
	if found != e.CM() {
		t.Fatal("Lookup returned the wrong manager")
	}

	if _, ok := r.Lookup(e.ID() + 1000); ok {
		t.Fatal("Lookup found a manager for an id that was never assigned")
	}
}

func TestForgetRemovesGoroutineAndEngineID(t *testing.T) {
	r := New()
	e := r.ThreadInit()
	id := e.ID()

	r.Forget()

	if _, ok := r.Current(); ok {
		t.Fatal("Current() still found an engine after Forget")
	}
	if _, ok := r.Lookup(id); ok {
		t.Fatal("Lookup still resolved the engine id after Forget")
	}
}
