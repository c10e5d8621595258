package util

import (
	"sync"
	"testing"
	"time"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 100; i++ {
		if !q.Push(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	q.Close()

	i := 0
	for v := range q.Recv() {
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
		i++
	}
	if i != 100 {
		t.Fatalf("expected 100 values, got %d", i)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")
	q.Close()

	if !q.IsClosed() {
		t.Fatalf("queue must be closed")
	}
	if q.Push("b") {
		t.Fatalf("push after close must fail")
	}

	// buffered values are still delivered, then the channel closes
	select {
	case v, ok := <-q.Recv():
		if !ok || v != "a" {
			t.Fatalf("expected a, got %q %v", v, ok)
		}
	case <-time.After(time.Second):
		t.Fatalf("value not delivered")
	}
	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Fatalf("channel must be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 1000
	q := NewQueue[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	done := make(chan map[int]bool)
	go func() {
		seen := make(map[int]bool)
		for v := range q.Recv() {
			seen[v] = true
		}
		done <- seen
	}()

	wg.Wait()
	q.Close()

	select {
	case seen := <-done:
		if len(seen) != producers*perProducer {
			t.Fatalf("expected %d distinct values, got %d", producers*perProducer, len(seen))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not finish")
	}
}

func TestQueueProducersDoNotBlock(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	// nobody reads, pushes must still return
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(i)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("push blocked without a consumer")
	}
}

func BenchmarkQueuePush(b *testing.B) {
	q := NewQueue[int]()
	go func() {
		for range q.Recv() {
		}
	}()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
	b.StopTimer()
	q.Close()
}
