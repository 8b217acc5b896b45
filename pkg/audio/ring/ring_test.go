// ABOUTME: Tests for the lock-free ring buffer
// ABOUTME: Covers wraparound, partial accept, flush ordering, and concurrent access
package ring

import (
	"sync"
	"testing"
)

func seq(start, n int) []int32 {
	s := make([]int32, n)
	for i := range s {
		s[i] = int32(start + i)
	}
	return s
}

func TestPushPop(t *testing.T) {
	b := New(512, 2)

	in := seq(0, 10)
	if got := b.Push(in); got != 10 {
		t.Fatalf("Push = %d, want 10", got)
	}
	if got := b.Buffered(); got != 5 {
		t.Fatalf("Buffered = %d frames, want 5", got)
	}

	out := make([]int32, 10)
	if got := b.Pop(out); got != 10 {
		t.Fatalf("Pop = %d, want 10", got)
	}
	for i := range out {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
	if b.Buffered() != 0 {
		t.Error("buffer should be empty after full pop")
	}
}

func TestPopUnderrun(t *testing.T) {
	b := New(64, 2)
	out := make([]int32, 8)
	if got := b.Pop(out); got != 0 {
		t.Errorf("Pop on empty ring = %d, want 0", got)
	}
}

func TestPushPartialAcceptWhenFull(t *testing.T) {
	b := New(4, 2) // 8 samples

	if got := b.Push(seq(0, 6)); got != 6 {
		t.Fatalf("Push = %d, want 6", got)
	}
	// Only one frame of space left
	if got := b.Push(seq(6, 6)); got != 2 {
		t.Fatalf("Push into nearly-full ring = %d, want 2", got)
	}
	if got := b.Push(seq(8, 2)); got != 0 {
		t.Fatalf("Push into full ring = %d, want 0", got)
	}
}

func TestPushWholeFramesOnly(t *testing.T) {
	b := New(16, 2)
	// 5 samples is 2.5 stereo frames; the odd sample must be rejected
	if got := b.Push(seq(0, 5)); got != 4 {
		t.Errorf("Push = %d, want 4 (whole frames)", got)
	}
}

func TestWraparound(t *testing.T) {
	b := New(4, 2) // 8 samples

	if got := b.Push(seq(0, 6)); got != 6 {
		t.Fatal("first push failed")
	}
	out := make([]int32, 4)
	if got := b.Pop(out); got != 4 {
		t.Fatal("first pop failed")
	}
	// This write wraps the physical buffer
	if got := b.Push(seq(6, 6)); got != 6 {
		t.Fatal("wrapping push failed")
	}

	rest := make([]int32, 8)
	if got := b.Pop(rest); got != 8 {
		t.Fatalf("Pop = %d, want 8", got)
	}
	for i, want := range seq(4, 8) {
		if rest[i] != want {
			t.Fatalf("rest[%d] = %d, want %d", i, rest[i], want)
		}
	}
}

func TestFlushDiscardsEverything(t *testing.T) {
	b := New(64, 2)
	b.Push(seq(0, 20))
	b.Flush()

	if b.Buffered() != 0 {
		t.Fatal("buffer not empty after flush")
	}
	out := make([]int32, 4)
	if got := b.Pop(out); got != 0 {
		t.Errorf("Pop after flush = %d, want 0", got)
	}

	// Samples pushed after the flush flow through normally
	b.Push(seq(100, 4))
	if got := b.Pop(out); got != 4 || out[0] != 100 {
		t.Errorf("post-flush pop = %d, out[0] = %d", got, out[0])
	}
}

// A pop racing a flush must never surface pre-flush samples after the flush
// has returned. Pre-flush samples are all negative, post-flush all positive,
// so any negative value popped after the flush epoch is a violation.
func TestFlushPopRace(t *testing.T) {
	b := New(256, 1)

	var mu sync.Mutex
	flushed := false

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			neg := make([]int32, 16)
			for j := range neg {
				neg[j] = -1
			}
			b.Push(neg)

			mu.Lock()
			b.Flush()
			flushed = true
			mu.Unlock()

			pos := make([]int32, 16)
			for j := range pos {
				pos[j] = 1
			}
			b.Push(pos)

			mu.Lock()
			flushed = false
			b.Flush()
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		out := make([]int32, 16)
		for i := 0; i < 5000; i++ {
			mu.Lock()
			afterFlush := flushed
			n := 0
			if afterFlush {
				// Pop strictly after the flush completed: only post-flush
				// samples are legal.
				n = b.Pop(out)
			}
			mu.Unlock()
			for j := 0; j < n; j++ {
				if out[j] < 0 {
					t.Error("popped pre-flush sample after flush")
					return
				}
			}
		}
	}()

	wg.Wait()
}

func TestConcurrentPushPop(t *testing.T) {
	b := New(1024, 2)
	const total = 100000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		sent := 0
		chunk := seq(0, 128)
		for sent < total {
			n := b.Push(chunk)
			sent += n
		}
	}()

	var received int
	go func() {
		defer wg.Done()
		out := make([]int32, 128)
		for received < total {
			received += b.Pop(out)
		}
	}()

	wg.Wait()
	if received < total {
		t.Errorf("received %d samples, want at least %d", received, total)
	}
}

func TestCapacityRounding(t *testing.T) {
	b := New(100, 2) // 200 samples -> 256
	if got := b.Capacity(); got != 128 {
		t.Errorf("Capacity = %d frames, want 128", got)
	}
}
