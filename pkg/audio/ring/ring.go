// ABOUTME: Lock-free ring buffer for decoded audio
// ABOUTME: Decouples the decode/resample producer from the realtime output callback
package ring

import (
	"sync/atomic"
)

// Buffer is a bounded single-producer, single-consumer ring over interleaved
// int32 PCM samples, counted in whole frames. It is designed for the hot
// path between the decode worker and the audio callback: no locks, no
// allocation after construction.
//
// Positions are free-running uint64 counters; the masked difference gives
// occupancy. Flush linearizes against Pop through a CAS on the read cursor,
// so a Pop that begins after Flush returns can never observe samples pushed
// before the flush.
type Buffer struct {
	buf      []int32
	mask     uint64
	channels int

	readPos  atomic.Uint64 // in samples
	writePos atomic.Uint64 // in samples
}

// New creates a ring holding capacityFrames frames of the given channel
// count. The sample capacity is rounded up to a power of two.
func New(capacityFrames, channels int) *Buffer {
	if capacityFrames < 1 {
		capacityFrames = 1
	}
	if channels < 1 {
		channels = 1
	}
	samples := nextPow2(uint64(capacityFrames * channels))
	return &Buffer{
		buf:      make([]int32, samples),
		mask:     samples - 1,
		channels: channels,
	}
}

func nextPow2(v uint64) uint64 {
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}

// Capacity returns the buffer capacity in frames.
func (b *Buffer) Capacity() int {
	return len(b.buf) / b.channels
}

// Channels returns the interleaved channel count.
func (b *Buffer) Channels() int { return b.channels }

// Buffered returns the number of frames available to pop.
func (b *Buffer) Buffered() int {
	w := b.writePos.Load()
	r := b.readPos.Load()
	return int(w-r) / b.channels
}

// Free returns the number of frames the producer can currently push.
func (b *Buffer) Free() int {
	return b.Capacity() - b.Buffered()
}

// Push appends whole frames from the interleaved samples slice and returns
// the number of samples accepted. When the ring is full it accepts a prefix
// (possibly zero samples); the producer backs off and retries, it must never
// spin-wait while holding anything the consumer needs. Producer side only.
func (b *Buffer) Push(samples []int32) int {
	w := b.writePos.Load()
	r := b.readPos.Load()

	free := len(b.buf) - int(w-r)
	n := len(samples)
	if n > free {
		n = free
	}
	n -= n % b.channels // whole frames only
	if n <= 0 {
		return 0
	}

	start := int(w & b.mask)
	first := len(b.buf) - start
	if first > n {
		first = n
	}
	copy(b.buf[start:start+first], samples[:first])
	copy(b.buf[:n-first], samples[first:n])

	b.writePos.Store(w + uint64(n))
	return n
}

// Pop fills dst with buffered samples and returns the number copied, always
// a whole number of frames. Zero means underrun. Consumer side only; safe
// against a concurrent Flush.
func (b *Buffer) Pop(dst []int32) int {
	for {
		r := b.readPos.Load()
		w := b.writePos.Load()

		avail := int(w - r)
		n := len(dst)
		if n > avail {
			n = avail
		}
		n -= n % b.channels
		if n <= 0 {
			return 0
		}

		start := int(r & b.mask)
		first := len(b.buf) - start
		if first > n {
			first = n
		}
		copy(dst[:first], b.buf[start:start+first])
		copy(dst[first:n], b.buf[:n-first])

		// A Flush between the load and here moved the cursor; the copied
		// samples are stale, discard them and retry against the new cursor.
		if b.readPos.CompareAndSwap(r, r+uint64(n)) {
			return n
		}
	}
}

// Flush atomically discards everything buffered. Any Pop that starts after
// Flush returns observes only samples pushed after it. Used on seek and
// track change so stale audio never reaches the device.
func (b *Buffer) Flush() {
	for {
		w := b.writePos.Load()
		r := b.readPos.Load()
		if r == w || b.readPos.CompareAndSwap(r, w) {
			return
		}
	}
}
