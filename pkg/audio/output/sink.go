// ABOUTME: Realtime sink pulled by the output device callback
// ABOUTME: Pops ring buffer frames with zero allocation, emitting silence on underrun
package output

import (
	"sync/atomic"

	"github.com/tonearm/tonearm/pkg/audio"
	"github.com/tonearm/tonearm/pkg/audio/ring"
)

// sinkBufFrames bounds one callback's pull. Larger device reads are served
// short; the device calls again.
const sinkBufFrames = 8192

// Sink is the realtime boundary between the ring buffer and the device. Its
// Read runs on the device's playback goroutine and must complete in bounded
// time: no allocation, no locks, no I/O. On underrun it fills silence,
// counts the event, and leaves recovery to the controller.
type Sink struct {
	ring      *ring.Buffer
	popBuf    []int32 // preallocated; Read never allocates
	volume    atomic.Int32
	muted     atomic.Bool
	underruns atomic.Uint64
	consumed  atomic.Int64 // device frames handed to the driver (silence excluded)
}

// NewSink creates a sink draining rb.
func NewSink(rb *ring.Buffer) *Sink {
	s := &Sink{
		ring:   rb,
		popBuf: make([]int32, sinkBufFrames*rb.Channels()),
	}
	s.volume.Store(100)
	return s
}

// Read fills p with 16-bit little-endian interleaved PCM. It always fills
// the requested length (short only when p exceeds the preallocated pull
// buffer), substituting silence for missing frames so the device never
// stalls on the producer.
func (s *Sink) Read(p []byte) (int, error) {
	channels := s.ring.Channels()
	bytesPerFrame := channels * 2

	frames := len(p) / bytesPerFrame
	if frames > sinkBufFrames {
		frames = sinkBufFrames
	}
	if frames == 0 {
		return 0, nil
	}

	want := frames * channels
	got := s.ring.Pop(s.popBuf[:want])

	mul := int32(s.volume.Load())
	if s.muted.Load() {
		mul = 0
	}

	for i := 0; i < got; i++ {
		// Volume in integer math: scale the 24-bit sample, then narrow.
		scaled := int64(s.popBuf[i]) * int64(mul) / 100
		s16 := audio.SampleToInt16(int32(scaled))
		p[i*2] = byte(s16)
		p[i*2+1] = byte(uint16(s16) >> 8)
	}
	for i := got * 2; i < want*2; i++ {
		p[i] = 0
	}

	if got < want {
		s.underruns.Add(1)
	}
	s.consumed.Add(int64(got / channels))

	return want * 2, nil
}

// Underruns returns the number of callback pulls that ran short.
func (s *Sink) Underruns() uint64 {
	return s.underruns.Load()
}

// Consumed returns the total device frames actually played (silence from
// underruns excluded). The controller derives the playback position from it.
func (s *Sink) Consumed() int64 {
	return s.consumed.Load()
}

// ResetConsumed rebases the consumed counter, used on seek.
func (s *Sink) ResetConsumed(frames int64) {
	s.consumed.Store(frames)
}

// SetVolume sets playback volume (0-100, clamped).
func (s *Sink) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	s.volume.Store(int32(volume))
}

// Volume returns the current volume.
func (s *Sink) Volume() int {
	return int(s.volume.Load())
}

// SetMuted sets the mute state.
func (s *Sink) SetMuted(muted bool) {
	s.muted.Store(muted)
}

// Muted returns the mute state.
func (s *Sink) Muted() bool {
	return s.muted.Load()
}
