// ABOUTME: Stateful linear resampler for sample rate conversion
// ABOUTME: Carries phase and the boundary frame across chunks to avoid seam artifacts
package resample

// Resampler converts interleaved PCM between sample rates using linear
// interpolation. It is stateful: the last input frame and the fractional
// read position survive across Resample calls, so feeding a stream in
// arbitrary chunk sizes produces the same samples as feeding it whole.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64 // input frames consumed per output frame

	phase  float64 // fractional position past the carried frame
	prev   []int32 // last input frame of the previous chunk
	primed bool
}

// New creates a resampler from inputRate to outputRate for interleaved
// audio with the given channel count.
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		prev:       make([]int32, channels),
	}
}

// Passthrough reports whether no rate conversion is needed.
func (r *Resampler) Passthrough() bool {
	return r.inputRate == r.outputRate
}

// Resample converts one chunk of interleaved input samples and returns the
// produced output samples. The output length varies chunk to chunk as the
// fractional position drifts.
func (r *Resampler) Resample(input []int32) []int32 {
	if len(input) == 0 {
		return nil
	}
	if r.Passthrough() {
		out := make([]int32, len(input))
		copy(out, input)
		return out
	}

	ch := r.channels
	chunkFrames := len(input) / ch

	// Assemble the virtual input: the carried boundary frame (when primed)
	// followed by this chunk.
	frames := chunkFrames
	if r.primed {
		frames++
	}
	if frames < 2 {
		// Not enough to interpolate; carry and wait for more.
		r.carry(input, chunkFrames)
		return nil
	}

	frameAt := func(idx int, c int) int32 {
		if r.primed {
			if idx == 0 {
				return r.prev[c]
			}
			idx--
		}
		return input[idx*ch+c]
	}

	estimate := int(float64(frames)/r.ratio) + 2
	out := make([]int32, 0, estimate*ch)

	pos := r.phase
	for int(pos)+1 < frames {
		idx := int(pos)
		frac := pos - float64(idx)
		for c := 0; c < ch; c++ {
			s1 := float64(frameAt(idx, c))
			s2 := float64(frameAt(idx+1, c))
			out = append(out, int32(s1*(1.0-frac)+s2*frac))
		}
		pos += r.ratio
	}

	// Everything up to the final frame is consumed; keep that frame and the
	// leftover fraction for the next chunk.
	r.phase = pos - float64(frames-1)
	r.carry(input, chunkFrames)

	return out
}

func (r *Resampler) carry(input []int32, chunkFrames int) {
	if chunkFrames == 0 {
		return
	}
	copy(r.prev, input[(chunkFrames-1)*r.channels:])
	r.primed = true
}

// Reset clears interpolation state. Call on seek so the first output after a
// discontinuity does not blend with pre-seek samples.
func (r *Resampler) Reset() {
	r.phase = 0
	r.primed = false
	for i := range r.prev {
		r.prev[i] = 0
	}
}

// Rates returns the configured input and output rates.
func (r *Resampler) Rates() (in, out int) {
	return r.inputRate, r.outputRate
}

// OutputFrames estimates how many output frames a span of input frames
// produces, used for buffer sizing.
func (r *Resampler) OutputFrames(inputFrames int) int {
	return int(float64(inputFrames) / r.ratio)
}
