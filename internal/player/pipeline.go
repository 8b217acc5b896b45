// ABOUTME: The decode/resample worker feeding the ring buffer
// ABOUTME: One pipeline per playback segment; seek tears down and rebuilds
package player

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonearm/tonearm/internal/fetch"
	"github.com/tonearm/tonearm/pkg/audio"
	"github.com/tonearm/tonearm/pkg/audio/decode"
	"github.com/tonearm/tonearm/pkg/audio/output"
	"github.com/tonearm/tonearm/pkg/audio/resample"
	"github.com/tonearm/tonearm/pkg/audio/ring"
	"github.com/tonearm/tonearm/pkg/media"
)

// pushBackoff is how long the producer parks when the ring is full.
const pushBackoff = 5 * time.Millisecond

// Source is the byte stream a pipeline decodes from. The fetch layer
// provides one backed by the range cache.
type Source interface {
	io.ReadSeeker
	io.Closer
}

// OpenFunc opens a source for a resolved stream.
type OpenFunc func(ctx context.Context, trackID string, desc media.StreamDescriptor) (Source, error)

// ResolveFunc looks a track up in the catalog.
type ResolveFunc func(ctx context.Context, trackID string) (media.Track, media.StreamDescriptor, error)

// DecoderFactory builds a decoder for a codec. The default is
// decode.New; tests substitute raw PCM decoders.
type DecoderFactory func(codec media.Codec, src io.ReadSeeker) (decode.Decoder, error)

// pipeline is the producer side of one playback segment: it pulls
// frames from the decoder, conforms them to the device format, and
// pushes them into the ring, parking briefly on backpressure. It never
// touches the device or the sink.
type pipeline struct {
	dec    decode.Decoder
	rs     *resample.Resampler
	ring   *ring.Buffer
	devFmt output.DeviceFormat
	srcFmt audio.Format

	cancel context.CancelFunc
	done   chan struct{}
	err    error
	eof    atomic.Bool
}

func newPipeline(dec decode.Decoder, rs *resample.Resampler, rb *ring.Buffer, devFmt output.DeviceFormat) *pipeline {
	return &pipeline{
		dec:    dec,
		rs:     rs,
		ring:   rb,
		devFmt: devFmt,
		srcFmt: dec.Format(),
		done:   make(chan struct{}),
	}
}

// start launches the decode worker. err is valid once done is closed.
func (p *pipeline) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.decodeLoop(ctx) })

	go func() {
		p.err = g.Wait()
		if errors.Is(p.err, context.Canceled) {
			p.err = nil
		}
		close(p.done)
	}()
}

// stop cancels the worker and waits for it to park.
func (p *pipeline) stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// drained reports that the decoder hit end of stream and the ring has
// been fully consumed: the track is over.
func (p *pipeline) drained() bool {
	return p.eof.Load() && p.ring.Buffered() == 0
}

func (p *pipeline) decodeLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, err := p.dec.Decode()
		if err == io.EOF {
			p.eof.Store(true)
			return nil
		}
		if err != nil {
			return classifyDecodeError(err)
		}

		samples := remapChannels(frame.Samples, p.srcFmt.Channels, p.devFmt.Channels)
		samples = p.rs.Resample(samples)
		if err := p.push(ctx, samples); err != nil {
			return err
		}
	}
}

// push feeds the ring, parking on backpressure until space opens or the
// segment is cancelled. The consumer is never blocked.
func (p *pipeline) push(ctx context.Context, samples []int32) error {
	for len(samples) > 0 {
		n := p.ring.Push(samples)
		samples = samples[n:]
		if len(samples) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pushBackoff):
		}
	}
	return nil
}

// classifyDecodeError keeps the transport classification when the
// failure came from the byte source, and marks everything else as a
// fatal codec error: corrupted audio is never emitted or skipped over.
func classifyDecodeError(err error) error {
	if _, ok := media.KindOf(err); ok {
		return err
	}
	if errors.Is(err, fetch.ErrPartial) {
		return media.NewError(media.KindNetwork, err)
	}
	return media.NewError(media.KindDecodeFatal, err)
}

// remapChannels conforms interleaved samples from src channels to dst.
// Mono fans out to every output channel; extra source channels fold
// down by average when the target is mono and are dropped otherwise.
func remapChannels(samples []int32, src, dst int) []int32 {
	if src == dst || src < 1 || dst < 1 {
		return samples
	}

	frames := len(samples) / src
	out := make([]int32, frames*dst)
	for f := 0; f < frames; f++ {
		in := samples[f*src : f*src+src]
		switch {
		case dst == 1:
			var sum int64
			for _, s := range in {
				sum += int64(s)
			}
			out[f] = int32(sum / int64(src))
		case src == 1:
			for c := 0; c < dst; c++ {
				out[f*dst+c] = in[0]
			}
		default:
			for c := 0; c < dst; c++ {
				if c < src {
					out[f*dst+c] = in[c]
				} else {
					out[f*dst+c] = in[src-1]
				}
			}
		}
	}
	return out
}
