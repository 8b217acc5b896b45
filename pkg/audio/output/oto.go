// ABOUTME: Oto-based audio output device
// ABOUTME: Runs the realtime sink on oto's playback goroutine
package output

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
)

// Default device format used when the platform reports nothing better.
// oto accepts any rate; 48 kHz stereo matches what the decode pipeline
// targets and what most DACs run natively.
const (
	DefaultSampleRate   = 48000
	DefaultChannels     = 2
	DefaultBufferFrames = 2400 // 50ms at 48kHz
)

// Oto is a Device backed by the oto library.
type Oto struct {
	format DeviceFormat
	ctx    *oto.Context
	player *oto.Player
}

// NewOto creates an oto device with the given format. Zero fields fall back
// to defaults.
func NewOto(format DeviceFormat) *Oto {
	if format.SampleRate == 0 {
		format.SampleRate = DefaultSampleRate
	}
	if format.Channels == 0 {
		format.Channels = DefaultChannels
	}
	if format.BufferFrames == 0 {
		format.BufferFrames = DefaultBufferFrames
	}
	return &Oto{format: format}
}

// Format reports the device's native format.
func (o *Oto) Format() DeviceFormat { return o.format }

// Start initializes the device and begins pulling from the sink. Calling
// it again swaps the attached sink: the old player is closed first so two
// callbacks never pull at once.
func (o *Oto) Start(sink *Sink) error {
	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return fmt.Errorf("failed to detach oto player: %w", err)
		}
		o.player = nil
	}
	if o.ctx == nil {
		bufDur := time.Duration(o.format.BufferFrames) * time.Second / time.Duration(o.format.SampleRate)
		op := &oto.NewContextOptions{
			SampleRate:   o.format.SampleRate,
			ChannelCount: o.format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   bufDur,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan
		o.ctx = ctx

		log.Debug().
			Int("sample_rate", o.format.SampleRate).
			Int("channels", o.format.Channels).
			Int("buffer_frames", o.format.BufferFrames).
			Msg("audio output initialized")
	}

	o.player = o.ctx.NewPlayer(sink)
	o.player.Play()
	return nil
}

// Pause suspends the device callback.
func (o *Oto) Pause() error {
	if o.player != nil {
		o.player.Pause()
	}
	return nil
}

// Resume restarts a paused device.
func (o *Oto) Resume() error {
	if o.player != nil {
		o.player.Play()
	}
	return nil
}

// Close detaches the callback before the caller releases buffer memory.
func (o *Oto) Close() error {
	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return fmt.Errorf("failed to close oto player: %w", err)
		}
		o.player = nil
	}
	if o.ctx != nil {
		// oto contexts cannot be torn down; suspend so the callback stops.
		o.ctx.Suspend()
	}
	return nil
}
