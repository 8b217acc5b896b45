// ABOUTME: Playback session state machine
// ABOUTME: Orchestrates resolve, fetch, decode, and the output device
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tonearm/tonearm/pkg/audio/decode"
	"github.com/tonearm/tonearm/pkg/audio/output"
	"github.com/tonearm/tonearm/pkg/audio/resample"
	"github.com/tonearm/tonearm/pkg/audio/ring"
	"github.com/tonearm/tonearm/pkg/media"
)

const (
	// tickInterval drives buffering checks, underrun detection, and
	// end-of-track detection.
	tickInterval = 20 * time.Millisecond

	// ringSeconds sizes the ring buffer in device-rate audio.
	ringSeconds = 2

	defaultMinBuffer  = 200 * time.Millisecond
	defaultMaxRetries = 3
	defaultRetryBase  = 500 * time.Millisecond
)

// Config wires a controller to its collaborators.
type Config struct {
	Resolve ResolveFunc
	Open    OpenFunc
	Device  output.Device

	// NewDecoder defaults to decode.New.
	NewDecoder DecoderFactory

	// MinBuffer is how much audio must be queued before Buffering
	// yields to Playing.
	MinBuffer time.Duration

	// MaxRetries bounds retry attempts for transient errors within one
	// session. RetryBase is the first backoff step; it doubles per
	// attempt unless the upstream supplied its own delay.
	MaxRetries int
	RetryBase  time.Duration

	Volume int

	// OnChange, when set, is called from the controller goroutine on
	// every state transition. It must not block.
	OnChange func(Status)
}

// Status is the observable session snapshot the UI layer reads.
type Status struct {
	State    State
	Track    media.Track
	Position time.Duration
	Duration time.Duration
	Err      error
}

// session is one track's playback attempt. Replaced wholesale on track
// change; Ended and Failed are terminal for it.
type session struct {
	id      string
	track   media.Track
	desc    media.StreamDescriptor
	src     Source
	dec     decode.Decoder
	rs      *resample.Resampler
	pipe    *pipeline
	retries int
	// pipeDead is set once a pipeline failure has been handled, so the
	// tick loop doesn't re-handle it while a retry is pending.
	pipeDead bool
	// lastUnderruns is the sink counter value already accounted for.
	lastUnderruns uint64

	// busy marks dec and src as borrowed by a seek/rebuild goroutine.
	// While set, nothing else may touch or close them.
	busy bool
	// detached is set by teardown when it could not close dec and src
	// because a borrower held them; the borrower closes them instead.
	detached bool
	// pending coalesces a seek issued while a borrower is in flight.
	pending *pendingSeek
}

type pendingSeek struct {
	pos    time.Duration
	paused bool
}

// Controller owns the playback pipeline. All mutation happens on its
// run goroutine; public methods post commands to it.
type Controller struct {
	cfg    Config
	devFmt output.DeviceFormat
	ring   *ring.Buffer
	sink   *output.Sink

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	closed chan struct{}

	// gen invalidates async resolve/rebuild results from older sessions.
	gen uint64

	sess  *session
	queue []media.Track

	statusMu sync.Mutex
	status   Status
}

// New builds a controller, attaches the realtime sink to the device,
// and starts the command loop.
func New(cfg Config) (*Controller, error) {
	if cfg.Resolve == nil || cfg.Open == nil || cfg.Device == nil {
		return nil, errors.New("player: Resolve, Open and Device are required")
	}
	if cfg.NewDecoder == nil {
		cfg.NewDecoder = decode.New
	}
	if cfg.MinBuffer <= 0 {
		cfg.MinBuffer = defaultMinBuffer
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}

	devFmt := cfg.Device.Format()
	rb := ring.New(devFmt.SampleRate*ringSeconds, devFmt.Channels)
	sink := output.NewSink(rb)
	sink.SetVolume(cfg.Volume)

	if err := cfg.Device.Start(sink); err != nil {
		return nil, fmt.Errorf("player: device start: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg,
		devFmt: devFmt,
		ring:   rb,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		cmds:   make(chan func(), 16),
		closed: make(chan struct{}),
		status: Status{State: StateIdle},
	}
	go c.run()
	return c, nil
}

// Close tears the session down and releases the device. The realtime
// callback is detached before the ring buffer goes away.
func (c *Controller) Close() error {
	c.cancel()
	<-c.closed
	return c.cfg.Device.Close()
}

// Play starts a fresh session for the track, replacing any current one.
func (c *Controller) Play(track media.Track) { c.post(func() { c.play(track) }) }

// Pause suspends the device callback; position holds.
func (c *Controller) Pause() { c.post(c.pause) }

// Resume restarts a paused session.
func (c *Controller) Resume() { c.post(c.resume) }

// Seek jumps to a position in the current track.
func (c *Controller) Seek(pos time.Duration) { c.post(func() { c.seek(pos) }) }

// Stop ends the session and returns to Idle.
func (c *Controller) Stop() { c.post(c.stop) }

// Enqueue appends a track to play after the current one ends.
func (c *Controller) Enqueue(track media.Track) {
	c.post(func() { c.queue = append(c.queue, track) })
}

// SetVolume adjusts output volume, 0 to 100.
func (c *Controller) SetVolume(volume int) {
	c.post(func() { c.sink.SetVolume(volume) })
}

// Status returns the current session snapshot.
func (c *Controller) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	s := c.status
	s.Position = c.positionLocked()
	return s
}

// BufferFill reports the ring buffer's fill level as a fraction of its
// capacity. Safe to call from any goroutine.
func (c *Controller) BufferFill() float64 {
	c.statusMu.Lock()
	rb := c.ring
	c.statusMu.Unlock()
	return float64(rb.Buffered()) / float64(rb.Capacity())
}

// positionLocked derives the frame-accurate position from the sink's
// consumed-frame counter. Callers hold statusMu.
func (c *Controller) positionLocked() time.Duration {
	if c.status.State == StateIdle {
		return 0
	}
	frames := c.sink.Consumed()
	return time.Duration(frames) * time.Second / time.Duration(c.devFmt.SampleRate)
}

func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Controller) run() {
	defer close(c.closed)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return
		case fn := <-c.cmds:
			fn()
		case <-ticker.C:
			c.tick()
		}
	}
}

// setState publishes a transition.
func (c *Controller) setState(s State) {
	c.statusMu.Lock()
	if c.status.State == s {
		c.statusMu.Unlock()
		return
	}
	log.Debug().Stringer("from", c.status.State).Stringer("to", s).Msg("Playback state")
	c.status.State = s
	snap := c.status
	snap.Position = c.positionLocked()
	c.statusMu.Unlock()

	if c.cfg.OnChange != nil {
		c.cfg.OnChange(snap)
	}
}

func (c *Controller) setStatus(mut func(*Status)) {
	c.statusMu.Lock()
	mut(&c.status)
	c.statusMu.Unlock()
}

// play starts the resolve → open → decode chain for a track. The slow
// parts run off the command loop; their results post back tagged with
// a generation number so a stale attach never lands on a newer session.
func (c *Controller) play(track media.Track) {
	c.teardown()
	c.gen++
	gen := c.gen

	c.sink.ResetConsumed(0)
	c.setStatus(func(s *Status) {
		s.Track = track
		s.Duration = track.Duration
		s.Err = nil
	})
	c.setState(StateResolving)

	go func() {
		resolved, desc, err := c.resolveWithRetry(track.ID)
		if err != nil {
			c.post(func() { c.failIfCurrent(gen, err) })
			return
		}
		if resolved.Title != "" {
			track = resolved
		}

		src, err := c.cfg.Open(c.ctx, track.ID, desc)
		if err != nil {
			c.post(func() { c.failIfCurrent(gen, err) })
			return
		}

		dec, err := c.cfg.NewDecoder(desc.Codec, src)
		if err != nil {
			src.Close()
			c.post(func() { c.failIfCurrent(gen, media.NewError(media.KindDecodeFatal, err)) })
			return
		}

		c.post(func() { c.attach(gen, track, desc, src, dec) })
	}()
}

// resolveWithRetry retries transient catalog failures with bounded
// exponential backoff, honoring upstream Retry-After hints.
func (c *Controller) resolveWithRetry(trackID string) (media.Track, media.StreamDescriptor, error) {
	var (
		track media.Track
		desc  media.StreamDescriptor
		err   error
	)
	for attempt := 0; ; attempt++ {
		track, desc, err = c.cfg.Resolve(c.ctx, trackID)
		if err == nil || !media.IsRetryable(err) || attempt >= c.cfg.MaxRetries {
			return track, desc, err
		}

		delay := c.cfg.RetryBase << attempt
		var perr *media.PlaybackError
		if errors.As(err, &perr) && perr.RetryAfter > 0 {
			delay = perr.RetryAfter
		}
		log.Warn().Err(err).Str("track", trackID).Dur("backoff", delay).Msg("Resolve failed, retrying")

		select {
		case <-c.ctx.Done():
			return track, desc, err
		case <-time.After(delay):
		}
	}
}

// attach installs a freshly built session and starts buffering.
func (c *Controller) attach(gen uint64, track media.Track, desc media.StreamDescriptor, src Source, dec decode.Decoder) {
	if gen != c.gen {
		dec.Close()
		src.Close()
		return
	}

	srcFmt := dec.Format()
	rs := resample.New(srcFmt.SampleRate, c.devFmt.SampleRate, c.devFmt.Channels)

	c.sess = &session{
		id:    uuid.New().String(),
		track: track,
		desc:  desc,
		src:   src,
		dec:   dec,
		rs:    rs,
	}
	c.sess.pipe = newPipeline(dec, rs, c.ring, c.devFmt)
	c.sess.pipe.start(c.ctx)

	c.setStatus(func(s *Status) {
		s.Track = track
		if track.Duration > 0 {
			s.Duration = track.Duration
		}
	})
	c.setState(StateBuffering)

	log.Info().
		Str("session", c.sess.id).
		Str("track", track.ID).
		Str("codec", string(desc.Codec)).
		Msg("Session started")
}

func (c *Controller) pause() {
	if c.state() != StatePlaying {
		return
	}
	if err := c.cfg.Device.Pause(); err != nil {
		log.Warn().Err(err).Msg("Device pause failed")
	}
	c.setState(StatePaused)
}

func (c *Controller) resume() {
	if c.state() != StatePaused {
		return
	}
	if err := c.cfg.Device.Resume(); err != nil {
		log.Warn().Err(err).Msg("Device resume failed")
	}
	c.setState(StatePlaying)
}

// seek rebuilds the playback segment at a new position. The ring is
// flushed so no stale audio survives the jump, and the sink's consumed
// counter is rebased so position reads stay frame-accurate.
func (c *Controller) seek(pos time.Duration) {
	sess := c.sess
	if sess == nil {
		return
	}
	switch c.state() {
	case StatePlaying, StatePaused, StateBuffering:
	default:
		return
	}
	if pos < 0 {
		pos = 0
	}
	c.restartAt(pos, c.state() == StatePaused)
}

// restartAt tears the current pipeline down and restarts decoding at pos
// against the current device format. The superseded pipeline is removed
// before the decoder seek runs, so the tick loop never consults its
// end-of-stream flag. Used by seek and by device format changes.
func (c *Controller) restartAt(pos time.Duration, stayPaused bool) {
	sess := c.sess
	if sess.busy {
		// A previous seek/rebuild still owns the decoder; remember the
		// newest target and apply it when the borrower posts back.
		sess.pending = &pendingSeek{pos: pos, paused: stayPaused}
		c.setState(StateSeeking)
		return
	}

	c.gen++
	gen := c.gen
	c.setState(StateSeeking)

	if sess.pipe != nil {
		sess.pipe.stop()
		sess.pipe = nil
	}
	c.ring.Flush()
	sess.rs.Reset()

	srcFrame := int64(pos.Seconds() * float64(sess.dec.Format().SampleRate))

	sess.busy = true
	go func() {
		err := sess.dec.Seek(srcFrame)
		c.post(func() {
			sess.busy = false
			if sess.detached {
				// The session was torn down mid-seek; the resources are
				// ours to release.
				sess.dec.Close()
				sess.src.Close()
				return
			}
			if gen != c.gen {
				return
			}
			if err != nil {
				c.failIfCurrent(gen, err)
				return
			}
			if p := sess.pending; p != nil {
				sess.pending = nil
				c.restartAt(p.pos, p.paused)
				return
			}
			// Rebase against the device rate as it is now: the device
			// may have renegotiated while the decoder seek ran.
			c.sink.ResetConsumed(int64(pos.Seconds() * float64(c.devFmt.SampleRate)))
			sess.pipe = newPipeline(sess.dec, sess.rs, c.ring, c.devFmt)
			sess.pipe.start(c.ctx)
			sess.pipeDead = false
			if stayPaused {
				c.setState(StatePaused)
			}
			// Otherwise stay in Seeking; the tick loop promotes to
			// Playing once the buffer threshold is met.
		})
	}()
}

func (c *Controller) stop() {
	c.teardown()
	c.sink.ResetConsumed(0)
	c.setStatus(func(s *Status) {
		s.Track = media.Track{}
		s.Duration = 0
		s.Err = nil
	})
	c.setState(StateIdle)
}

// tick runs the time-driven transitions: buffer threshold, underrun
// recovery, end of track, queue auto-advance, and device format watch.
func (c *Controller) tick() {
	if f := c.cfg.Device.Format(); f != c.devFmt {
		c.handleDeviceChange(f)
		return
	}

	sess := c.sess
	if sess == nil || sess.pipe == nil {
		// No pipeline: a seek or rebuild is in flight and its result is
		// what moves the state machine next.
		return
	}

	state := c.state()
	switch state {
	case StateBuffering, StateSeeking:
		if c.ring.Buffered() >= c.minBufferFrames() || sess.pipe.eof.Load() {
			c.setState(StatePlaying)
		}
	case StatePlaying:
		if u := c.sink.Underruns(); u > sess.lastUnderruns && !sess.pipe.eof.Load() {
			sess.lastUnderruns = u
			// Refill without losing position.
			c.setState(StateBuffering)
		}
	}

	// Pipeline failures surface here rather than via a dedicated
	// channel so command handling and error handling never race.
	if !sess.pipeDead {
		select {
		case <-sess.pipe.done:
			if sess.pipe.err != nil {
				sess.pipeDead = true
				c.handlePipelineError(sess.pipe.err)
				return
			}
		default:
		}
	}

	if sess.pipe.drained() {
		switch c.state() {
		case StatePlaying, StateBuffering:
			c.finishTrack()
		}
	}
}

// finishTrack closes the session as Ended and starts the next queued
// track, if any.
func (c *Controller) finishTrack() {
	log.Info().Str("track", c.sess.track.ID).Msg("Track ended")
	c.teardown()
	c.setState(StateEnded)

	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.play(next)
	}
}

// handleDeviceChange rebuilds the output path for a new device format.
// Ring and sink are sized by the device, so both are replaced and the
// device is re-attached; a live session resumes at its old position with
// a resampler retargeted to the new rate and channel count.
func (c *Controller) handleDeviceChange(newFmt output.DeviceFormat) {
	log.Info().
		Int("sample_rate", newFmt.SampleRate).
		Int("channels", newFmt.Channels).
		Msg("Device format changed, rebuilding output")

	pos := c.Status().Position
	wasPaused := c.state() == StatePaused

	sess := c.sess
	if sess != nil && sess.pipe != nil {
		sess.pipe.stop()
		sess.pipe = nil
	}

	rb := ring.New(newFmt.SampleRate*ringSeconds, newFmt.Channels)
	sink := output.NewSink(rb)
	sink.SetVolume(c.sink.Volume())
	sink.SetMuted(c.sink.Muted())
	sink.ResetConsumed(int64(pos.Seconds() * float64(newFmt.SampleRate)))
	if err := c.cfg.Device.Start(sink); err != nil {
		c.fail(fmt.Errorf("player: device restart: %w", err))
		return
	}

	c.statusMu.Lock()
	c.devFmt = newFmt
	c.ring = rb
	c.sink = sink
	c.statusMu.Unlock()

	if sess == nil {
		return
	}
	sess.rs = resample.New(sess.dec.Format().SampleRate, newFmt.SampleRate, newFmt.Channels)
	if sess.busy {
		// An in-flight seek or rebuild posts back and attaches against
		// the new ring and resampler on its own.
		return
	}
	c.restartAt(pos, wasPaused)
}

// handlePipelineError retries transient failures with bounded backoff
// and fails the session otherwise. The UI only ever sees Failed with
// the last valid position intact.
func (c *Controller) handlePipelineError(err error) {
	sess := c.sess
	if sess == nil {
		return
	}

	if media.IsRetryable(err) && sess.retries < c.cfg.MaxRetries {
		sess.retries++
		delay := c.cfg.RetryBase << (sess.retries - 1)
		var perr *media.PlaybackError
		if errors.As(err, &perr) && perr.RetryAfter > 0 {
			delay = perr.RetryAfter
		}

		log.Warn().Err(err).
			Int("attempt", sess.retries).
			Dur("backoff", delay).
			Msg("Transient playback error, retrying")

		c.gen++
		gen := c.gen
		if sess.pipe != nil {
			sess.pipe.stop()
			sess.pipe = nil
		}
		c.setState(StateBuffering)

		time.AfterFunc(delay, func() {
			c.post(func() { c.rebuild(gen) })
		})
		return
	}

	c.fail(err)
}

// rebuild restarts the decode stage at the current position after a
// transient failure. The decoder is recreated: its state is undefined
// after an error.
func (c *Controller) rebuild(gen uint64) {
	sess := c.sess
	if sess == nil || gen != c.gen {
		return
	}

	outFrame := c.sink.Consumed()
	srcRate := sess.dec.Format().SampleRate
	srcFrame := outFrame * int64(srcRate) / int64(c.devFmt.SampleRate)

	sess.dec.Close()
	sess.busy = true
	go func() {
		_, err := sess.src.Seek(0, io.SeekStart)
		var dec decode.Decoder
		if err == nil {
			dec, err = c.cfg.NewDecoder(sess.desc.Codec, sess.src)
		}
		if err == nil {
			err = dec.Seek(srcFrame)
		}
		c.post(func() {
			sess.busy = false
			if sess.detached {
				if dec != nil {
					dec.Close()
				}
				sess.src.Close()
				return
			}
			if gen != c.gen {
				if dec != nil {
					dec.Close()
				}
				return
			}
			if err != nil {
				c.failIfCurrent(gen, err)
				return
			}
			sess.dec = dec
			sess.rs.Reset()
			if p := sess.pending; p != nil {
				sess.pending = nil
				c.restartAt(p.pos, p.paused)
				return
			}
			sess.pipe = newPipeline(dec, sess.rs, c.ring, c.devFmt)
			sess.pipe.start(c.ctx)
			sess.pipeDead = false
		})
	}()
}

func (c *Controller) failIfCurrent(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	// Give transient resolve/open failures the same retry budget as
	// pipeline ones when a session exists; without one, fail outright.
	if c.sess != nil {
		c.handlePipelineError(err)
		return
	}
	c.fail(err)
}

func (c *Controller) fail(err error) {
	log.Error().Err(err).Msg("Playback failed")
	c.teardown()
	c.setStatus(func(s *Status) { s.Err = err })
	c.setState(StateFailed)
}

// teardown stops the pipeline and releases the session's stream. The
// ring is flushed so the sink goes silent immediately. When a seek or
// rebuild goroutine still holds the decoder, closing is handed off to it:
// closing a decoder mid-call is a crash, not a cleanup.
func (c *Controller) teardown() {
	if c.sess == nil {
		return
	}
	c.gen++
	if c.sess.pipe != nil {
		c.sess.pipe.stop()
	}
	if c.sess.busy {
		c.sess.detached = true
	} else {
		c.sess.dec.Close()
		c.sess.src.Close()
	}
	c.ring.Flush()
	c.sess = nil
}

func (c *Controller) state() State {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status.State
}

func (c *Controller) minBufferFrames() int {
	return int(c.cfg.MinBuffer.Seconds() * float64(c.devFmt.SampleRate))
}
