// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for output device backends
package output

// DeviceFormat is the native PCM format of an output device, discovered at
// session start. It drives the resampler target; when it changes the whole
// pipeline is rebuilt.
type DeviceFormat struct {
	SampleRate   int
	Channels     int
	BufferFrames int // device period size, also the seek tolerance unit
}

// Device represents an audio output device. Start attaches the realtime
// sink; the device then pulls samples from it on its own callback schedule
// until Close. Close must detach the callback before any buffer memory the
// sink references is released.
type Device interface {
	// Format reports the device's native format.
	Format() DeviceFormat

	// Start begins playback, pulling from the sink. Calling it again
	// re-attaches a new sink, detaching the previous one first.
	Start(sink *Sink) error

	// Pause suspends the device callback without dropping buffered audio.
	Pause() error

	// Resume restarts a paused device.
	Resume() error

	// Close stops the callback and releases the device.
	Close() error
}
