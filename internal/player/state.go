// ABOUTME: Playback session states and transition names
// ABOUTME: The controller moves through these as the pipeline spins up and down
package player

// State is the playback session state.
type State int

const (
	// StateIdle means no session is active.
	StateIdle State = iota
	// StateResolving means the track is being looked up in the catalog.
	StateResolving
	// StateBuffering means the pipeline is filling the ring buffer up to
	// the minimum threshold before audio starts (or resumes after an
	// underrun).
	StateBuffering
	// StatePlaying means audio is flowing to the device.
	StatePlaying
	// StatePaused means the device callback is suspended; position holds.
	StatePaused
	// StateSeeking means the pipeline is being rebuilt at a new position.
	StateSeeking
	// StateEnded means the track finished. Terminal for the session;
	// a queued track starts a fresh one.
	StateEnded
	// StateFailed means retries are exhausted or the error was fatal.
	// Terminal for the session.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session is finished.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}
