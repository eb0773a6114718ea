package model

// Channels is the channel count of a normalized frame (RGB).
const Channels = 3

// Frame is one normalized frame: RGB, row-major, values in [0,1].
type Frame struct {
	Pixels    []float32
	Sharpness float64
}

// FrameBatch is the ordered set of frames handed to the video classifier.
// It is owned by a single pipeline run and consumed once.
type FrameBatch struct {
	Width    int
	Height   int
	Channels int
	Frames   []Frame
}

// Len returns the number of frames.
func (b *FrameBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Frames)
}

// Empty reports whether the batch holds no frames.
func (b *FrameBatch) Empty() bool { return b.Len() == 0 }

// SessionState is the lifecycle of a live notification session.
type SessionState int32

// Session states. Closed is terminal.
const (
	SessionConnecting SessionState = iota
	SessionOpen
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionOpen:
		return "open"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
