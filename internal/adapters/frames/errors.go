package frames

import "errors"

// Sentinel errors for frame reduction. Callers match these with errors.Is;
// the failure kind is attached where they are returned.
var (
	ErrNoUsableFrames = errors.New("no frame met the sharpness threshold; please upload a clearer video")
	ErrDecode         = errors.New("video could not be decoded")
	ErrProbe          = errors.New("video stream could not be probed")
	ErrFrameSize      = errors.New("frame buffer does not match its dimensions")
)
