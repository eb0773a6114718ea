package fusion

import "errors"

// Sentinel kinds for fusion errors.
var (
	ErrNoModality      = errors.New("no modality outcome to fuse")
	ErrEmptyPrediction = errors.New("model returned an empty prediction")
	ErrLabelMismatch   = errors.New("prediction width does not match class labels")
)
