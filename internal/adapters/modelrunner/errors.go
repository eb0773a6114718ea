package modelrunner

import "errors"

// Sentinel errors for the model runner bridge.
var (
	ErrRunnerUnavailable = errors.New("model runner could not be started")
	ErrModelUnavailable  = errors.New("model could not be loaded")
	ErrRunnerIO          = errors.New("model runner connection failed")
	ErrPrediction        = errors.New("model raised during prediction")
	ErrMessageTooLarge   = errors.New("model runner message exceeds size limit")
	ErrBadResponse       = errors.New("model runner response is malformed")
	ErrClosed            = errors.New("model runner is closed")
)
