package worker

import "errors"

// Sentinel errors for the offload pool.
var (
	ErrEmptyBatch       = errors.New("frame batch is empty")
	ErrStopped          = errors.New("inference pool is stopped")
	ErrBusy             = errors.New("inference queue is full")
	ErrInferenceTimeout = errors.New("inference did not finish in time")
	ErrInferencePanic   = errors.New("inference panicked")
	ErrInference        = errors.New("inference failed")
	ErrEmptyPrediction  = errors.New("model returned no predictions")
	ErrShutdownTimedOut = errors.New("shutdown timed out")
)
