package service

import "errors"

// Sentinel errors for pipeline runs.
var (
	ErrMissingSubject = errors.New("subject identity is required")
	ErrNoSubmission   = errors.New("submission has neither a video nor a form")
	ErrFormTimeout    = errors.New("form classification did not finish in time")
	ErrNotStarted     = errors.New("service is not started")
)
