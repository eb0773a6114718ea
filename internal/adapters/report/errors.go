package report

import "errors"

// Sentinel errors for report generation.
var (
	ErrMissingCredential = errors.New("text generation API key is not configured")
	ErrGeneration        = errors.New("text generation request failed")
	ErrEmptyReport       = errors.New("text generation returned an empty response")
	ErrReportTimeout     = errors.New("text generation did not finish in time")
	ErrNoRecord          = errors.New("no record to report on")
)
