package form

import "errors"

// Sentinel kinds for form errors.
var (
	ErrMissingFeatureNames = errors.New("form model is missing feature names information")
	ErrInvalidAnswers      = errors.New("invalid form answers")
	ErrPredict             = errors.New("form prediction failed")
)
