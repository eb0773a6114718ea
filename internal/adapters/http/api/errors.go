package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrUnauthorized     = errors.New("subject identity is missing")
	ErrTooLarge         = errors.New("request body is too large")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrMissingFile      = errors.New("missing file part")
	ErrEmptyUpload      = errors.New("uploaded file is empty")
	ErrNotesTooLong     = errors.New("notes are too long")
	ErrUpload           = errors.New("upload could not be stored")
)
