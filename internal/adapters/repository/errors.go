package repository

import "errors"

// Sentinel errors for assessment storage.
var (
	ErrEmptyRecord    = errors.New("record has neither a video nor a form verdict")
	ErrMissingSubject = errors.New("record has no subject")
	ErrNotFound       = errors.New("record not found")
	ErrUnknownDriver  = errors.New("unknown database driver")
	ErrStoreClosed    = errors.New("store is closed")
	ErrInvalidLimit   = errors.New("invalid history limit")
	ErrConnect        = errors.New("database connection failed")
)
