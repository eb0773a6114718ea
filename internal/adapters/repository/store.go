// Package repository persists assessment records and serves per-subject history.
package repository

import (
	"context"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/metrics"
)

// Store provides read/write access to assessment records.
type Store interface {
	// Insert persists rec and returns its id. The record must carry a subject
	// and at least one verdict. rec.ID and rec.CreatedAt are filled in.
	Insert(ctx context.Context, rec *model.AssessmentRecord) (int64, error)

	// UpdateReport attaches the generated summary to a stored record.
	// Returns ErrNotFound when id is unknown.
	UpdateReport(ctx context.Context, id int64, report string) error

	// History returns up to limit records for subject, newest first. A zero
	// limit returns every record.
	History(ctx context.Context, subject model.Subject, limit int) ([]model.AssessmentRecord, error)

	// Close releases the underlying resources.
	Close() error
}

func validate(op string, rec *model.AssessmentRecord) error {
	switch {
	case rec == nil || !rec.HasEvidence():
		return invalid(op, ErrEmptyRecord)
	case rec.Subject == "":
		return invalid(op, ErrMissingSubject)
	}
	return nil
}

func invalid(op string, err error) error {
	return failure.WrapKind(op, failure.ErrInvalidInput, err)
}

func internal(op string, err error) error {
	metrics.RecordRepositoryError(op)
	return failure.WrapKind(op, failure.ErrInternal, err)
}

func clampLimit(op string, limit int) (int, error) {
	if limit < 0 {
		return 0, invalid(op, ErrInvalidLimit)
	}
	return limit, nil
}
