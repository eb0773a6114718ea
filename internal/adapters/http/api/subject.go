package api

import (
	"net/http"
	"strings"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
)

const subjectHeader = "X-Subject"

// SubjectResolver extracts the verified identity of a request. Credential
// checks happen upstream; the resolver only reads their result.
type SubjectResolver interface {
	Subject(r *http.Request) (model.Subject, error)
}

// HeaderSubject reads the identity the auth gateway puts in X-Subject.
type HeaderSubject struct{}

// Subject returns the trimmed header value, or ErrUnauthorized when absent.
func (HeaderSubject) Subject(r *http.Request) (model.Subject, error) {
	const op = "api.subject"
	v := strings.TrimSpace(r.Header.Get(subjectHeader))
	if v == "" {
		return "", failure.WrapKind(op, failure.ErrInvalidInput, ErrUnauthorized)
	}
	return model.Subject(v), nil
}

// SubjectFunc adapts a function to SubjectResolver.
type SubjectFunc func(r *http.Request) (model.Subject, error)

// Subject calls f.
func (f SubjectFunc) Subject(r *http.Request) (model.Subject, error) { return f(r) }
