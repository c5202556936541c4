package redact

import (
	"errors"
	"strings"
)

// Error kinds. Match with errors.Is(err, ErrRedaction) and friends.
var (
	ErrValidation = errors.New("validation error")
	ErrExtraction = errors.New("extraction error")
	ErrRedaction  = errors.New("redaction error")
	ErrRestore    = errors.New("restore error")
)

// Error carries the document and region a failure belongs to.
type Error struct {
	Kind     error
	Op       string
	Document string
	Region   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Document != "" {
		b.WriteString(" document=")
		b.WriteString(e.Document)
	}
	if e.Region != "" {
		b.WriteString(" region=")
		b.WriteString(e.Region)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap tags err with a kind. An *Error already carrying the same kind is returned as is.
func Wrap(kind error, op, document, region string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		if existing.Document == "" {
			existing.Document = document
		}
		return existing
	}
	return &Error{Kind: kind, Op: op, Document: document, Region: region, Err: err}
}
