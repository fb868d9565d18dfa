package models

import (
	"errors"
	"fmt"
)

// ErrorKind names a failure in the orchestration core. It is what callers see as "kind".
type ErrorKind string

const (
	KindTemplateLoad      ErrorKind = "template_load"
	KindUnroutable        ErrorKind = "unroutable_question"
	KindInvalidState      ErrorKind = "invalid_state"
	KindBudgetExceeded    ErrorKind = "budget_exceeded"
	KindNotFound          ErrorKind = "not_found"
	KindIncompleteSection ErrorKind = "incomplete_section"
	KindRateLimited       ErrorKind = "rate_limited"
	KindTimeout           ErrorKind = "timeout"
	KindInvalidResponse   ErrorKind = "invalid_response"
	KindContextOverflow   ErrorKind = "context_overflow"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInternal          ErrorKind = "internal"
)

// Category groups error kinds by how they are handled.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryState         Category = "state"
	CategoryTransient     Category = "transient"
	CategoryExternal      Category = "external"
	CategoryData          Category = "data"
	CategoryStaleness     Category = "staleness"
	CategoryInput         Category = "input"
	CategoryInternal      Category = "internal"
)

// Category returns the handling category of k.
func (k ErrorKind) Category() Category {
	switch k {
	case KindTemplateLoad, KindUnroutable:
		return CategoryConfiguration
	case KindInvalidState, KindBudgetExceeded:
		return CategoryState
	case KindRateLimited, KindTimeout:
		return CategoryTransient
	case KindInvalidResponse, KindContextOverflow:
		return CategoryExternal
	case KindIncompleteSection:
		return CategoryData
	case KindNotFound:
		return CategoryStaleness
	case KindInvalidInput:
		return CategoryInput
	}
	return CategoryInternal
}

// Error is a structured failure carrying a kind and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// for every not-found failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTemplateLoad      = &Error{Kind: KindTemplateLoad}
	ErrUnroutable        = &Error{Kind: KindUnroutable}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrBudgetExceeded    = &Error{Kind: KindBudgetExceeded}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrIncompleteSection = &Error{Kind: KindIncompleteSection}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrInvalidResponse   = &Error{Kind: KindInvalidResponse}
	ErrContextOverflow   = &Error{Kind: KindContextOverflow}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
)

// NewError returns an *Error of kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError returns an *Error of kind wrapping err.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// TemplateLoadError reports an invalid template definition.
func TemplateLoadError(format string, args ...interface{}) *Error {
	return NewError(KindTemplateLoad, format, args...)
}

// UnroutableQuestionError reports that no specialist or fallback can handle a section.
func UnroutableQuestionError(docType DocumentType, sectionID string) *Error {
	return NewError(KindUnroutable, "no agent registered for %s/%s", docType, sectionID)
}

// InvalidStateError reports an operation that is illegal in the current state.
func InvalidStateError(format string, args ...interface{}) *Error {
	return NewError(KindInvalidState, format, args...)
}

// BudgetExceededError reports a conversation that has reached its token ceiling.
func BudgetExceededError(used, ceiling int) *Error {
	return NewError(KindBudgetExceeded, "token budget exceeded: %d of %d used", used, ceiling)
}

// NotFoundError reports a missing or expired record.
func NotFoundError(format string, args ...interface{}) *Error {
	return NewError(KindNotFound, format, args...)
}

// IncompleteSectionError reports that a document was assembled before it was complete.
func IncompleteSectionError(docType DocumentType, sections []string) *Error {
	return NewError(KindIncompleteSection, "%s is incomplete; unsatisfied sections: %v", docType, sections)
}

// InvalidInputError reports a malformed request.
func InvalidInputError(format string, args ...interface{}) *Error {
	return NewError(KindInvalidInput, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is worth retrying (rate limits and timeouts).
func IsRetryable(err error) bool {
	return KindOf(err).Category() == CategoryTransient
}
