package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the pipeline taxonomy. Match them with errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrMissingField   = fmt.Errorf("%w: missing field", ErrValidation)
	ErrDecode         = errors.New("archive decode failed")
	ErrAuth           = errors.New("authentication failed")
	ErrBadCredentials = fmt.Errorf("%w: bad credentials", ErrAuth)
	ErrTokenRejected  = fmt.Errorf("%w: token rejected", ErrAuth)
	ErrAuthService    = fmt.Errorf("%w: auth service error", ErrAuth)
	ErrLoginRequired  = fmt.Errorf("%w: login required", ErrAuth)
	ErrService        = errors.New("analysis service error")
	ErrPollTimeout    = errors.New("score polling timed out")
	ErrRecordStore    = errors.New("record store error")

	ErrInProgress   = errors.New("pipeline already running")
	ErrStaleSession = errors.New("session superseded")
	ErrNoRecord     = errors.New("no clinical record built")
)

// Error is a classified pipeline failure. Kind is one of the sentinels above.
type Error struct {
	Kind       error
	Op         string
	Message    string
	Field      string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	default:
		b.WriteString("unknown error")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewValidationError reports bad user input, such as a wrong file extension.
func NewValidationError(op, msg string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: msg}
}

// NewMissingFieldError reports a mandatory metadata field that is absent.
func NewMissingFieldError(op, field string) *Error {
	return &Error{Kind: ErrMissingField, Op: op, Field: field, Message: "missing required field " + field}
}

// NewDecodeError wraps a decompression failure.
func NewDecodeError(op string, cause error) *Error {
	return &Error{Kind: ErrDecode, Op: op, Cause: cause}
}

// NewAuthError reports a login or token failure. kind must be ErrAuth or one
// of the errors wrapping it.
func NewAuthError(kind error, op string, status int, msg string) *Error {
	if kind == nil {
		kind = ErrAuth
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Message: msg}
}

// NewServiceError reports an unexpected analysis service failure.
func NewServiceError(op string, status int, msg string, cause error) *Error {
	return &Error{Kind: ErrService, Op: op, StatusCode: status, Message: msg, Cause: cause}
}

// NewUploadRejectedError reports a 4xx bad-input answer from the service.
func NewUploadRejectedError(op string, status int, msg string) *Error {
	return &Error{Kind: ErrValidation, Op: op, StatusCode: status, Message: msg}
}

// PollTimeoutError is returned when the score never became ready.
type PollTimeoutError struct {
	Attempts int
	Elapsed  int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("score not ready after %d attempts (%d units)", e.Attempts, e.Elapsed)
}

func (e *PollTimeoutError) Unwrap() error { return ErrPollTimeout }

// RecordStoreError carries the store's status code and rejection payload.
type RecordStoreError struct {
	StatusCode int
	Outcome    map[string]any
	Message    string
	Cause      error
}

func (e *RecordStoreError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "record write failed"
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RecordStoreError) Unwrap() []error {
	errs := []error{ErrRecordStore}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// StatusCode extracts the HTTP status attached to err, or 0.
func StatusCode(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.StatusCode
	}
	var re *RecordStoreError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// KindOf names the taxonomy bucket of err for logs and API responses.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrService):
		return "service"
	case errors.Is(err, ErrPollTimeout):
		return "poll_timeout"
	case errors.Is(err, ErrRecordStore):
		return "record_store"
	case errors.Is(err, ErrInProgress):
		return "in_progress"
	case errors.Is(err, ErrStaleSession):
		return "stale_session"
	case errors.Is(err, ErrNoRecord):
		return "no_record"
	default:
		return "internal"
	}
}

// UserMessage maps err to the text shown to an operator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	switch {
	case errors.Is(err, ErrMissingField):
		if errors.As(err, &de) && de.Field != "" {
			return fmt.Sprintf("Recording metadata has no %s; it is required for upload.", de.Field)
		}
		return "Recording metadata is missing a required field."
	case errors.Is(err, ErrValidation):
		if StatusCode(err) == 400 {
			return "The file is corrupt or has the wrong format."
		}
		if errors.As(err, &de) && de.Message != "" {
			return de.Message
		}
		return "The input is invalid."
	case errors.Is(err, ErrDecode):
		return "The archive could not be decompressed."
	case errors.Is(err, ErrBadCredentials):
		return "Invalid username or password."
	case errors.Is(err, ErrTokenRejected):
		return "Authorization expired, please log in again."
	case errors.Is(err, ErrLoginRequired):
		return "Please log in to the analysis service first."
	case errors.Is(err, ErrAuth):
		return "The login service is unavailable, please retry later."
	case errors.Is(err, ErrPollTimeout):
		return "Analysis timed out, please retry later."
	case errors.Is(err, ErrService):
		return "Analysis failed, please retry later."
	case errors.Is(err, ErrRecordStore):
		return "FHIR write failed."
	case errors.Is(err, ErrInProgress):
		return "An analysis is already running."
	case errors.Is(err, ErrNoRecord):
		return "No clinical record is available yet."
	default:
		return err.Error()
	}
}
