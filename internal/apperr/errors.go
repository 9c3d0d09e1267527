package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind identifies one failure variant of the measurement lifecycle
type Kind int

const (
	KindInternal Kind = iota
	KindMissingField
	KindInvalidCustomerCode
	KindInvalidMeasureType
	KindInvalidDateTime
	KindUnsupportedMimeType
	KindImageTooSmall
	KindImageTooLarge
	KindInvalidEncoding
	KindInvalidRequest
	KindUnparsableValue
	KindValueOutOfRange
	KindInvalidImage
	KindValueOutOfTolerance
	KindMeasureNotFound
	KindMeasuresNotFound
	KindDuplicateMeasure
	KindAlreadyConfirmed
	KindRateLimited
	KindProviderUnavailable
	KindPersistence
)

// Code returns the stable error_code exposed to API callers
func (k Kind) Code() string {
	switch k {
	case KindMissingField:
		return "MISSING_FIELDS"
	case KindInvalidCustomerCode:
		return "INVALID_CUSTOMER_CODE"
	case KindInvalidMeasureType:
		return "INVALID_MEASURE_TYPE"
	case KindInvalidDateTime:
		return "INVALID_MEASURE_DATETIME"
	case KindUnsupportedMimeType:
		return "INVALID_MIME_TYPE"
	case KindImageTooSmall:
		return "IMAGE_TOO_SMALL"
	case KindImageTooLarge:
		return "IMAGE_TOO_LARGE"
	case KindInvalidEncoding:
		return "INVALID_BASE64"
	case KindInvalidRequest:
		return "INVALID_DATA"
	case KindUnparsableValue:
		return "INVALID_MEASURE_VALUE"
	case KindValueOutOfRange:
		return "MEASURE_VALUE_OUT_OF_BOUNDS"
	case KindInvalidImage:
		return "INVALID_IMAGE"
	case KindValueOutOfTolerance:
		return "VALUE_OUT_OF_RANGE"
	case KindMeasureNotFound:
		return "MEASURE_NOT_FOUND"
	case KindMeasuresNotFound:
		return "MEASURES_NOT_FOUND"
	case KindDuplicateMeasure:
		return "DUPLICATE_MEASURE"
	case KindAlreadyConfirmed:
		return "CONFIRMATION_DUPLICATE"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindProviderUnavailable:
		return "PROVIDER_UNAVAILABLE"
	case KindPersistence:
		return "PERSISTENCE_ERROR"
	case KindInternal:
		return "INTERNAL_ERROR"
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus maps the kind to the status code used at the API boundary
func (k Kind) HTTPStatus() int {
	switch k {
	case KindMissingField,
		KindInvalidCustomerCode,
		KindInvalidMeasureType,
		KindInvalidDateTime,
		KindUnsupportedMimeType,
		KindImageTooSmall,
		KindImageTooLarge,
		KindInvalidEncoding,
		KindInvalidRequest,
		KindUnparsableValue,
		KindValueOutOfRange,
		KindInvalidImage,
		KindValueOutOfTolerance:
		return http.StatusBadRequest
	case KindMeasureNotFound, KindMeasuresNotFound:
		return http.StatusNotFound
	case KindDuplicateMeasure, KindAlreadyConfirmed:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindPersistence, KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the same request may succeed if sent again later
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindProviderUnavailable:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return k.Code()
}

// Error is the single error type crossing the lifecycle boundary.
// Only the fields relevant to Kind are populated.
type Error struct {
	Kind    Kind
	Message string

	// Fields lists absent or invalid input fields (MissingField, InvalidRequest)
	Fields []string
	// MeasureUUID references the existing measurement (DuplicateMeasure)
	MeasureUUID string
	// Raw holds the provider text that could not be parsed (UnparsableValue)
	Raw string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so errors.Is(err, &Error{Kind: k}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind carrying a cause
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// MissingFields reports the absent required fields
func MissingFields(fields ...string) *Error {
	return &Error{
		Kind:    KindMissingField,
		Message: "missing required fields: " + strings.Join(fields, ", "),
		Fields:  fields,
	}
}

// Duplicate reports an existing measurement for the same customer, type and period
func Duplicate(existingUUID string) *Error {
	return &Error{
		Kind:        KindDuplicateMeasure,
		Message:     "a reading for this customer, type and month has already been submitted",
		MeasureUUID: existingUUID,
	}
}

// Unparsable reports provider text that holds no usable number
func Unparsable(raw string) *Error {
	return &Error{
		Kind:    KindUnparsableValue,
		Message: fmt.Sprintf("could not interpret the reading from provider response %q", raw),
		Raw:     raw,
	}
}

// As returns the *Error inside err, if any
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf classifies err; anything that is not an *Error is internal
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}
