// Package s3err defines the S3-facing error categories returned by the
// gateway. Backend details are wrapped inside an *Error for logging but are
// never rendered to clients.
package s3err

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an S3 protocol error. Code and Message are what the client sees;
// Err carries the underlying cause, if any.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code and status, so callers can test
// a wrapped error against the package-level categories with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.HTTPStatus == e.HTTPStatus
}

// Wrap returns a copy of the category e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, HTTPStatus: e.HTTPStatus, Err: err}
}

var (
	InvalidAccessKeyId = &Error{
		Code:       "InvalidAccessKeyId",
		Message:    "The AWS access key ID you provided does not exist in our records.",
		HTTPStatus: http.StatusForbidden,
	}
	NotSignedUp = &Error{
		Code:       "NotSignedUp",
		Message:    "Your account is not signed up for the S3 service.",
		HTTPStatus: http.StatusForbidden,
	}
	AccessDenied = &Error{
		Code:       "AccessDenied",
		Message:    "Access Denied",
		HTTPStatus: http.StatusForbidden,
	}
	SignatureDoesNotMatch = &Error{
		Code:       "SignatureDoesNotMatch",
		Message:    "The request signature we calculated does not match the signature you provided.",
		HTTPStatus: http.StatusForbidden,
	}
	InvalidParts = &Error{
		Code:       "InvalidPart",
		Message:    "One or more of the specified parts could not be found.",
		HTTPStatus: http.StatusBadRequest,
	}
	NoSuchUpload = &Error{
		Code:       "NoSuchUpload",
		Message:    "The specified multipart upload does not exist.",
		HTTPStatus: http.StatusNotFound,
	}
	PartNumberOutOfRange = &Error{
		Code:       "InvalidArgument",
		Message:    "Part number must be an integer between 1 and 9999, inclusive.",
		HTTPStatus: http.StatusBadRequest,
	}
	InvalidRequest = &Error{
		Code:       "InvalidRequest",
		Message:    "The request is not valid.",
		HTTPStatus: http.StatusBadRequest,
	}
	MalformedXML = &Error{
		Code:       "MalformedXML",
		Message:    "The XML you provided was not well-formed or did not validate against our published schema.",
		HTTPStatus: http.StatusBadRequest,
	}
	InvalidBucketName = &Error{
		Code:       "InvalidBucketName",
		Message:    "The specified bucket is not valid.",
		HTTPStatus: http.StatusBadRequest,
	}
	InvalidObjectName = &Error{
		Code:       "InvalidObjectName",
		Message:    "The specified key is not valid.",
		HTTPStatus: http.StatusBadRequest,
	}
	NotImplemented = &Error{
		Code:       "NotImplemented",
		Message:    "A header you provided implies functionality that is not implemented.",
		HTTPStatus: http.StatusNotImplemented,
	}
	InternalError = &Error{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// From maps err to the category reported to clients. Anything that is not
// already an *Error becomes InternalError.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Message: e.Message, HTTPStatus: e.HTTPStatus}
	}
	return &Error{Code: InternalError.Code, Message: InternalError.Message, HTTPStatus: InternalError.HTTPStatus}
}
