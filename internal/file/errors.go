package file

import "errors"

var (
	// ErrUnauthenticated is returned when an operation needs a caller identity.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("not allowed to modify this file")
	// ErrNotFound is returned when the record does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidVisibility rejects visibilities other than public and private.
	ErrInvalidVisibility = errors.New("invalid visibility")
	// ErrUnsupportedFile rejects payloads by size or content type.
	ErrUnsupportedFile = errors.New("unsupported file")
	// ErrMissingFile is returned when the request carries no payload.
	ErrMissingFile = errors.New("no file uploaded")
	// ErrStorageUploadFailed wraps blob store write failures.
	ErrStorageUploadFailed = errors.New("storage upload failed")
	// ErrStorageDeleteFailed wraps blob store removal failures.
	ErrStorageDeleteFailed = errors.New("storage delete failed")
)
