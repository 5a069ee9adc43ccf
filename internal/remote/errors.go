package remote

import "errors"

var (
	// ErrPermissionDenied is reported when the store rejects a read, write or
	// subscription at a path.
	ErrPermissionDenied = errors.New("remote: permission denied")

	// ErrInvalidPath is reported for paths containing forbidden characters.
	ErrInvalidPath = errors.New("remote: invalid path")

	// ErrInvalidValue is reported for values outside the JSON data model.
	ErrInvalidValue = errors.New("remote: invalid value")
)
