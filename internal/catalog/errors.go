package catalog

import "errors"

var (
	// ErrNotFound is returned for operations on a name with no Live entry.
	ErrNotFound = errors.New("file not found")

	// ErrAlreadyExists is returned when create or rename targets a Live name.
	ErrAlreadyExists = errors.New("file already exists")

	// ErrNameTooLong is returned when a name exceeds the configured bound.
	ErrNameTooLong = errors.New("file name too long")

	// ErrInvalidName is returned for names that cannot live in a flat
	// namespace: empty, "." or "..", or containing '/' or NUL.
	ErrInvalidName = errors.New("invalid file name")

	// ErrTooLarge is returned when a size or extent would not fit the
	// 32-bit fields of the metadata file.
	ErrTooLarge = errors.New("file too large")

	// ErrCorrupt is returned when the catalog fails structural validation.
	ErrCorrupt = errors.New("catalog corrupt")
)
