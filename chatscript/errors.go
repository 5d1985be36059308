package chatscript

import "errors"

var (
	// ErrNoSourceData is returned when the script source is empty.
	ErrNoSourceData = errors.New("no script source data")

	// ErrParseToml is returned when the source is not valid TOML.
	ErrParseToml = errors.New("failed to parse TOML script")

	// ErrInvalidField is returned when a field holds a value of the wrong
	// type or an unparsable duration.
	ErrInvalidField = errors.New("invalid script field")
)
