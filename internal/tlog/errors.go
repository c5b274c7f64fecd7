package tlog

import "errors"

var (
	ErrInvalidMagic       = errors.New("tlog: invalid magic")
	ErrUnsupportedVersion = errors.New("tlog: unsupported version")
	ErrTruncated          = errors.New("tlog: truncated data")
)
