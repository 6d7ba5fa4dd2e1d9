package tracecache

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode reports stored bytes that cannot be decoded as the requested
	// text form.
	ErrDecode = errors.New("decode error")

	// ErrParse reports stored content that cannot be parsed into the
	// requested structure: a non-numeric counter or value, or a malformed
	// history-log entry.
	ErrParse = errors.New("parse error")
)

func errParseKey(key string) error {
	return fmt.Errorf("%w: key %q does not contain a numeric value", ErrParse, key)
}
