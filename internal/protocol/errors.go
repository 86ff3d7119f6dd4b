package protocol

import "errors"

var (
	ErrEncoding            = errors.New("protocol: encoding error")
	ErrDecoding            = errors.New("protocol: decoding error")
	ErrMessageTypeMismatch = errors.New("protocol: message type mismatch")
	ErrNestingTooDeep      = errors.New("protocol: nesting too deep")
)
