package protocol

import "errors"

var (
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrInvalidConfig   = errors.New("protocol: invalid codec config")
	ErrShortInput      = errors.New("protocol: consumed exceeds input")
)
