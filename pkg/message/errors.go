package message

import (
	"fmt"
	"reflect"
)

// UnrecognizedMessageError reports an inbound packet whose ID byte is not
// present in the registry.
type UnrecognizedMessageError struct {
	ID ID
}

func (e *UnrecognizedMessageError) Error() string {
	return fmt.Sprintf("unrecognized message ID=0x%02X", uint8(e.ID))
}

// UnpackError reports a payload that does not match the layout registered
// for its message ID (truncated buffer, trailing garbage, invalid enum value).
type UnpackError struct {
	ID     ID
	Reason string
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("unable to unpack message ID=0x%02X: %s", uint8(e.ID), e.Reason)
}

// AbstractMessageError reports an attempt to encode a value whose type was
// never assigned a message ID.
type AbstractMessageError struct {
	Type reflect.Type
}

func (e *AbstractMessageError) Error() string {
	return fmt.Sprintf("%s is not a registered message type", e.Type)
}
