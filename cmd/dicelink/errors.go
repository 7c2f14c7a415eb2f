package main

import (
	"context"
	"errors"

	"github.com/srg/dicelink/pkg/link"
)

// ErrDieNotFound indicates no die matched the requested ID or name before
// the scan window closed.
var ErrDieNotFound = errors.New("die not found")

// FormatUserError turns internal errors into messages suitable for stderr.
func FormatUserError(err error) string {
	var terr *link.TransportError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, ErrDieNotFound):
		return "no matching die found; is it awake and in range?"
	case errors.As(err, &terr):
		return "Bluetooth error: " + terr.Error()
	default:
		return err.Error()
	}
}
