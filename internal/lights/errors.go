package lights

import "errors"

// Sentinel errors for the orchestration layer. Callers inspect them with
// errors.Is; NotFound is never retried, Unreachable/Protocol may be
// retried only inside the owning controller (reconnect-once).
var (
	ErrNotFound    = errors.New("not found")
	ErrUnreachable = errors.New("unreachable")
	ErrProtocol    = errors.New("protocol error")
)

// Pairing failures for bridge-style protocols.
var (
	ErrLinkButtonNotPressed = errors.New("link button not pressed")
	ErrInvalidPairResponse  = errors.New("invalid pairing response")
)
