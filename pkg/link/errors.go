package link

import "errors"

// Link errors.
var (
	// ErrNoExtAddress is returned when the endpoint has no extended address.
	ErrNoExtAddress = errors.New("link: extended address required")

	// ErrNoHandler is returned when no frame handler is configured.
	ErrNoHandler = errors.New("link: no frame handler configured")

	// ErrInvalidKeyID is returned for a key identifier mode above 3.
	ErrInvalidKeyID = errors.New("link: invalid key identifier")

	// ErrNoNeighbor is returned when a destination has no known neighbor.
	ErrNoNeighbor = errors.New("link: no neighbor for destination")

	// ErrUnknownSource is returned when a secured frame's originator
	// extended address cannot be determined.
	ErrUnknownSource = errors.New("link: unknown source address")

	// ErrNotStarted is returned when Send is called before Start.
	ErrNotStarted = errors.New("link: endpoint not started")

	// ErrClosed is returned when the endpoint has been stopped.
	ErrClosed = errors.New("link: endpoint closed")
)
