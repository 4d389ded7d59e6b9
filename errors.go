package routing

import "errors"

var (
	// ErrNoTransport means the node was constructed without a transport
	// collaborator.
	ErrNoTransport = errors.New("routing: no transport configured")

	// ErrNotJoined is returned for operations that need overlay membership
	// before Join has succeeded.
	ErrNotJoined = errors.New("routing: node has not joined the network")

	// ErrInvalidDestination flags a send addressed to the empty id.
	ErrInvalidDestination = errors.New("routing: invalid destination id")

	// ErrEmptyPayload flags a send with nothing to deliver.
	ErrEmptyPayload = errors.New("routing: empty payload")

	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("routing: stopped")
)
