// Package transport declares the contract the routing core consumes from the
// NAT-traversing connection layer. The core never implements this; tests use
// a mock and production wires in a real managed-connection stack.
package transport

import (
	"context"
	"errors"
)

// NATType describes the traversal situation the transport negotiated for
// this node.
type NATType int

const (
	NATUnknown NATType = iota
	NATNone
	NATCone
	NATSymmetric
)

func (n NATType) String() string {
	switch n {
	case NATNone:
		return "none"
	case NATCone:
		return "cone"
	case NATSymmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

// Endpoint is a reachable transport address. The zero value means "no
// endpoint".
type Endpoint struct {
	Addr string
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Addr == ""
}

func (e Endpoint) String() string {
	return e.Addr
}

// EndpointPair is the local/external address pair produced by NAT-traversal
// negotiation.
type EndpointPair struct {
	Local    Endpoint
	External Endpoint
}

// OnMessage delivers raw inbound bytes from a connected peer.
type OnMessage func(data []byte)

// OnConnectionLost reports a dropped connection.
type OnConnectionLost func(peer Endpoint)

// OnSent is invoked exactly once per Send with the transport outcome.
type OnSent func(err error)

// Errors the transport may return; the routing core matches on these.
var (
	ErrNoEndpoints   = errors.New("transport: no reachable bootstrap endpoints")
	ErrAlreadyActive = errors.New("transport: already bootstrapped")
	ErrNotConnected  = errors.New("transport: endpoint not connected")
	ErrSendFailed    = errors.New("transport: send failed")
	ErrStopped       = errors.New("transport: stopped")
)

// Transport is the narrow surface the routing core depends on.
type Transport interface {
	// Bootstrap attempts the candidate endpoints in order until one yields a
	// usable connection, returning that endpoint. Blocks the caller.
	Bootstrap(ctx context.Context, endpoints []Endpoint, onMessage OnMessage, onLost OnConnectionLost, local Endpoint) (Endpoint, error)

	// GetAvailableEndpoint negotiates the local endpoint pair to offer a
	// given peer, and reports the NAT type discovered on the way.
	GetAvailableEndpoint(peer Endpoint) (EndpointPair, NATType, error)

	// Add establishes a managed connection between a negotiated local
	// endpoint and a peer, carrying an opaque validation token.
	Add(local, peer Endpoint, validationToken string) error

	// Remove tears down the managed connection to a peer endpoint.
	Remove(peer Endpoint)

	// Send transmits data to a connected endpoint. onSent is invoked exactly
	// once with the outcome; it may be nil.
	Send(data []byte, to Endpoint, onSent OnSent)

	// Stop releases all connections. Idempotent.
	Stop()
}
