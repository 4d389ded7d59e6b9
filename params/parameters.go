// Package params holds the tuning constants for the routing overlay. They
// are read-only values supplied to the other packages at construction time.
package params

import "time"

const (
	// MaxRoutingTableSize bounds the number of peers a node keeps routes to.
	MaxRoutingTableSize = 64

	// ClosestNodesSize is the number of nearest peers protected from
	// eviction while the table is full.
	ClosestNodesSize = 8

	// NodeGroupSize is the size of the authoritative close group around an
	// identifier. Always <= ClosestNodesSize.
	NodeGroupSize = 4

	// MaxClientTableSize bounds the set of directly-attached client peers.
	MaxClientTableSize = 64

	// MaxRouteHistorySize bounds the per-message list of visited hops kept
	// for loop prevention.
	MaxRouteHistorySize = 5

	// MaxSendRetries bounds next-hop reselection after transport failures
	// before a send is reported as failed.
	MaxSendRetries = 5

	// HopsToLive is the initial hop budget stamped on outgoing messages.
	HopsToLive = 50

	// DefaultResponseTimeout is how long a send waits for each expected
	// response before the response functor fires with a timeout.
	DefaultResponseTimeout = 10 * time.Second

	// DefaultCacheSize bounds the recently-seen-data cache.
	DefaultCacheSize = 256
)
