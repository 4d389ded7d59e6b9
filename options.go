package routing

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
	"github.com/overlaynet/go-routing/transport"
)

// NodeType selects how the node's identity and keys are sourced. It changes
// nothing about the routing algorithms themselves.
type NodeType int

const (
	// FullNode participates in other nodes' routing tables and groups.
	FullNode NodeType = iota
	// MutatingClient joins with its own long-lived keypair but is never
	// part of others' groups.
	MutatingClient
	// NonMutatingClient joins under a throwaway identity; keys are
	// generated on construction.
	NonMutatingClient
)

func (t NodeType) String() string {
	switch t {
	case FullNode:
		return "full node"
	case MutatingClient:
		return "mutating client"
	case NonMutatingClient:
		return "non-mutating client"
	default:
		return fmt.Sprintf("node type(%d)", int(t))
	}
}

type config struct {
	nodeType           NodeType
	privateKey         *secp256k1.PrivateKey
	nodeID             nodeid.ID
	tr                 transport.Transport
	bootstrapEndpoints []transport.Endpoint
	responseTimeout    time.Duration
	cacheSize          int
	clk                clock.Clock
}

// Option configures a Routing node at construction.
type Option func(*config) error

// defaults are applied before any caller options.
var defaults = func(c *config) error {
	c.nodeType = FullNode
	c.responseTimeout = params.DefaultResponseTimeout
	c.cacheSize = params.DefaultCacheSize
	c.clk = clock.New()
	return nil
}

func (c *config) apply(opts ...Option) error {
	for i, opt := range opts {
		if err := opt(c); err != nil {
			return fmt.Errorf("routing option %d failed: %w", i, err)
		}
	}
	return nil
}

// WithTransport supplies the NAT-traversing transport collaborator.
// Required.
func WithTransport(tr transport.Transport) Option {
	return func(c *config) error {
		c.tr = tr
		return nil
	}
}

// WithNodeType selects full-node or client operation.
func WithNodeType(t NodeType) Option {
	return func(c *config) error {
		c.nodeType = t
		return nil
	}
}

// WithPrivateKey provides the node's keypair; the identity is derived from
// the public half. Ignored for NonMutatingClient, which always generates
// its own.
func WithPrivateKey(key *secp256k1.PrivateKey) Option {
	return func(c *config) error {
		if key == nil {
			return fmt.Errorf("nil private key")
		}
		c.privateKey = key
		return nil
	}
}

// WithNodeID forces a specific identity for a NonMutatingClient, which has
// no key-derived name of its own.
func WithNodeID(id nodeid.ID) Option {
	return func(c *config) error {
		if id.IsZero() {
			return fmt.Errorf("zero node id")
		}
		c.nodeID = id
		return nil
	}
}

// WithBootstrapEndpoints configures the default endpoints Join falls back
// to when called without any.
func WithBootstrapEndpoints(endpoints ...transport.Endpoint) Option {
	return func(c *config) error {
		c.bootstrapEndpoints = endpoints
		return nil
	}
}

// WithResponseTimeout overrides how long sends wait for each expected
// response.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("non-positive response timeout")
		}
		c.responseTimeout = d
		return nil
	}
}

// WithCacheSize bounds the recently-seen-data cache.
func WithCacheSize(size int) Option {
	return func(c *config) error {
		c.cacheSize = size
		return nil
	}
}

// WithClock injects a clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *config) error {
		c.clk = clk
		return nil
	}
}
