// Package routing is the client-facing surface of the overlay routing core.
// A Routing node owns its routing and client tables, the send/forward
// engine, the response timer and the content cache, and exposes join, send
// and range-query operations over them.
package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	logging "github.com/ipfs/go-log"

	"github.com/overlaynet/go-routing/cache"
	inet "github.com/overlaynet/go-routing/internal/net"
	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
	"github.com/overlaynet/go-routing/table"
	"github.com/overlaynet/go-routing/timer"
	"github.com/overlaynet/go-routing/transport"
)

var logger = logging.Logger("routing")

// Functors are the application callbacks a node fires. All are optional and
// must be fast and non-blocking; they are notifications, not hooks.
type Functors struct {
	// MessageReceived delivers a payload addressed to this node. reply
	// sends a response back along the overlay; it may be called at most
	// once, or ignored for one-way traffic.
	MessageReceived func(payload []byte, cacheable bool, reply func(response []byte))

	// NetworkStatus receives the 0-100 health figure as connectivity
	// changes.
	NetworkStatus func(status int)

	// CloseNodesChanged fires when the close group around this node
	// changed, with the new group in closeness order.
	CloseNodesChanged func(group []table.NodeInfo)

	// StoreCacheData is offered each cacheable payload passing through, so
	// the application can keep its own copy.
	StoreCacheData func(payload []byte)
}

// Routing is one node's view of the overlay.
type Routing struct {
	cfg      config
	nodeType NodeType
	nodeID   nodeid.ID
	key      *secp256k1.PrivateKey

	routingTable *table.RoutingTable
	clientTable  *table.ClientTable
	timer        *timer.Timer
	cache        *cache.Manager
	network      *inet.Network

	mu       sync.RWMutex
	functors Functors
	joined   bool
	stopped  bool
}

// New constructs a node. Identity follows the node type: full nodes and
// mutating clients use the supplied keypair (generating one if absent),
// non-mutating clients always run under generated keys, optionally with a
// caller-chosen id.
func New(opts ...Option) (*Routing, error) {
	var cfg config
	if err := cfg.apply(append([]Option{defaults}, opts...)...); err != nil {
		return nil, err
	}
	if cfg.tr == nil {
		return nil, ErrNoTransport
	}

	key := cfg.privateKey
	if key == nil || cfg.nodeType == NonMutatingClient {
		var err error
		key, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generating node keys: %w", err)
		}
	}

	nodeID := cfg.nodeID
	if nodeID.IsZero() || cfg.nodeType != NonMutatingClient {
		var err error
		nodeID, err = nodeid.FromPublicKey(key.PubKey())
		if err != nil {
			return nil, fmt.Errorf("deriving node id: %w", err)
		}
	}

	clientMode := cfg.nodeType != FullNode
	rt := table.NewRoutingTable(nodeID, clientMode)
	ct := table.NewClientTable(nodeID)
	tm := timer.New(cfg.clk)
	cm, err := cache.NewManager(nodeID, cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}

	r := &Routing{
		cfg:          cfg,
		nodeType:     cfg.nodeType,
		nodeID:       nodeID,
		key:          key,
		routingTable: rt,
		clientTable:  ct,
		timer:        tm,
		cache:        cm,
		network:      inet.New(rt, ct, tm, cm, cfg.tr),
	}
	logger.Infof("constructed %s %s", cfg.nodeType, nodeID.ShortString())
	return r, nil
}

// NodeID returns this node's identifier.
func (r *Routing) NodeID() nodeid.ID {
	return r.nodeID
}

// Join connects the node to the overlay, blocking until a bootstrap outcome
// is known. Endpoints may be empty, in which case the configured defaults
// apply.
func (r *Routing) Join(ctx context.Context, functors Functors, endpoints ...transport.Endpoint) error {
	return r.join(ctx, functors, transport.Endpoint{}, endpoints)
}

func (r *Routing) join(ctx context.Context, functors Functors, local transport.Endpoint, endpoints []transport.Endpoint) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	r.functors = functors
	r.mu.Unlock()

	r.routingTable.InitialiseFunctors(table.Functors{
		NetworkStatus: func(status int) {
			if functors.NetworkStatus != nil {
				functors.NetworkStatus(status)
			}
		},
		NodeRemoved: func(node table.NodeInfo, significant bool) {
			if significant {
				logger.Infof("close node %s removed", node.ID.ShortString())
			}
		},
		CloseNodeReplaced: func(group []table.NodeInfo) {
			if functors.CloseNodesChanged != nil {
				functors.CloseNodesChanged(group)
			}
		},
		TableFull: func() {
			logger.Info("routing table reached capacity")
		},
	})

	if len(endpoints) == 0 {
		endpoints = r.cfg.bootstrapEndpoints
	}
	if err := r.network.Bootstrap(ctx, endpoints, r.onMessageReceived, r.onConnectionLost, local); err != nil {
		return err
	}

	r.mu.Lock()
	r.joined = true
	r.mu.Unlock()
	logger.Infof("%s joined via %s", r.nodeID.ShortString(), r.network.BootstrapEndpoint())
	return nil
}

// ZeroStateJoin bootstraps the first two nodes of a fresh network against
// each other: no discovery, just a direct connection from a bound local
// endpoint and a seeded table.
func (r *Routing) ZeroStateJoin(ctx context.Context, functors Functors, local, peer transport.Endpoint, peerInfo table.NodeInfo) error {
	if local.IsZero() || peer.IsZero() || peerInfo.IsEmpty() {
		return fmt.Errorf("routing: zero-state join needs local and peer endpoints and a peer record")
	}
	if err := r.join(ctx, functors, local, []transport.Endpoint{peer}); err != nil {
		return err
	}
	if !r.routingTable.AddNode(peerInfo) {
		return fmt.Errorf("routing: could not admit zero-state peer %s", peerInfo.ID.ShortString())
	}
	return nil
}

// AddNode admits a validated peer to the routing table.
func (r *Routing) AddNode(peer table.NodeInfo) bool {
	return r.routingTable.AddNode(peer)
}

// CheckNode probes admission without mutating, for callers deciding
// whether connection setup is worth it.
func (r *Routing) CheckNode(peer table.NodeInfo) bool {
	return r.routingTable.CheckNode(peer)
}

// RemoveNode drops a peer whose connection is gone.
func (r *Routing) RemoveNode(id nodeid.ID) {
	r.routingTable.RemoveNode(id)
	r.clientTable.RemoveNode(id)
}

// IsNodeIDInGroupRange classifies node against the close group around
// group; see table.GroupRangeStatus.
func (r *Routing) IsNodeIDInGroupRange(group, node nodeid.ID) (table.GroupRangeStatus, error) {
	return r.routingTable.IsNodeIDInGroupRange(group, node)
}

// IsThisNodeInGroupRange classifies this node against group.
func (r *Routing) IsThisNodeInGroupRange(group nodeid.ID) (table.GroupRangeStatus, error) {
	return r.routingTable.IsThisNodeInGroupRange(group)
}

// ClosestToID reports whether this node is closer to target than every
// known peer.
func (r *Routing) ClosestToID(target nodeid.ID) bool {
	closest := r.routingTable.GetClosestNode(target, nil, true)
	if closest.IsEmpty() {
		return true
	}
	return nodeid.Closer(r.nodeID, closest.ID, target)
}

// EstimateInGroup judges whether sender plausibly belongs to the close
// group around info, from this node's view: it does when fewer than a
// group's worth of known peers sit closer to info.
func (r *Routing) EstimateInGroup(sender, info nodeid.ID) bool {
	closer := 0
	for _, n := range r.routingTable.GetClosestNodes(info, params.MaxRoutingTableSize) {
		if n.ID.Equal(sender) {
			continue
		}
		if nodeid.Closer(n.ID, sender, info) {
			closer++
		}
	}
	return closer < params.NodeGroupSize
}

// GetGroup resolves the close group around group asynchronously.
func (r *Routing) GetGroup(group nodeid.ID) <-chan []table.NodeInfo {
	out := make(chan []table.NodeInfo, 1)
	go func() {
		out <- r.routingTable.GetClosestNodes(group, params.NodeGroupSize)
		close(out)
	}()
	return out
}

// RandomConnectedNode picks a random peer outside the protected closest
// set, the usual starting point for probes and audits.
func (r *Routing) RandomConnectedNode() nodeid.ID {
	return r.routingTable.RandomConnectedNode().ID
}

// ClosestNodes returns this node's protected closest peers in closeness
// order.
func (r *Routing) ClosestNodes() []table.NodeInfo {
	return r.routingTable.GetClosestNodes(r.nodeID, params.ClosestNodesSize)
}

// IsConnectedVault reports whether id is a routing table member.
func (r *Routing) IsConnectedVault(id nodeid.ID) bool {
	return r.routingTable.Contains(id)
}

// IsConnectedClient reports whether id is a directly-attached client.
func (r *Routing) IsConnectedClient(id nodeid.ID) bool {
	return r.clientTable.Contains(id)
}

// NetworkStatus is the 0-100 health figure derived from table fill.
func (r *Routing) NetworkStatus() int {
	status := r.routingTable.Size() * 100 / params.MaxRoutingTableSize
	if status > 100 {
		status = 100
	}
	return status
}

// NATType reports what the transport discovered about this node's NAT.
func (r *Routing) NATType() transport.NATType {
	return r.network.NATType()
}

// Stop tears the node down. Idempotent; in-flight sends fail promptly.
func (r *Routing) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.joined = false
	r.mu.Unlock()

	r.network.Stop()
	logger.Infof("%s stopped", r.nodeID.ShortString())
}

func (r *Routing) isJoined() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.joined && !r.stopped
}
