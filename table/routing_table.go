// Package table maintains a node's closeness-ordered view of its peers: the
// bounded routing table, the smaller client table for directly-attached
// peers, and the group range classification derived from them.
package table

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log"
	"go.opencensus.io/stats"

	"github.com/overlaynet/go-routing/metrics"
	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
)

var logger = logging.Logger("routing.table")

// Functors are the notifications a RoutingTable fires after a mutation
// completes, still under the table lock so observers see a consistent
// snapshot. They must not call back into the table.
type Functors struct {
	// NetworkStatus receives the 0-100 health figure whenever the table
	// size changes.
	NetworkStatus func(status int)

	// NodeRemoved fires for every departure, flagging whether the node was
	// part of the close group and therefore routing-significant.
	NodeRemoved func(node NodeInfo, routingSignificant bool)

	// CloseNodeReplaced fires when the membership of the close group
	// changed, with the new group in closeness order.
	CloseNodeReplaced func(group []NodeInfo)

	// TableFull fires the first time the table reaches capacity.
	TableFull func()
}

// RoutingTable is the bounded, closeness-aware peer set. Peers are kept
// sorted by XOR distance to the owning node's id, so the close group is the
// head of the slice and the eviction candidate is the tail.
type RoutingTable struct {
	nodeID     nodeid.ID
	clientMode bool

	mu          sync.RWMutex
	nodes       []NodeInfo
	functors    Functors
	reachedFull bool
}

// NewRoutingTable builds an empty table owned by nodeID. A client-mode
// table admits peers the same way but never joins other nodes' groups.
func NewRoutingTable(nodeID nodeid.ID, clientMode bool) *RoutingTable {
	return &RoutingTable{
		nodeID:     nodeID,
		clientMode: clientMode,
		nodes:      make([]NodeInfo, 0, params.MaxRoutingTableSize),
	}
}

// NodeID returns the immutable owning identifier.
func (rt *RoutingTable) NodeID() nodeid.ID {
	return rt.nodeID
}

// ClientMode reports whether this table was built for a client node.
func (rt *RoutingTable) ClientMode() bool {
	return rt.clientMode
}

// InitialiseFunctors installs the notification set, replacing any previous
// one.
func (rt *RoutingTable) InitialiseFunctors(f Functors) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.functors = f
}

// Size returns the current number of peers.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.nodes)
}

// Contains reports whether id is a current member.
func (rt *RoutingTable) Contains(id nodeid.ID) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.indexOf(id) >= 0
}

// CheckNode reports whether AddNode would accept the candidate. It never
// mutates the table.
func (rt *RoutingTable) CheckNode(candidate NodeInfo) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.admissible(candidate)
}

// AddNode inserts the peer if admissible, evicting the furthest unprotected
// member when the table is full. Returns false and leaves the table
// untouched on any rejection.
func (rt *RoutingTable) AddNode(peer NodeInfo) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.admissible(peer) {
		return false
	}

	groupBefore := rt.closeGroupIDs()

	if len(rt.nodes) >= params.MaxRoutingTableSize {
		evicted := rt.nodes[len(rt.nodes)-1]
		rt.nodes = rt.nodes[:len(rt.nodes)-1]
		logger.Debugf("evicting %s to admit %s", evicted.ID.ShortString(), peer.ID.ShortString())
		if rt.functors.NodeRemoved != nil {
			rt.functors.NodeRemoved(evicted, false)
		}
	}

	rt.insertSorted(peer)
	stats.Record(context.Background(), metrics.RoutingTableSize.M(int64(len(rt.nodes))))

	rt.notifyGroupChange(groupBefore)
	rt.notifyStatus()
	if len(rt.nodes) == params.MaxRoutingTableSize && !rt.reachedFull {
		rt.reachedFull = true
		if rt.functors.TableFull != nil {
			rt.functors.TableFull()
		}
	}
	return true
}

// RemoveNode deletes the peer if present and fires the node-removed functor
// with the close-group flag. Absent ids are a no-op.
func (rt *RoutingTable) RemoveNode(id nodeid.ID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	i := rt.indexOf(id)
	if i < 0 {
		return
	}
	rt.removeAt(i)
}

// RemoveEndpoint deletes the peer connected through ep, returning the
// removed record. Used by the connection-lost path, which only knows the
// transport address.
func (rt *RoutingTable) RemoveEndpoint(ep string) (NodeInfo, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for i, n := range rt.nodes {
		if n.Endpoint.Addr == ep {
			removed := n
			rt.removeAt(i)
			return removed, true
		}
	}
	return NodeInfo{}, false
}

// GetClosestNode returns the member closest to target, skipping excluded
// ids and, when ignoreExactMatch is set, a member whose id equals target.
// The empty record means no eligible peer exists.
func (rt *RoutingTable) GetClosestNode(target nodeid.ID, exclude []nodeid.ID, ignoreExactMatch bool) NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	excluded := make(map[nodeid.ID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	best := NodeInfo{}
	for _, n := range rt.nodes {
		if _, skip := excluded[n.ID]; skip {
			continue
		}
		if ignoreExactMatch && n.ID.Equal(target) {
			continue
		}
		if best.IsEmpty() || nodeid.Closer(n.ID, best.ID, target) {
			best = n
		}
	}
	return best
}

// GetClosestNodes returns up to count members ordered by increasing
// distance to target. The order is deterministic.
func (rt *RoutingTable) GetClosestNodes(target nodeid.ID, count int) []NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([]NodeInfo, len(rt.nodes))
	copy(out, rt.nodes)
	sortByDistance(out, target)
	if len(out) > count {
		out = out[:count]
	}
	return out
}

// CloseGroup returns the current close group in closeness order.
func (rt *RoutingTable) CloseGroup() []NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.closeGroup()
}

// FurthestCloseNode is the outermost member still protected as a close
// node, or the empty record for a table smaller than the protected set.
func (rt *RoutingTable) FurthestCloseNode() NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if len(rt.nodes) == 0 {
		return NodeInfo{}
	}
	i := params.ClosestNodesSize - 1
	if i >= len(rt.nodes) {
		i = len(rt.nodes) - 1
	}
	return rt.nodes[i]
}

// RandomConnectedNode picks a random member outside the protected closest
// set. Callers should not use it while the table is smaller than that set;
// in that case it falls back to any member, or the empty record.
func (rt *RoutingTable) RandomConnectedNode() NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if len(rt.nodes) == 0 {
		return NodeInfo{}
	}
	pool := rt.nodes
	if len(rt.nodes) > params.ClosestNodesSize {
		pool = rt.nodes[params.ClosestNodesSize:]
	}
	return pool[rand.Intn(len(pool))]
}

// locked helpers

func (rt *RoutingTable) admissible(candidate NodeInfo) bool {
	if candidate.ID.IsZero() || candidate.ID.Equal(rt.nodeID) {
		return false
	}
	if !candidate.HasValidKey() {
		return false
	}
	if rt.indexOf(candidate.ID) >= 0 {
		return false
	}
	if len(rt.nodes) < params.MaxRoutingTableSize {
		return true
	}
	worst := rt.nodes[len(rt.nodes)-1]
	return nodeid.Closer(candidate.ID, worst.ID, rt.nodeID)
}

func (rt *RoutingTable) indexOf(id nodeid.ID) int {
	for i, n := range rt.nodes {
		if n.ID.Equal(id) {
			return i
		}
	}
	return -1
}

func (rt *RoutingTable) insertSorted(peer NodeInfo) {
	i := sort.Search(len(rt.nodes), func(i int) bool {
		return less(peer, rt.nodes[i], rt.nodeID)
	})
	rt.nodes = append(rt.nodes, NodeInfo{})
	copy(rt.nodes[i+1:], rt.nodes[i:])
	rt.nodes[i] = peer
}

func (rt *RoutingTable) removeAt(i int) {
	removed := rt.nodes[i]
	wasClose := i < params.NodeGroupSize
	groupBefore := rt.closeGroupIDs()

	rt.nodes = append(rt.nodes[:i], rt.nodes[i+1:]...)
	stats.Record(context.Background(), metrics.RoutingTableSize.M(int64(len(rt.nodes))))

	if rt.functors.NodeRemoved != nil {
		rt.functors.NodeRemoved(removed, wasClose)
	}
	rt.notifyGroupChange(groupBefore)
	rt.notifyStatus()
}

func (rt *RoutingTable) closeGroup() []NodeInfo {
	n := params.NodeGroupSize
	if n > len(rt.nodes) {
		n = len(rt.nodes)
	}
	group := make([]NodeInfo, n)
	copy(group, rt.nodes[:n])
	return group
}

func (rt *RoutingTable) closeGroupIDs() []nodeid.ID {
	group := rt.closeGroup()
	ids := make([]nodeid.ID, len(group))
	for i, n := range group {
		ids[i] = n.ID
	}
	return ids
}

func (rt *RoutingTable) notifyGroupChange(before []nodeid.ID) {
	if rt.functors.CloseNodeReplaced == nil {
		return
	}
	after := rt.closeGroupIDs()
	if len(before) == len(after) {
		same := true
		for i := range before {
			if !before[i].Equal(after[i]) {
				same = false
				break
			}
		}
		if same {
			return
		}
	}
	rt.functors.CloseNodeReplaced(rt.closeGroup())
}

func (rt *RoutingTable) notifyStatus() {
	if rt.functors.NetworkStatus != nil {
		rt.functors.NetworkStatus(healthStatus(len(rt.nodes)))
	}
}

func healthStatus(size int) int {
	status := size * 100 / params.MaxRoutingTableSize
	if status > 100 {
		status = 100
	}
	return status
}

// less orders peers by closeness to target. Equal distance between distinct
// ids cannot happen in a collision-resistant id space; it is logged as a
// defect and broken deterministically by rank, then raw id.
func less(a, b NodeInfo, target nodeid.ID) bool {
	switch nodeid.CompareDistance(a.ID, b.ID, target) {
	case -1:
		return true
	case 1:
		return false
	}
	if !a.ID.Equal(b.ID) {
		logger.Errorf("distance tie between distinct ids %s and %s", a.ID.ShortString(), b.ID.ShortString())
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return nodeid.Compare(a.ID, b.ID) < 0
}

func sortByDistance(nodes []NodeInfo, target nodeid.ID) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return less(nodes[i], nodes[j], target)
	})
}
