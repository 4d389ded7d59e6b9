package table

import (
	"errors"
	"fmt"

	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
)

// GroupRangeStatus classifies an identifier against a group centre.
type GroupRangeStatus int

const (
	// InRange means the id is genuinely inside the computed close group.
	InRange GroupRangeStatus = iota
	// InProximalRange means the id is near enough to the group to be
	// relevant as a relay or backup without being a member.
	InProximalRange
	// OutwithRange means the id is unrelated to the group.
	OutwithRange
)

func (s GroupRangeStatus) String() string {
	switch s {
	case InRange:
		return "in range"
	case InProximalRange:
		return "in proximal range"
	case OutwithRange:
		return "outwith range"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrUnknownNode is returned when range classification is requested for an
// id that is neither this node nor a table member: the result would not be
// meaningful relative to observable table state, so the call is a contract
// violation rather than a network condition.
var ErrUnknownNode = errors.New("table: node id not evaluable against table state")

// IsNodeIDInGroupRange classifies node against the close group around
// group. A node is never "in range" of itself as a distinct relation, so
// group==own or group==node forces OutwithRange.
func (rt *RoutingTable) IsNodeIDInGroupRange(group, node nodeid.ID) (GroupRangeStatus, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if group.Equal(rt.nodeID) || group.Equal(node) {
		return OutwithRange, nil
	}
	if !node.Equal(rt.nodeID) && rt.indexOf(node) < 0 {
		return OutwithRange, fmt.Errorf("%w: %s", ErrUnknownNode, node.ShortString())
	}

	// Rank everything we can observe, ourselves included, by closeness to
	// the group centre.
	candidates := make([]NodeInfo, 0, len(rt.nodes)+1)
	candidates = append(candidates, NodeInfo{ID: rt.nodeID})
	candidates = append(candidates, rt.nodes...)
	sortByDistance(candidates, group)

	limit := params.NodeGroupSize
	if limit > len(candidates) {
		limit = len(candidates)
	}
	for _, c := range candidates[:limit] {
		if c.ID.Equal(node) {
			return InRange, nil
		}
	}

	furthest := rt.furthestCloseNodeTo(group)
	if furthest.IsEmpty() {
		return OutwithRange, nil
	}
	if nodeid.Distance(node, group).Cmp(nodeid.Distance(rt.nodeID, furthest.ID)) < 0 {
		return InProximalRange, nil
	}
	return OutwithRange, nil
}

// IsThisNodeInGroupRange is the single-id form, classifying this node
// against the group centre.
func (rt *RoutingTable) IsThisNodeInGroupRange(group nodeid.ID) (GroupRangeStatus, error) {
	return rt.IsNodeIDInGroupRange(group, rt.nodeID)
}

// furthestCloseNodeTo is the peer at the outer edge of the group computed
// around target, considering table peers only. Caller holds the lock.
func (rt *RoutingTable) furthestCloseNodeTo(target nodeid.ID) NodeInfo {
	if len(rt.nodes) == 0 {
		return NodeInfo{}
	}
	peers := make([]NodeInfo, len(rt.nodes))
	copy(peers, rt.nodes)
	sortByDistance(peers, target)

	i := params.NodeGroupSize - 1
	if i >= len(peers) {
		i = len(peers) - 1
	}
	return peers[i]
}
