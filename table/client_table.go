package table

import (
	"sync"

	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
)

// ClientTable tracks directly-attached client peers. It shares the routing
// table's metric but not its policy: membership is bounded with no
// eviction, and clients never participate in group computation.
type ClientTable struct {
	nodeID nodeid.ID

	mu    sync.RWMutex
	nodes []NodeInfo
}

// NewClientTable builds an empty client table owned by nodeID.
func NewClientTable(nodeID nodeid.ID) *ClientTable {
	return &ClientTable{nodeID: nodeID}
}

// NodeID returns the owning identifier.
func (ct *ClientTable) NodeID() nodeid.ID {
	return ct.nodeID
}

// Size returns the number of attached clients.
func (ct *ClientTable) Size() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.nodes)
}

// Contains reports whether id is an attached client.
func (ct *ClientTable) Contains(id nodeid.ID) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.indexOf(id) >= 0
}

// AddNode admits a client with valid key material and an unused id while
// capacity remains. There is no eviction; a full table rejects.
func (ct *ClientTable) AddNode(client NodeInfo) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if client.ID.IsZero() || client.ID.Equal(ct.nodeID) {
		return false
	}
	if !client.HasValidKey() {
		return false
	}
	if ct.indexOf(client.ID) >= 0 {
		return false
	}
	if len(ct.nodes) >= params.MaxClientTableSize {
		logger.Debugf("client table full, rejecting %s", client.ID.ShortString())
		return false
	}
	ct.nodes = append(ct.nodes, client)
	return true
}

// RemoveNode deletes the client if present, returning the removed record.
func (ct *ClientTable) RemoveNode(id nodeid.ID) (NodeInfo, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	i := ct.indexOf(id)
	if i < 0 {
		return NodeInfo{}, false
	}
	removed := ct.nodes[i]
	ct.nodes = append(ct.nodes[:i], ct.nodes[i+1:]...)
	return removed, true
}

// RemoveEndpoint deletes the client connected through ep, for the
// connection-lost path.
func (ct *ClientTable) RemoveEndpoint(ep string) (NodeInfo, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	for i, n := range ct.nodes {
		if n.Endpoint.Addr == ep {
			removed := n
			ct.nodes = append(ct.nodes[:i], ct.nodes[i+1:]...)
			return removed, true
		}
	}
	return NodeInfo{}, false
}

// GetNode returns the client record for id, or the empty record.
func (ct *ClientTable) GetNode(id nodeid.ID) NodeInfo {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	if i := ct.indexOf(id); i >= 0 {
		return ct.nodes[i]
	}
	return NodeInfo{}
}

// Nodes returns a copy of the current membership.
func (ct *ClientTable) Nodes() []NodeInfo {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make([]NodeInfo, len(ct.nodes))
	copy(out, ct.nodes)
	return out
}

func (ct *ClientTable) indexOf(id nodeid.ID) int {
	for i, n := range ct.nodes {
		if n.ID.Equal(id) {
			return i
		}
	}
	return -1
}
