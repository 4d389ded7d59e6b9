// Package testutil provides the shared fixtures for routing tests: random
// node records and a scriptable in-memory transport.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/table"
	"github.com/overlaynet/go-routing/transport"
)

// RandomID returns a fresh random identifier, failing the test on entropy
// trouble.
func RandomID(t *testing.T) nodeid.ID {
	t.Helper()
	id, err := nodeid.NewRandom()
	require.NoError(t, err)
	return id
}

// MakeNode builds a fully-populated peer record with valid key material.
func MakeNode(t *testing.T) table.NodeInfo {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	id := RandomID(t)
	return table.NodeInfo{
		ID:        id,
		PublicKey: priv.PubKey(),
		Endpoint:  transport.Endpoint{Addr: fmt.Sprintf("peer-%s", id.ShortString())},
	}
}

// SortFromTarget orders nodes in place by increasing distance to target.
func SortFromTarget(target nodeid.ID, nodes []table.NodeInfo) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodeid.Closer(nodes[j].ID, nodes[j-1].ID, target); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// SendRecord is one transport send observed by the mock.
type SendRecord struct {
	Data []byte
	To   transport.Endpoint
}

// MockTransport is a scriptable transport.Transport. SendErr decides each
// send's outcome in call order; once the script runs out, sends succeed.
type MockTransport struct {
	mu sync.Mutex

	// SendErr is consumed one entry per Send call.
	SendErr []error
	// BootstrapErr fails Bootstrap attempts while non-nil.
	BootstrapErr error

	sends          []SendRecord
	removed        []transport.Endpoint
	onMessage      transport.OnMessage
	onLost         transport.OnConnectionLost
	bootstrapLocal transport.Endpoint
	stopped        bool
}

var _ transport.Transport = (*MockTransport)(nil)

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Bootstrap(ctx context.Context, endpoints []transport.Endpoint, onMessage transport.OnMessage, onLost transport.OnConnectionLost, local transport.Endpoint) (transport.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BootstrapErr != nil {
		return transport.Endpoint{}, m.BootstrapErr
	}
	if len(endpoints) == 0 {
		return transport.Endpoint{}, transport.ErrNoEndpoints
	}
	m.onMessage = onMessage
	m.onLost = onLost
	m.bootstrapLocal = local
	return endpoints[0], nil
}

// BootstrapLocal returns the local endpoint the last Bootstrap bound.
func (m *MockTransport) BootstrapLocal() transport.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bootstrapLocal
}

func (m *MockTransport) GetAvailableEndpoint(peer transport.Endpoint) (transport.EndpointPair, transport.NATType, error) {
	return transport.EndpointPair{
		Local:    transport.Endpoint{Addr: "local"},
		External: transport.Endpoint{Addr: "external"},
	}, transport.NATCone, nil
}

func (m *MockTransport) Add(local, peer transport.Endpoint, validationToken string) error {
	return nil
}

func (m *MockTransport) Remove(peer transport.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, peer)
}

func (m *MockTransport) Send(data []byte, to transport.Endpoint, onSent transport.OnSent) {
	m.mu.Lock()
	m.sends = append(m.sends, SendRecord{Data: append([]byte(nil), data...), To: to})
	var err error
	if len(m.SendErr) > 0 {
		err = m.SendErr[0]
		m.SendErr = m.SendErr[1:]
	}
	if m.stopped {
		err = transport.ErrStopped
	}
	m.mu.Unlock()

	if onSent != nil {
		onSent(err)
	}
}

func (m *MockTransport) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// Sends returns a snapshot of every observed send.
func (m *MockTransport) Sends() []SendRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendRecord, len(m.sends))
	copy(out, m.sends)
	return out
}

// Removed returns the endpoints torn down so far.
func (m *MockTransport) Removed() []transport.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transport.Endpoint, len(m.removed))
	copy(out, m.removed)
	return out
}

// Deliver injects inbound bytes as if a peer had sent them.
func (m *MockTransport) Deliver(data []byte) {
	m.mu.Lock()
	onMessage := m.onMessage
	m.mu.Unlock()
	if onMessage != nil {
		onMessage(data)
	}
}

// LoseConnection reports a dropped peer connection.
func (m *MockTransport) LoseConnection(peer transport.Endpoint) {
	m.mu.Lock()
	onLost := m.onLost
	m.mu.Unlock()
	if onLost != nil {
		onLost(peer)
	}
}
