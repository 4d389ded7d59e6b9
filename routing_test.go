package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/overlaynet/go-routing/internal/testutil"
	"github.com/overlaynet/go-routing/message"
	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
	"github.com/overlaynet/go-routing/table"
	"github.com/overlaynet/go-routing/transport"
)

type harness struct {
	node *Routing
	tr   *testutil.MockTransport
	clk  *clock.Mock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	tr := testutil.NewMockTransport()
	clk := clock.NewMock()
	node, err := New(append([]Option{WithTransport(tr), WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(node.Stop)
	return &harness{node: node, tr: tr, clk: clk}
}

func (h *harness) join(t *testing.T, functors Functors) {
	t.Helper()
	err := h.node.Join(context.Background(), functors, transport.Endpoint{Addr: "bootstrap"})
	require.NoError(t, err)
}

func (h *harness) addPeers(t *testing.T, count int) []nodeid.ID {
	t.Helper()
	var ids []nodeid.ID
	for i := 0; i < count; i++ {
		n := testutil.MakeNode(t)
		require.True(t, h.node.AddNode(n))
		ids = append(ids, n.ID)
	}
	return ids
}

func waitForSends(t *testing.T, tr *testutil.MockTransport, want int) []testutil.SendRecord {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(tr.Sends()) >= want
	}, time.Second, 5*time.Millisecond)
	return tr.Sends()
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New()
	require.ErrorIs(t, err, ErrNoTransport)
}

func TestIdentityFollowsNodeType(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	wantID, err := nodeid.FromPublicKey(key.PubKey())
	require.NoError(t, err)

	full := newHarness(t, WithPrivateKey(key))
	require.True(t, full.node.NodeID().Equal(wantID))

	chosen := testutil.RandomID(t)
	client := newHarness(t, WithNodeType(NonMutatingClient), WithNodeID(chosen))
	require.True(t, client.node.NodeID().Equal(chosen))

	anon := newHarness(t, WithNodeType(NonMutatingClient))
	require.False(t, anon.node.NodeID().IsZero())
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t)

	err := h.node.SendDirect(testutil.RandomID(t), []byte("x"), false, nil)
	require.ErrorIs(t, err, ErrNotJoined)

	h.join(t, Functors{})
	require.ErrorIs(t, h.node.SendDirect(nodeid.Zero, []byte("x"), false, nil), ErrInvalidDestination)
	require.ErrorIs(t, h.node.SendDirect(testutil.RandomID(t), nil, false, nil), ErrEmptyPayload)
	require.ErrorIs(t, h.node.SendGroup(nodeid.Zero, []byte("x"), false, nil), ErrInvalidDestination)

	h.node.Stop()
	require.ErrorIs(t, h.node.SendDirect(testutil.RandomID(t), []byte("x"), false, nil), ErrStopped)
}

func TestSendDirectRoutesViaClosestPeer(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{})
	h.addPeers(t, 4)

	require.NoError(t, h.node.SendDirect(testutil.RandomID(t), []byte("ping"), false, nil))

	sends := waitForSends(t, h.tr, 1)
	sent, err := message.Unmarshal(sends[0].Data)
	require.NoError(t, err)
	require.Equal(t, message.TypeDirect, sent.Type)
	require.True(t, sent.Source.Equal(h.node.NodeID()))
	require.True(t, sent.HasVisited(h.node.NodeID()))
}

func TestSendDirectResponseRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{})
	h.addPeers(t, 2)

	var mu sync.Mutex
	var got []byte
	var gotErr error
	dest := testutil.RandomID(t)
	require.NoError(t, h.node.SendDirect(dest, []byte("question"), false, func(payload []byte, err error) {
		mu.Lock()
		defer mu.Unlock()
		got, gotErr = payload, err
	}))
	sends := waitForSends(t, h.tr, 1)
	sent, err := message.Unmarshal(sends[0].Data)
	require.NoError(t, err)

	// the destination answers
	sent.MakeResponse(dest, []byte("answer"))
	data, err := sent.Marshal()
	require.NoError(t, err)
	h.tr.Deliver(data)

	mu.Lock()
	defer mu.Unlock()
	require.NoError(t, gotErr)
	require.Equal(t, []byte("answer"), got)
}

func TestSendDirectResponseTimeout(t *testing.T) {
	h := newHarness(t, WithResponseTimeout(time.Second))
	h.join(t, Functors{})
	h.addPeers(t, 2)

	var mu sync.Mutex
	var errs []error
	require.NoError(t, h.node.SendDirect(testutil.RandomID(t), []byte("q"), false, func(payload []byte, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}))
	waitForSends(t, h.tr, 1)

	h.clk.Add(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	require.Error(t, errs[0])
}

func TestSendGroupFansOut(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{})
	h.addPeers(t, params.ClosestNodesSize)

	require.NoError(t, h.node.SendGroup(testutil.RandomID(t), []byte("group"), false, nil))

	sends := waitForSends(t, h.tr, params.NodeGroupSize)
	require.Len(t, sends, params.NodeGroupSize)
	seen := map[string]struct{}{}
	for _, s := range sends {
		sent, err := message.Unmarshal(s.Data)
		require.NoError(t, err)
		require.Equal(t, message.TypeGroup, sent.Type)
		seen[s.To.Addr] = struct{}{}
	}
	require.Len(t, seen, params.NodeGroupSize)
}

func TestZeroStateJoinBindsLocalEndpoint(t *testing.T) {
	h := newHarness(t)
	peer := testutil.MakeNode(t)
	local := transport.Endpoint{Addr: "local:5483"}

	err := h.node.ZeroStateJoin(context.Background(), Functors{}, transport.Endpoint{}, peer.Endpoint, peer)
	require.Error(t, err)

	err = h.node.ZeroStateJoin(context.Background(), Functors{}, local, peer.Endpoint, peer)
	require.NoError(t, err)
	require.Equal(t, local, h.tr.BootstrapLocal())
	require.True(t, h.node.IsConnectedVault(peer.ID))

	// sends now work without any further discovery
	require.NoError(t, h.node.SendDirect(testutil.RandomID(t), []byte("x"), false, nil))
	waitForSends(t, h.tr, 1)
}

func TestRelayedRequestRepliesToRelayEndpoint(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{
		MessageReceived: func(payload []byte, cacheable bool, reply func([]byte)) {
			reply([]byte("welcome"))
		},
	})
	h.addPeers(t, 2)

	// a joiner with no routable identity yet reaches us through a relay
	relayID := testutil.RandomID(t)
	req := message.New(message.TypeDirect, h.node.NodeID(), nodeid.Zero, []byte("hello"))
	req.RelayID = relayID
	req.RelayEndpoint = transport.Endpoint{Addr: "relay-ep"}
	data, err := req.Marshal()
	require.NoError(t, err)
	h.tr.Deliver(data)

	sends := waitForSends(t, h.tr, 1)
	require.Equal(t, "relay-ep", sends[0].To.Addr)
	out, err := message.Unmarshal(sends[0].Data)
	require.NoError(t, err)
	require.False(t, out.Request)
	require.True(t, out.Destination.Equal(relayID))
	require.Equal(t, []byte("welcome"), out.Payload)
}

func TestInboundRequestDeliveredWithReply(t *testing.T) {
	var mu sync.Mutex
	var delivered []byte
	h := newHarness(t)
	h.join(t, Functors{
		MessageReceived: func(payload []byte, cacheable bool, reply func([]byte)) {
			mu.Lock()
			delivered = payload
			mu.Unlock()
			reply([]byte("reply"))
		},
	})
	h.addPeers(t, 2)

	sender := testutil.MakeNode(t)
	require.True(t, h.node.AddNode(sender))
	req := message.New(message.TypeDirect, h.node.NodeID(), sender.ID, []byte("request"))
	data, err := req.Marshal()
	require.NoError(t, err)
	h.tr.Deliver(data)

	mu.Lock()
	require.Equal(t, []byte("request"), delivered)
	mu.Unlock()

	// the reply goes back out, addressed to the sender
	sends := waitForSends(t, h.tr, 1)
	out, err := message.Unmarshal(sends[len(sends)-1].Data)
	require.NoError(t, err)
	require.False(t, out.Request)
	require.True(t, out.Destination.Equal(sender.ID))
	require.Equal(t, out.ID, req.ID)
}

func TestForwardingDecrementsHopsAndGuardsLoops(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{})
	h.addPeers(t, 4)

	other := testutil.RandomID(t)
	transit := message.New(message.TypeDirect, other, testutil.RandomID(t), []byte("transit"))
	hops := transit.HopsToLive
	data, err := transit.Marshal()
	require.NoError(t, err)
	h.tr.Deliver(data)

	sends := waitForSends(t, h.tr, 1)
	fwd, err := message.Unmarshal(sends[0].Data)
	require.NoError(t, err)
	require.Equal(t, hops-1, fwd.HopsToLive)
	require.True(t, fwd.HasVisited(h.node.NodeID()))

	// route it back in: the loop guard refuses a second pass
	data, err = fwd.Marshal()
	require.NoError(t, err)
	h.tr.Deliver(data)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, h.tr.Sends(), 1)
}

func TestConnectionLostEvictsPeer(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{})

	peer := testutil.MakeNode(t)
	require.True(t, h.node.AddNode(peer))
	require.True(t, h.node.IsConnectedVault(peer.ID))

	h.tr.LoseConnection(peer.Endpoint)
	require.False(t, h.node.IsConnectedVault(peer.ID))
}

func TestNetworkStatusTracksTableFill(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 0, h.node.NetworkStatus())
	h.join(t, Functors{})
	h.addPeers(t, params.MaxRoutingTableSize/2)
	require.Equal(t, 50, h.node.NetworkStatus())
}

func TestCloseNodesChangedFunctor(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	h := newHarness(t)
	h.join(t, Functors{
		CloseNodesChanged: func(group []table.NodeInfo) {
			mu.Lock()
			defer mu.Unlock()
			fired++
		},
	})
	h.addPeers(t, params.NodeGroupSize)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, params.NodeGroupSize, fired)
}

func TestStopIdempotent(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{})
	h.node.Stop()
	h.node.Stop()
	require.ErrorIs(t, h.node.SendDirect(testutil.RandomID(t), []byte("x"), false, nil), ErrStopped)
}

func TestJoinAfterStopRefused(t *testing.T) {
	h := newHarness(t)
	h.node.Stop()
	err := h.node.Join(context.Background(), Functors{}, transport.Endpoint{Addr: "bootstrap"})
	require.ErrorIs(t, err, ErrStopped)
}

func TestGetGroupAndQueries(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{})
	h.addPeers(t, params.ClosestNodesSize)

	target := testutil.RandomID(t)
	group := <-h.node.GetGroup(target)
	require.Len(t, group, params.NodeGroupSize)

	require.Len(t, h.node.ClosestNodes(), params.ClosestNodesSize)
	require.False(t, h.node.RandomConnectedNode().IsZero())
}

func TestClosestToID(t *testing.T) {
	h := newHarness(t)
	// with no peers this node is trivially closest
	require.True(t, h.node.ClosestToID(testutil.RandomID(t)))

	h.join(t, Functors{})
	ids := h.addPeers(t, params.ClosestNodesSize)

	// a target one bit away from a known peer has that peer closer
	target := ids[0]
	target[nodeid.Size-1] ^= 0x01
	require.False(t, h.node.ClosestToID(target))
}

func TestEstimateInGroup(t *testing.T) {
	h := newHarness(t)
	h.join(t, Functors{})

	// an empty view estimates everyone in group
	require.True(t, h.node.EstimateInGroup(testutil.RandomID(t), testutil.RandomID(t)))

	ids := h.addPeers(t, params.MaxRoutingTableSize/2)

	// a known peer is in the group around its own id
	require.True(t, h.node.EstimateInGroup(ids[0], ids[0]))
}
