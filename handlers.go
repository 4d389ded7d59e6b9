package routing

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/overlaynet/go-routing/message"
	"github.com/overlaynet/go-routing/metrics"
	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
	"github.com/overlaynet/go-routing/table"
	"github.com/overlaynet/go-routing/transport"
)

// onMessageReceived is the transport's inbound callback. It dispatches
// responses to the timer, delivers messages this node is responsible for,
// and forwards the rest.
func (r *Routing) onMessageReceived(data []byte) {
	msg, err := message.Unmarshal(data)
	if err != nil {
		logger.Warnf("dropping undecodable message: %s", err)
		return
	}
	ctx, _ := tag.New(context.Background(), tag.Upsert(metrics.KeyMessageType, msg.Type.String()))
	stats.Record(ctx, metrics.ReceivedMessages.M(1))

	if !r.isJoined() {
		// Pre-join traffic is limited to bootstrap/relay exchanges the
		// engine handles; anything else has nowhere to go yet.
		logger.Debugf("dropping %s message before join", msg.Type)
		return
	}

	msg.HopsToLive--
	if err := msg.Validate(); err != nil {
		stats.Record(ctx, metrics.DroppedMessages.M(1))
		logger.Debugf("dropping message %s: %s", msg.ID, err)
		return
	}

	// Loop guard: never forward along a path this node already sat on.
	forUs := r.responsibleFor(msg)
	if !forUs && msg.HasVisited(r.nodeID) {
		stats.Record(ctx, metrics.DroppedMessages.M(1))
		logger.Debugf("refusing to re-forward message %s", msg.ID)
		return
	}

	// Cacheable responses passing through are kept, best-effort.
	if msg.Cacheable && !msg.Request {
		r.cache.AddToCache(msg)
		if fn := r.storeCacheDataFunctor(); fn != nil {
			fn(msg.Payload)
		}
	}

	if forUs {
		r.deliver(msg)
		return
	}
	r.network.SendToClosestNode(msg)
}

// responsibleFor decides whether this node consumes the message rather
// than forwarding it.
func (r *Routing) responsibleFor(msg *message.Message) bool {
	if msg.Destination.Equal(r.nodeID) {
		return true
	}
	if msg.Type == message.TypeGroup {
		status, err := r.routingTable.IsThisNodeInGroupRange(msg.Destination)
		return err == nil && status == table.InRange
	}
	return false
}

func (r *Routing) deliver(msg *message.Message) {
	if !msg.Request {
		if !r.timer.AddResponse(msg.ID, msg.Payload) {
			logger.Debugf("response %s matched no outstanding task", msg.ID)
		}
		return
	}

	// A group request reaching a group member is replicated to the rest of
	// the group before local delivery.
	if msg.Type == message.TypeGroup {
		r.replicateToGroup(msg)
	}

	fn := r.messageReceivedFunctor()
	if fn == nil {
		logger.Debugf("no message handler installed, dropping request %s", msg.ID)
		return
	}

	source := msg.Source
	relayID := msg.RelayID
	relayEndpoint := msg.RelayEndpoint
	replied := false
	reply := func(response []byte) {
		if replied {
			return
		}
		out := *msg
		out.MakeResponse(r.nodeID, response)
		if source.IsZero() {
			// A sourceless request came through a relay; the joiner
			// behind it is only reachable at its relay endpoint.
			if relayEndpoint.IsZero() {
				return
			}
			replied = true
			out.Destination = relayID
			r.network.SendToDirectEndpoint(&out, relayEndpoint, nil)
			return
		}
		replied = true
		r.network.SendToClosestNode(&out)
	}
	fn(msg.Payload, msg.Cacheable, reply)
}

// replicateToGroup hands a group request to the other members of the close
// group around its destination, skipping nodes already on the route.
func (r *Routing) replicateToGroup(msg *message.Message) {
	for _, member := range r.groupMembers(msg.Destination) {
		if member.ID.Equal(r.nodeID) || msg.HasVisited(member.ID) {
			continue
		}
		copied := *msg
		r.network.AdjustRouteHistory(&copied)
		r.network.SendToDirectEndpoint(&copied, member.Endpoint, nil)
	}
}

// groupMembers is the close group around group from this node's table, the
// centre id itself excluded.
func (r *Routing) groupMembers(group nodeid.ID) []table.NodeInfo {
	candidates := r.routingTable.GetClosestNodes(group, params.NodeGroupSize+1)
	members := make([]table.NodeInfo, 0, params.NodeGroupSize)
	for _, n := range candidates {
		if n.ID.Equal(group) {
			continue
		}
		members = append(members, n)
		if len(members) == params.NodeGroupSize {
			break
		}
	}
	return members
}

// onConnectionLost reacts to transport-level disconnects on whichever
// thread the transport fires them from.
func (r *Routing) onConnectionLost(peer transport.Endpoint) {
	if removed, ok := r.routingTable.RemoveEndpoint(peer.Addr); ok {
		logger.Infof("lost connection to peer %s", removed.ID.ShortString())
		return
	}
	if removed, ok := r.clientTable.RemoveEndpoint(peer.Addr); ok {
		logger.Infof("lost connection to client %s", removed.ID.ShortString())
		return
	}
	logger.Debugf("lost connection to unknown endpoint %s", peer)
}

func (r *Routing) messageReceivedFunctor() func([]byte, bool, func([]byte)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.functors.MessageReceived
}

func (r *Routing) storeCacheDataFunctor() func([]byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.functors.StoreCacheData
}
