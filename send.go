package routing

import (
	"github.com/overlaynet/go-routing/message"
	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
	"github.com/overlaynet/go-routing/timer"
)

// ResponseFunc receives a response payload, or the reason none will come
// (timeout, delivery failure, shutdown). For group sends it fires once per
// expected response.
type ResponseFunc = timer.ResponseFunc

// SendDirect routes payload to the single node closest to destination. A
// non-nil response functor fires exactly once, with the reply or with the
// failure reason when the response window closes.
func (r *Routing) SendDirect(destination nodeid.ID, payload []byte, cacheable bool, response ResponseFunc) error {
	if err := r.validateSend(destination, payload); err != nil {
		return err
	}

	msg := message.New(message.TypeDirect, destination, r.nodeID, payload)
	msg.Cacheable = cacheable
	if response != nil {
		r.timer.AddTask(msg.ID, r.cfg.responseTimeout, 1, response)
	}
	r.network.SendToClosestNode(msg)
	return nil
}

// SendGroup fans payload out to the close group around destination. A node
// whose id equals destination is not part of that group and never receives
// the message. A non-nil response functor fires once per group member, with
// the reply or a timeout.
func (r *Routing) SendGroup(destination nodeid.ID, payload []byte, cacheable bool, response ResponseFunc) error {
	if err := r.validateSend(destination, payload); err != nil {
		return err
	}

	msg := message.New(message.TypeGroup, destination, r.nodeID, payload)
	msg.Cacheable = cacheable
	if response != nil {
		r.timer.AddTask(msg.ID, r.cfg.responseTimeout, params.NodeGroupSize, response)
	}

	members := r.groupMembers(destination)
	if len(members) == 0 {
		// Nothing local to fan out to; route a single copy toward the
		// group centre and let closer nodes replicate.
		r.network.SendToClosestNode(msg)
		return nil
	}
	for _, member := range members {
		copied := *msg
		r.network.AdjustRouteHistory(&copied)
		r.network.SendToDirectEndpoint(&copied, member.Endpoint, nil)
	}
	return nil
}

func (r *Routing) validateSend(destination nodeid.ID, payload []byte) error {
	if destination.IsZero() {
		return ErrInvalidDestination
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	r.mu.RLock()
	stopped, joined := r.stopped, r.joined
	r.mu.RUnlock()
	if stopped {
		return ErrStopped
	}
	if !joined {
		return ErrNotJoined
	}
	return nil
}
