// Package net is the send/forward engine: it resolves next hops from the
// routing tables, drives the transport, and retries failed hops with the
// next-best candidate until the attempt budget runs out.
package net

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log"
	"go.opencensus.io/stats"

	"github.com/overlaynet/go-routing/cache"
	"github.com/overlaynet/go-routing/message"
	"github.com/overlaynet/go-routing/metrics"
	"github.com/overlaynet/go-routing/params"
	"github.com/overlaynet/go-routing/sentpeerset"
	"github.com/overlaynet/go-routing/table"
	"github.com/overlaynet/go-routing/timer"
	"github.com/overlaynet/go-routing/transport"
)

var logger = logging.Logger("routing.net")

var (
	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("net: network stopped")

	// ErrAlreadyBootstrapped is returned by a second Bootstrap.
	ErrAlreadyBootstrapped = errors.New("net: already bootstrapped")

	// ErrNoRoute means no eligible next hop exists for a destination.
	ErrNoRoute = errors.New("net: no eligible next hop")

	// ErrDeliveryFailed means every permitted hop attempt failed.
	ErrDeliveryFailed = errors.New("net: delivery failed after retries")
)

const bootstrapAttempts = 3

// Network owns the transport collaborator on behalf of the routing core.
// Sends never block the caller; outcomes surface through the timer's
// response tasks.
type Network struct {
	routingTable *table.RoutingTable
	clientTable  *table.ClientTable
	timer        *timer.Timer
	cache        *cache.Manager
	tr           transport.Transport

	mu                sync.RWMutex
	stopped           bool
	bootstrapEndpoint transport.Endpoint
	natType           transport.NATType
}

// New wires the engine to its collaborators. The cache may be nil for nodes
// that do not serve cached content.
func New(rt *table.RoutingTable, ct *table.ClientTable, tm *timer.Timer, cm *cache.Manager, tr transport.Transport) *Network {
	return &Network{
		routingTable: rt,
		clientTable:  ct,
		timer:        tm,
		cache:        cm,
		tr:           tr,
	}
}

// Bootstrap attempts the candidate endpoints until the transport reports a
// usable connection. It blocks the caller: joining is a precondition for
// everything else. Attempts are paced with exponential backoff and the
// per-attempt errors are accumulated in the returned error.
func (n *Network) Bootstrap(ctx context.Context, endpoints []transport.Endpoint, onMessage transport.OnMessage, onLost transport.OnConnectionLost, local transport.Endpoint) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return ErrStopped
	}
	if !n.bootstrapEndpoint.IsZero() {
		n.mu.Unlock()
		return ErrAlreadyBootstrapped
	}
	n.mu.Unlock()

	if len(endpoints) == 0 {
		return transport.ErrNoEndpoints
	}

	var attemptErrs error
	var connected transport.Endpoint
	operation := func() error {
		ep, err := n.tr.Bootstrap(ctx, endpoints, onMessage, onLost, local)
		if err != nil {
			attemptErrs = multierror.Append(attemptErrs, err)
			return err
		}
		connected = ep
		return nil
	}

	pace := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), bootstrapAttempts-1), ctx)
	if err := backoff.Retry(operation, pace); err != nil {
		return multierror.Append(transport.ErrNoEndpoints, attemptErrs)
	}

	n.mu.Lock()
	n.bootstrapEndpoint = connected
	n.mu.Unlock()
	logger.Infof("bootstrapped via %s", connected)
	return nil
}

// BootstrapEndpoint returns the endpoint bootstrap connected through, or
// the zero endpoint before a successful Bootstrap.
func (n *Network) BootstrapEndpoint() transport.Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bootstrapEndpoint
}

// NATType reports the traversal situation discovered during endpoint
// negotiation.
func (n *Network) NATType() transport.NATType {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.natType
}

// GetAvailableEndpoint negotiates the endpoint pair to offer peer, keeping
// note of the NAT type on the way.
func (n *Network) GetAvailableEndpoint(peer transport.Endpoint) (transport.EndpointPair, transport.NATType, error) {
	if n.isStopped() {
		return transport.EndpointPair{}, transport.NATUnknown, ErrStopped
	}
	pair, nat, err := n.tr.GetAvailableEndpoint(peer)
	if err != nil {
		return pair, nat, err
	}
	n.mu.Lock()
	n.natType = nat
	n.mu.Unlock()
	return pair, nat, nil
}

// Add establishes a managed connection to peer.
func (n *Network) Add(local, peer transport.Endpoint, validationToken string) error {
	if n.isStopped() {
		return ErrStopped
	}
	return n.tr.Add(local, peer, validationToken)
}

// Remove tears down the managed connection to peer.
func (n *Network) Remove(peer transport.Endpoint) {
	n.tr.Remove(peer)
}

// SendToDirectEndpoint bypasses hop selection and transmits straight to a
// known endpoint, as relay and bootstrap exchanges require. onSent may be
// nil; when given it fires exactly once.
func (n *Network) SendToDirectEndpoint(msg *message.Message, endpoint transport.Endpoint, onSent transport.OnSent) {
	if n.isStopped() {
		if onSent != nil {
			onSent(ErrStopped)
		}
		return
	}
	data, err := msg.Marshal()
	if err != nil {
		logger.Errorf("marshalling message %s: %s", msg.ID, err)
		if onSent != nil {
			onSent(err)
		}
		return
	}
	stats.Record(context.Background(), metrics.SentMessages.M(1))
	n.tr.Send(data, endpoint, onSent)
}

// SendToClosestNode routes the message toward its destination through the
// best known hop, retrying through worse hops on transport failure. The
// call returns immediately; exhausted attempts surface through the response
// task for the message id.
func (n *Network) SendToClosestNode(msg *message.Message) {
	if n.isStopped() {
		n.deliveryFailed(msg, ErrStopped)
		return
	}
	if err := msg.Validate(); err != nil {
		logger.Warnf("refusing to route message %s: %s", msg.ID, err)
		n.deliveryFailed(msg, err)
		return
	}

	// A cache-eligible request may already be answerable here; a hit turns
	// the message into a response, which is then routed normally.
	if n.cache != nil && msg.Cacheable && msg.Request {
		n.cache.HandleGetFromCache(msg)
	}

	// Directly-attached clients are reached without hop selection.
	if client := n.clientTable.GetNode(msg.Destination); !client.IsEmpty() {
		n.SendToDirectEndpoint(msg, client.Endpoint, func(err error) {
			if err != nil {
				logger.Warnf("send to attached client %s failed: %s", client.ID.ShortString(), err)
				n.deliveryFailed(msg, err)
			}
		})
		return
	}

	go n.sendOn(msg)
}

// sendOn is the bounded retry loop: pick the closest hop not yet attempted,
// hand the message to the transport, and on failure drop the dead peer and
// reselect. The routing table may change between attempts; each selection
// sees its current state.
func (n *Network) sendOn(msg *message.Message) {
	attempted := sentpeerset.New(msg.Destination)

	// A group message must not be delivered to a node whose id equals the
	// group centre; it is not a group member.
	ignoreExactMatch := msg.Type == message.TypeGroup

	for attempted.NumAttempts() < params.MaxSendRetries {
		if n.isStopped() {
			n.deliveryFailed(msg, ErrStopped)
			return
		}

		next := n.routingTable.GetClosestNode(msg.Destination, attempted.Tried(), ignoreExactMatch)
		if next.IsEmpty() {
			// Before the table has peers, everything relays through the
			// bootstrap connection.
			if be := n.BootstrapEndpoint(); !be.IsZero() && attempted.NumAttempts() == 0 {
				n.AdjustRouteHistory(msg)
				n.SendToDirectEndpoint(msg, be, nil)
				return
			}
			logger.Debugf("no eligible hop for %s after %d attempts", msg.Destination.ShortString(), attempted.NumAttempts())
			n.deliveryFailed(msg, ErrNoRoute)
			return
		}

		attempted.TryAdd(next.ID)
		attempted.SetState(next.ID, sentpeerset.AttemptSent)
		n.AdjustRouteHistory(msg)

		data, err := msg.Marshal()
		if err != nil {
			logger.Errorf("marshalling message %s: %s", msg.ID, err)
			n.deliveryFailed(msg, err)
			return
		}

		outcome := make(chan error, 1)
		start := time.Now()
		n.tr.Send(data, next.Endpoint, func(err error) { outcome <- err })
		err = <-outcome
		stats.Record(context.Background(),
			metrics.SentMessages.M(1),
			metrics.SendLatency.M(float64(time.Since(start))/float64(time.Millisecond)),
		)

		if err == nil {
			attempted.SetState(next.ID, sentpeerset.AttemptAcked)
			return
		}

		attempted.SetState(next.ID, sentpeerset.AttemptFailed)
		stats.Record(context.Background(), metrics.SendRetries.M(1))
		logger.Debugf("hop %s failed for message %s (attempt %d): %s",
			next.ID.ShortString(), msg.ID, attempted.NumAttempts(), err)

		// The peer is unreachable: connection and table entry both go.
		n.tr.Remove(next.Endpoint)
		n.routingTable.RemoveNode(next.ID)
	}

	if failed := attempted.ClosestInStates(sentpeerset.AttemptFailed); len(failed) > 0 {
		logger.Warnf("message %s exhausted its attempts, %d dead hops, nearest %s",
			msg.ID, attempted.NumFailed(), failed[0].ShortString())
	}
	n.deliveryFailed(msg, ErrDeliveryFailed)
}

// AdjustRouteHistory records this node in the message's bounded route
// history before a hop attempt, so any node on the path can refuse to
// forward back along it.
func (n *Network) AdjustRouteHistory(msg *message.Message) {
	msg.RecordVisit(n.routingTable.NodeID(), params.MaxRouteHistorySize)
}

// Stop is idempotent. In-flight sends observe it at their next attempt and
// terminate as failed; no further hop selection happens afterwards.
func (n *Network) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.mu.Unlock()

	n.tr.Stop()
	n.timer.CancelAll()
	logger.Info("network stopped")
}

func (n *Network) isStopped() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stopped
}

func (n *Network) deliveryFailed(msg *message.Message, err error) {
	stats.Record(context.Background(), metrics.DroppedMessages.M(1))
	if msg.Request {
		n.timer.FailTask(msg.ID, ErrDeliveryFailed)
	}
	logger.Debugf("message %s to %s dropped: %s", msg.ID, msg.Destination.ShortString(), err)
}
