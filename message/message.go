// Package message defines the routed message envelope. Only the fields the
// routing logic needs are modeled here; the production wire schema is owned
// by the serialization layer and this JSON form stands in for it.
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
	"github.com/overlaynet/go-routing/transport"
)

// Type tags the delivery semantics of a message.
type Type int

const (
	// TypeDirect targets the single node closest to Destination.
	TypeDirect Type = iota
	// TypeGroup targets the close group around Destination.
	TypeGroup
	// TypeRelay is forwarded on behalf of a node that has no routable
	// identity yet, carrying its relay endpoint instead of a source id.
	TypeRelay
)

func (t Type) String() string {
	switch t {
	case TypeDirect:
		return "direct"
	case TypeGroup:
		return "group"
	case TypeRelay:
		return "relay"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

var (
	ErrNoDestination = errors.New("message: empty destination id")
	ErrExpired       = errors.New("message: hop budget exhausted")
)

// Message is a routed envelope. Destination is the final node id, or the
// group centre for group-addressed messages.
type Message struct {
	ID            string             `json:"id"`
	Type          Type               `json:"type"`
	Destination   nodeid.ID          `json:"destination"`
	Source        nodeid.ID          `json:"source"`
	RelayID       nodeid.ID          `json:"relay_id"`
	RelayEndpoint transport.Endpoint `json:"relay_endpoint"`
	Request       bool               `json:"request"`
	Cacheable     bool               `json:"cacheable"`
	HopsToLive    int                `json:"hops_to_live"`
	RouteHistory  []nodeid.ID        `json:"route_history,omitempty"`
	Payload       []byte             `json:"payload,omitempty"`
}

// New builds a request envelope with a fresh id and a full hop budget.
func New(t Type, destination, source nodeid.ID, payload []byte) *Message {
	return &Message{
		ID:          uuid.NewString(),
		Type:        t,
		Destination: destination,
		Source:      source,
		Request:     true,
		HopsToLive:  params.HopsToLive,
		Payload:     payload,
	}
}

// Validate checks the fields routing depends on.
func (m *Message) Validate() error {
	if m.Destination.IsZero() {
		return ErrNoDestination
	}
	if m.HopsToLive <= 0 {
		return ErrExpired
	}
	return nil
}

// HasVisited reports whether id appears in the bounded route history.
func (m *Message) HasVisited(id nodeid.ID) bool {
	for _, h := range m.RouteHistory {
		if h.Equal(id) {
			return true
		}
	}
	return false
}

// RecordVisit appends id to the route history, dropping the oldest entry
// once the bound is reached. Re-recording the most recent hop is a no-op.
func (m *Message) RecordVisit(id nodeid.ID, max int) {
	if n := len(m.RouteHistory); n > 0 && m.RouteHistory[n-1].Equal(id) {
		return
	}
	m.RouteHistory = append(m.RouteHistory, id)
	if len(m.RouteHistory) > max {
		m.RouteHistory = m.RouteHistory[len(m.RouteHistory)-max:]
	}
}

// MakeResponse flips the envelope into a response to its own request,
// keeping the id so the sender can match it, and restoring the hop budget
// for the return trip.
func (m *Message) MakeResponse(responder nodeid.ID, payload []byte) {
	m.Destination = m.Source
	m.Source = responder
	m.Request = false
	m.Payload = payload
	m.HopsToLive = params.HopsToLive
	m.RouteHistory = nil
}

// Marshal encodes the envelope for the transport.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes an envelope received from the transport.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	return &m, nil
}
