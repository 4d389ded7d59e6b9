// Package cache keeps recently-seen cacheable payloads so a node on a
// route can answer a request without forwarding it further. Content is
// addressed by the digest of its bytes; requests carry the digest name.
package cache

import (
	lru "github.com/hashicorp/golang-lru"
	logging "github.com/ipfs/go-log"
	base32 "github.com/multiformats/go-base32"
	"github.com/multiformats/go-multihash"

	"github.com/overlaynet/go-routing/message"
	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/params"
)

var logger = logging.Logger("routing.cache")

// Manager is the recently-seen-data store. All methods are best-effort:
// cache trouble is logged, never surfaced to routing.
type Manager struct {
	nodeID nodeid.ID
	store  *lru.Cache
}

// NewManager builds a cache bounded to size entries; size <= 0 uses the
// default.
func NewManager(nodeID nodeid.ID, size int) (*Manager, error) {
	if size <= 0 {
		size = params.DefaultCacheSize
	}
	store, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Manager{nodeID: nodeID, store: store}, nil
}

// Name returns the content-addressed key for a payload.
func Name(payload []byte) string {
	mh, err := multihash.Sum(payload, multihash.SHA2_512, -1)
	if err != nil {
		return ""
	}
	dec, err := multihash.Decode(mh)
	if err != nil {
		return ""
	}
	return base32.RawStdEncoding.EncodeToString(dec.Digest)
}

// AddToCache stores the payload of a cacheable response. Fire-and-forget.
func (m *Manager) AddToCache(msg *message.Message) {
	if msg == nil || !msg.Cacheable || msg.Request || len(msg.Payload) == 0 {
		return
	}
	name := Name(msg.Payload)
	if name == "" {
		return
	}
	m.store.Add(name, append([]byte(nil), msg.Payload...))
	logger.Debugf("cached %d bytes under %s", len(msg.Payload), name[:12])
}

// HandleGetFromCache answers a cacheable request in place when its named
// content is cached: the message becomes a response from this node and the
// caller routes it normally. It reports whether a hit occurred.
func (m *Manager) HandleGetFromCache(msg *message.Message) bool {
	if msg == nil || !msg.Cacheable || !msg.Request {
		return false
	}
	value, ok := m.store.Get(string(msg.Payload))
	if !ok {
		return false
	}
	content, ok := value.([]byte)
	if !ok {
		return false
	}
	logger.Debugf("cache hit for message %s", msg.ID)
	msg.MakeResponse(m.nodeID, content)
	return true
}

// Len returns the number of cached entries.
func (m *Manager) Len() int {
	return m.store.Len()
}
