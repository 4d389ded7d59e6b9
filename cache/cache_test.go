package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaynet/go-routing/message"
	"github.com/overlaynet/go-routing/nodeid"
)

func newManager(t *testing.T) (*Manager, nodeid.ID) {
	t.Helper()
	own, err := nodeid.NewRandom()
	require.NoError(t, err)
	m, err := NewManager(own, 8)
	require.NoError(t, err)
	return m, own
}

func TestAddThenGet(t *testing.T) {
	m, own := newManager(t)
	src, err := nodeid.NewRandom()
	require.NoError(t, err)
	dst, err := nodeid.NewRandom()
	require.NoError(t, err)

	content := []byte("cached chunk")

	// a cacheable response passing through gets stored
	resp := message.New(message.TypeDirect, dst, src, content)
	resp.Request = false
	resp.Cacheable = true
	m.AddToCache(resp)
	require.Equal(t, 1, m.Len())

	// a later request naming the content is answered in place
	req := message.New(message.TypeDirect, dst, src, []byte(Name(content)))
	req.Cacheable = true
	require.True(t, m.HandleGetFromCache(req))
	require.False(t, req.Request)
	require.Equal(t, content, req.Payload)
	require.True(t, req.Source.Equal(own))
	require.True(t, req.Destination.Equal(src))
}

func TestMissLeavesMessageUntouched(t *testing.T) {
	m, _ := newManager(t)
	src, err := nodeid.NewRandom()
	require.NoError(t, err)
	dst, err := nodeid.NewRandom()
	require.NoError(t, err)

	req := message.New(message.TypeDirect, dst, src, []byte("no such name"))
	req.Cacheable = true
	require.False(t, m.HandleGetFromCache(req))
	require.True(t, req.Request)
	require.Equal(t, []byte("no such name"), req.Payload)
}

func TestNonCacheableIgnored(t *testing.T) {
	m, _ := newManager(t)
	src, err := nodeid.NewRandom()
	require.NoError(t, err)
	dst, err := nodeid.NewRandom()
	require.NoError(t, err)

	resp := message.New(message.TypeDirect, dst, src, []byte("data"))
	resp.Request = false
	m.AddToCache(resp) // not flagged cacheable
	require.Equal(t, 0, m.Len())

	req := message.New(message.TypeDirect, dst, src, []byte("data"))
	require.False(t, m.HandleGetFromCache(req))
}

func TestRequestNeverCached(t *testing.T) {
	m, _ := newManager(t)
	src, err := nodeid.NewRandom()
	require.NoError(t, err)
	dst, err := nodeid.NewRandom()
	require.NoError(t, err)

	req := message.New(message.TypeDirect, dst, src, []byte("payload"))
	req.Cacheable = true
	m.AddToCache(req)
	require.Equal(t, 0, m.Len())
}
