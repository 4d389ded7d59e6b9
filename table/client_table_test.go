package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaynet/go-routing/params"
)

func TestClientTableAdmission(t *testing.T) {
	own := randID(t)
	ct := NewClientTable(own)

	c := makeNode(t)
	require.True(t, ct.AddNode(c))
	require.False(t, ct.AddNode(c))
	require.True(t, ct.Contains(c.ID))
	require.Equal(t, 1, ct.Size())

	noKey := makeNode(t)
	noKey.PublicKey = nil
	require.False(t, ct.AddNode(noKey))

	self := makeNode(t)
	self.ID = own
	require.False(t, ct.AddNode(self))
}

func TestClientTableBoundedWithoutEviction(t *testing.T) {
	ct := NewClientTable(randID(t))
	for i := 0; i < params.MaxClientTableSize; i++ {
		require.True(t, ct.AddNode(makeNode(t)))
	}
	require.Equal(t, params.MaxClientTableSize, ct.Size())

	first := ct.Nodes()[0]
	require.False(t, ct.AddNode(makeNode(t)))
	require.True(t, ct.Contains(first.ID))
}

func TestClientTableRemove(t *testing.T) {
	ct := NewClientTable(randID(t))
	c := makeNode(t)
	c.Endpoint.Addr = "client:1"
	require.True(t, ct.AddNode(c))

	got := ct.GetNode(c.ID)
	require.Equal(t, c.ID, got.ID)

	removed, ok := ct.RemoveNode(c.ID)
	require.True(t, ok)
	require.Equal(t, c.ID, removed.ID)
	_, ok = ct.RemoveNode(c.ID)
	require.False(t, ok)
	require.True(t, ct.GetNode(c.ID).IsEmpty())
}

func TestClientTableRemoveEndpoint(t *testing.T) {
	ct := NewClientTable(randID(t))
	c := makeNode(t)
	c.Endpoint.Addr = "client:2"
	require.True(t, ct.AddNode(c))

	removed, ok := ct.RemoveEndpoint("client:2")
	require.True(t, ok)
	require.Equal(t, c.ID, removed.ID)
	require.Equal(t, 0, ct.Size())
}
