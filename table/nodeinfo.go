package table

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/overlaynet/go-routing/nodeid"
	"github.com/overlaynet/go-routing/transport"
)

// NodeInfo is the record kept per known peer. The zero value is the "no
// node" sentinel returned by lookups that find nothing.
type NodeInfo struct {
	ID        nodeid.ID
	PublicKey *secp256k1.PublicKey
	Endpoint  transport.Endpoint

	// Rank counts successful contacts. It is bookkeeping only and never the
	// primary ordering key.
	Rank int
}

// IsEmpty reports whether this is the "no node" sentinel.
func (n NodeInfo) IsEmpty() bool {
	return n.ID.IsZero()
}

// HasValidKey reports whether the record carries usable key material.
// Admission requires it.
func (n NodeInfo) HasValidKey() bool {
	return n.PublicKey != nil
}

// BucketIndex is the peer's bucket position relative to own, derived from
// the shared id prefix. Recomputed on demand, never stored.
func (n NodeInfo) BucketIndex(own nodeid.ID) int {
	return nodeid.CommonPrefixLen(own, n.ID)
}
