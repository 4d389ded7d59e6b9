// Package nodeid defines the fixed-width identifiers that address nodes and
// data in the overlay, together with the XOR metric every routing decision
// is made with.
package nodeid

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	b58 "github.com/mr-tron/base58/base58"
	base32 "github.com/multiformats/go-base32"
	"github.com/multiformats/go-multihash"
)

// Size is the identifier width in bytes (512 bits).
const Size = 64

// ID is an opaque identifier in the overlay address space. The zero value is
// the empty id and is never a valid node identity.
type ID [Size]byte

// Zero is the empty identifier.
var Zero ID

// NewRandom returns a uniformly random identifier.
func NewRandom() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return Zero, fmt.Errorf("generating node id: %w", err)
	}
	return id, nil
}

// FromBytes copies b into an ID. It fails unless b is exactly Size bytes.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("node id must be %d bytes, got %d", Size, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// FromPublicKey derives a node identity from key material by hashing the
// compressed key with SHA2-512, giving a Size-byte digest.
func FromPublicKey(pub *secp256k1.PublicKey) (ID, error) {
	if pub == nil {
		return Zero, fmt.Errorf("nil public key")
	}
	mh, err := multihash.Sum(pub.SerializeCompressed(), multihash.SHA2_512, -1)
	if err != nil {
		return Zero, fmt.Errorf("hashing public key: %w", err)
	}
	dec, err := multihash.Decode(mh)
	if err != nil {
		return Zero, fmt.Errorf("decoding multihash: %w", err)
	}
	return FromBytes(dec.Digest)
}

// IsZero reports whether the id is the empty identifier.
func (id ID) IsZero() bool {
	return id == Zero
}

// Equal reports bitwise equality.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Bytes returns a copy of the raw identifier.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// String renders the full identifier in unpadded base32 for logs and keys.
func (id ID) String() string {
	return base32.RawStdEncoding.EncodeToString(id[:])
}

// ShortString is a compact base58 form of the leading bytes, for error
// messages and debug output.
func (id ID) ShortString() string {
	return b58.Encode(id[:6])
}

// MarshalText encodes the id in the same base32 form String uses, so ids
// embedded in serialized messages stay readable.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes the base32 form produced by MarshalText.
func (id *ID) UnmarshalText(text []byte) error {
	raw, err := base32.RawStdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decoding node id: %w", err)
	}
	decoded, err := FromBytes(raw)
	if err != nil {
		return err
	}
	*id = decoded
	return nil
}

// Distance returns the XOR distance between a and b as an unsigned big value.
func Distance(a, b ID) *big.Int {
	var x [Size]byte
	for i := 0; i < Size; i++ {
		x[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(x[:])
}

// Closer reports whether a is strictly closer to target than b.
func Closer(a, b, target ID) bool {
	return CompareDistance(a, b, target) < 0
}

// CompareDistance orders a and b by closeness to target: negative when a is
// closer, positive when b is closer, zero only when a == b.
func CompareDistance(a, b, target ID) int {
	for i := 0; i < Size; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// CommonPrefixLen is the number of leading bits a and b share, i.e. the
// bucket index of b relative to a. It is Size*8 only when a == b.
func CommonPrefixLen(a, b ID) int {
	for i := 0; i < Size; i++ {
		x := a[i] ^ b[i]
		if x != 0 {
			return i*8 + leadingZeros8(x)
		}
	}
	return Size * 8
}

func leadingZeros8(b byte) int {
	n := 0
	for mask := byte(0x80); mask != 0 && b&mask == 0; mask >>= 1 {
		n++
	}
	return n
}

// Compare orders identifiers lexicographically, the deterministic secondary
// key used when a sort needs a total order beyond the metric.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}
