package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
)

// HashLen is the length of a Hash in bytes.
const HashLen = 32

// Hash is a 256-bit identifier: a block hash, a transaction hash, or a
// uniqueness-index key.
type Hash [HashLen]byte

// NewHash copies b into a Hash. It panics if b is not HashLen bytes long.
func NewHash(b []byte) Hash {
	if len(b) != HashLen {
		panic(fmt.Sprintf("chain: NewHash called with %d bytes", len(b)))
	}
	var h Hash
	copy(h[:], b)
	return h
}

// HashFromHex parses a hex-encoded Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashLen {
		return h, fmt.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether the hash is all zeroes. The zero hash doubles as the
// "unset" sentinel wherever a Hash field is optional.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Compare returns -1, 0 or 1 comparing h and other as big-endian unsigned
// integers.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// KeyIDLen is the length of a KeyID in bytes.
const KeyIDLen = 20

// KeyID is a 160-bit key identifier (the hash of a public key). Owner and
// voting keys are referenced by KeyID.
type KeyID [KeyIDLen]byte

// IsZero reports whether the key id is unset.
func (k KeyID) IsZero() bool {
	return k == KeyID{}
}

// String returns the hex representation of the key id.
func (k KeyID) String() string {
	return hex.EncodeToString(k[:])
}

// OutPoint references one output of one transaction.
type OutPoint struct {
	Hash Hash
	N    uint32
}

// IsNull reports whether the outpoint is unset.
func (o OutPoint) IsNull() bool {
	return o.Hash.IsZero()
}

// String ...
func (o OutPoint) String() string {
	return fmt.Sprintf("%s-%d", o.Hash, o.N)
}

// Service is a network address in 16-byte IP form plus a port. IPv4 addresses
// are stored IPv4-mapped, which is also how they serialize.
type Service struct {
	IP   [16]byte
	Port uint16
}

// ServiceFromString parses an "ip:port" string into a Service.
func ServiceFromString(s string) (Service, error) {
	var svc Service
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return svc, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return svc, fmt.Errorf("invalid IP address %q", host)
	}
	copy(svc.IP[:], ip.To16())
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil || p < 0 || p > 65535 {
		return svc, fmt.Errorf("invalid port %q", port)
	}
	svc.Port = uint16(p)
	return svc, nil
}

// IsZero reports whether the service is unset.
func (s Service) IsZero() bool {
	return s == Service{}
}

// String returns the "ip:port" representation of the service.
func (s Service) String() string {
	return net.JoinHostPort(net.IP(s.IP[:]).String(), fmt.Sprintf("%d", s.Port))
}
