package registry

import (
	"bytes"
	"crypto/ecdsa"

	"github.com/mosaicnetworks/mnregistry/src/crypto/keys"
)

// LazyPublicKey holds an operator public key in its 33-byte compressed wire
// form and parses it to a curve point only when a caller actually needs one.
// Registry replay touches thousands of keys it never uses for cryptography,
// so eager parsing would dominate list-building time.
type LazyPublicKey struct {
	ser []byte
	pub *ecdsa.PublicKey
}

// NewLazyPublicKey wraps a compressed key without validating it. An empty or
// nil slice means "unset".
func NewLazyPublicKey(ser []byte) LazyPublicKey {
	if len(ser) == 0 {
		return LazyPublicKey{}
	}
	cp := make([]byte, len(ser))
	copy(cp, ser)
	return LazyPublicKey{ser: cp}
}

// Bytes returns the compressed serialization, or nil when unset.
func (l *LazyPublicKey) Bytes() []byte {
	return l.ser
}

// IsZero reports whether no key is set.
func (l *LazyPublicKey) IsZero() bool {
	return len(l.ser) == 0
}

// Equal compares the wire forms.
func (l *LazyPublicKey) Equal(other *LazyPublicKey) bool {
	return bytes.Equal(l.ser, other.ser)
}

// Key parses and caches the public key.
func (l *LazyPublicKey) Key() (*ecdsa.PublicKey, error) {
	if l.pub != nil {
		return l.pub, nil
	}
	pub, err := keys.ToPublicKey(l.ser)
	if err != nil {
		return nil, err
	}
	l.pub = pub
	return pub, nil
}

// Copy returns a deep copy. The cached parse result is shared; it is
// immutable.
func (l *LazyPublicKey) Copy() LazyPublicKey {
	cp := LazyPublicKey{pub: l.pub}
	if l.ser != nil {
		cp.ser = make([]byte, len(l.ser))
		copy(cp.ser, l.ser)
	}
	return cp
}
