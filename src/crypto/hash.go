package crypto

import (
	"crypto/sha256"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// DoubleSHA256 returns SHA256(SHA256(data)). It is the hash used for
// uniqueness-index keys, matching the serialize-hash convention of the wire
// format.
func DoubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

// SimpleHashFromTwoHashes returns the SHA256 hash of the concatenation of left
// and right data. Please note that this is a single SHA256, not a double one.
func SimpleHashFromTwoHashes(left []byte, right []byte) []byte {
	var hasher = sha256.New()
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil)
}
