// Package keys implements the public key cryptography used for registry
// operator keys.
//
// A registry entry designates an operator by public key. The key is carried
// in registration and registrar-update payloads in 33-byte compressed form,
// and is one of the properties covered by the registry's uniqueness index.
//
// We use elliptic curve cryptography (ECDSA) with the secp256k1 curve because
// it is also used by Bitcoin and Ethereum, which means that existing keys and
// signing devices can be reused for operators.
package keys
