// Package chain defines the collaborator types that the registry consumes
// from block validation: primitive hashes and outpoints, block contents with
// their typed registry-affecting payloads, and a minimal height-indexed view
// of the active chain.
//
// The package deliberately contains no validation logic. Proof-of-work,
// signature checks and payload well-formedness are the caller's problem; the
// registry only relies on the fields defined here.
package chain
