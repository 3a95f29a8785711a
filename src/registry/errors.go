package registry

import (
	"fmt"

	"github.com/mosaicnetworks/mnregistry/src/chain"
)

// Reject codes carried by ValidationErrors. They identify the consensus rule
// a transaction violated and are stable strings, suitable for reject
// messages.
const (
	RejectDupIdentity    = "bad-protx-dup-hash"
	RejectDupCollateral  = "bad-protx-dup-collateral"
	RejectDupAddr        = "bad-protx-dup-addr"
	RejectDupKey         = "bad-protx-dup-key"
	RejectUnknownEntry   = "bad-protx-hash"
	RejectBadKey         = "bad-protx-key"
	RejectBadPayload     = "bad-protx-payload"
	RejectInternalLimits = "bad-protx-internal"
)

// ValidationError is the expected, recoverable error class: a block
// transaction violated a registry invariant, so the enclosing block must be
// rejected. It is not a local failure and never terminates the process.
type ValidationError struct {
	Code string
	Tx   chain.Hash
	Msg  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s (tx %s)", e.Code, e.Tx)
	}
	return fmt.Sprintf("%s (tx %s): %s", e.Code, e.Tx, e.Msg)
}

// NewValidationError ...
func NewValidationError(code string, tx chain.Hash, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Code: code,
		Tx:   tx,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// IsValidation reports whether err is a consensus validation failure, as
// opposed to a local consistency failure.
func IsValidation(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}
