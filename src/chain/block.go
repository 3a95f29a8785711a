package chain

// Revocation reason codes carried by Revoke payloads.
const (
	RevokeReasonNotSpecified uint16 = iota
	RevokeReasonTermination
	RevokeReasonCompromised
	RevokeReasonChangeOfKeys
)

// Block is the slice of a validated block that the registry cares about: the
// block hash and the ordered list of transactions.
type Block struct {
	Hash Hash
	Txs  []*Tx
}

// Tx is one transaction within a block. Inputs are needed to detect spends of
// registered collaterals; Payload, when non-nil, carries a typed
// registry-affecting payload.
type Tx struct {
	Hash    Hash
	Inputs  []OutPoint
	Payload Payload
}

// Payload is implemented by the registry-affecting transaction payloads.
// The registry replays them in block order; their wire formats and validity
// rules are defined elsewhere.
type Payload interface {
	isPayload()
}

// Register announces a new registry entry. The transaction hash of the
// enclosing Tx becomes the entry's identity for its whole lifetime.
type Register struct {
	Collateral       OutPoint
	CollateralAmount int64
	OperatorReward   uint16
	OwnerKey         KeyID
	OperatorKey      []byte // 33-byte compressed secp256k1 key
	VotingKey        KeyID
	Service          Service
	PayoutScript     []byte
}

// UpdateService updates the operator-controlled fields of an entry. It also
// revives a banned entry.
type UpdateService struct {
	Identity             Hash
	Service              Service
	OperatorPayoutScript []byte
}

// UpdateRegistrar updates the owner-controlled fields of an entry.
type UpdateRegistrar struct {
	Identity     Hash
	OperatorKey  []byte
	VotingKey    KeyID
	PayoutScript []byte
}

// Revoke retires an entry's operator, with a reason code.
type Revoke struct {
	Identity Hash
	Reason   uint16
}

// QuorumCommitment reports the outcome of one quorum formation round.
// Members whose ValidMembers bit is false failed the round and are penalized
// by the registry.
type QuorumCommitment struct {
	QuorumHash   Hash
	Members      []Hash
	ValidMembers []bool
}

func (*Register) isPayload()         {}
func (*UpdateService) isPayload()    {}
func (*UpdateRegistrar) isPayload()  {}
func (*Revoke) isPayload()           {}
func (*QuorumCommitment) isPayload() {}
