package registry

import (
	"io"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/crypto"
)

// NoHeight is the sentinel for unset height fields. In particular,
// BanHeight == NoHeight means "not banned"; the two facts are kept
// equivalent by construction.
const NoHeight = -1

// maxScriptSize bounds payout scripts when decoding.
const maxScriptSize = 10000

// State holds the mutable attributes of a registry entry at one point in
// time. A State attached to a published List must never be modified; Copy it
// first, mutate the copy, and update the entry through the List mutators.
type State struct {
	RegisteredHeight int
	LastPaidHeight   int
	Penalty          int
	RevivedHeight    int
	BanHeight        int
	RevocationReason uint16

	// ConfirmedHash is the hash of the block that confirmed the entry,
	// set once the registration is buried deep enough.
	// ConfirmedHashWithIdentity is SHA256(identity, ConfirmedHash),
	// precomputed to speed up quorum score calculations. Please note that
	// it is a single SHA256, not a double one.
	ConfirmedHash             chain.Hash
	ConfirmedHashWithIdentity chain.Hash

	OwnerKey             chain.KeyID
	OperatorKey          LazyPublicKey
	VotingKey            chain.KeyID
	Service              chain.Service
	PayoutScript         []byte
	OperatorPayoutScript []byte
	CollateralAmount     int64
}

// NewState returns a State with all height fields at their sentinels.
func NewState() *State {
	return &State{
		RegisteredHeight: NoHeight,
		RevivedHeight:    NoHeight,
		BanHeight:        NoHeight,
	}
}

// NewStateFromRegister builds the initial State of a registration processed
// at the given height.
func NewStateFromRegister(reg *chain.Register, height int) *State {
	s := NewState()
	s.RegisteredHeight = height
	s.OwnerKey = reg.OwnerKey
	s.OperatorKey = NewLazyPublicKey(reg.OperatorKey)
	s.VotingKey = reg.VotingKey
	s.Service = reg.Service
	s.PayoutScript = append([]byte(nil), reg.PayoutScript...)
	s.CollateralAmount = reg.CollateralAmount
	return s
}

// Copy returns a deep copy of the state.
func (s *State) Copy() *State {
	cp := *s
	cp.OperatorKey = s.OperatorKey.Copy()
	cp.PayoutScript = append([]byte(nil), s.PayoutScript...)
	cp.OperatorPayoutScript = append([]byte(nil), s.OperatorPayoutScript...)
	return &cp
}

// IsBanned ...
func (s *State) IsBanned() bool {
	return s.BanHeight != NoHeight
}

// Ban sets the ban height unless the entry is already banned, so the
// original ban height survives repeated punishment.
func (s *State) Ban(height int) {
	if !s.IsBanned() {
		s.BanHeight = height
	}
}

// Revive clears the penalty and the ban and records the revival height.
func (s *State) Revive(height int) {
	s.Penalty = 0
	s.BanHeight = NoHeight
	s.RevivedHeight = height
}

// ResetOperatorFields clears everything the operator controls. It is applied
// when the operator key changes hands and when the operator revokes.
func (s *State) ResetOperatorFields() {
	s.OperatorKey = LazyPublicKey{}
	s.Service = chain.Service{}
	s.OperatorPayoutScript = nil
	s.RevocationReason = chain.RevokeReasonNotSpecified
}

// UpdateConfirmedHash records the confirming block hash and precomputes the
// combined hash used by quorum score calculations.
func (s *State) UpdateConfirmedHash(identity chain.Hash, confirmed chain.Hash) {
	s.ConfirmedHash = confirmed
	s.ConfirmedHashWithIdentity = chain.NewHash(crypto.SimpleHashFromTwoHashes(identity[:], confirmed[:]))
}

// Serialize writes the state in wire order.
func (s *State) Serialize(w io.Writer) error {
	if err := chain.WriteInt32(w, int32(s.RegisteredHeight)); err != nil {
		return err
	}
	if err := chain.WriteInt32(w, int32(s.LastPaidHeight)); err != nil {
		return err
	}
	if err := chain.WriteInt32(w, int32(s.Penalty)); err != nil {
		return err
	}
	if err := chain.WriteInt32(w, int32(s.RevivedHeight)); err != nil {
		return err
	}
	if err := chain.WriteInt32(w, int32(s.BanHeight)); err != nil {
		return err
	}
	if err := chain.WriteUint16(w, s.RevocationReason); err != nil {
		return err
	}
	if err := s.ConfirmedHash.Serialize(w); err != nil {
		return err
	}
	if err := s.ConfirmedHashWithIdentity.Serialize(w); err != nil {
		return err
	}
	if err := s.OwnerKey.Serialize(w); err != nil {
		return err
	}
	if err := chain.WriteVarBytes(w, s.OperatorKey.Bytes()); err != nil {
		return err
	}
	if err := s.VotingKey.Serialize(w); err != nil {
		return err
	}
	if err := s.Service.Serialize(w); err != nil {
		return err
	}
	if err := chain.WriteVarBytes(w, s.PayoutScript); err != nil {
		return err
	}
	if err := chain.WriteVarBytes(w, s.OperatorPayoutScript); err != nil {
		return err
	}
	return chain.WriteUint64(w, uint64(s.CollateralAmount))
}

// DeserializeState reads a state in wire order.
func DeserializeState(r io.Reader) (*State, error) {
	s := &State{}
	v, err := chain.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	s.RegisteredHeight = int(v)
	if v, err = chain.ReadInt32(r); err != nil {
		return nil, err
	}
	s.LastPaidHeight = int(v)
	if v, err = chain.ReadInt32(r); err != nil {
		return nil, err
	}
	s.Penalty = int(v)
	if v, err = chain.ReadInt32(r); err != nil {
		return nil, err
	}
	s.RevivedHeight = int(v)
	if v, err = chain.ReadInt32(r); err != nil {
		return nil, err
	}
	s.BanHeight = int(v)
	if s.RevocationReason, err = chain.ReadUint16(r); err != nil {
		return nil, err
	}
	if s.ConfirmedHash, err = chain.DeserializeHash(r); err != nil {
		return nil, err
	}
	if s.ConfirmedHashWithIdentity, err = chain.DeserializeHash(r); err != nil {
		return nil, err
	}
	if s.OwnerKey, err = chain.DeserializeKeyID(r); err != nil {
		return nil, err
	}
	opKey, err := chain.ReadVarBytes(r, maxScriptSize)
	if err != nil {
		return nil, err
	}
	s.OperatorKey = NewLazyPublicKey(opKey)
	if s.VotingKey, err = chain.DeserializeKeyID(r); err != nil {
		return nil, err
	}
	if s.Service, err = chain.DeserializeService(r); err != nil {
		return nil, err
	}
	if s.PayoutScript, err = chain.ReadVarBytes(r, maxScriptSize); err != nil {
		return nil, err
	}
	if s.OperatorPayoutScript, err = chain.ReadVarBytes(r, maxScriptSize); err != nil {
		return nil, err
	}
	amount, err := chain.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	s.CollateralAmount = int64(amount)
	return s, nil
}
