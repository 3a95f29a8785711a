package registry

import (
	"bytes"
	"io"

	"github.com/mosaicnetworks/mnregistry/src/chain"
)

// Field bits of a StateDiff. The bit order is the wire order and must never
// change.
const (
	FieldRegisteredHeight uint32 = 1 << iota
	FieldLastPaidHeight
	FieldPenalty
	FieldRevivedHeight
	FieldBanHeight
	FieldRevocationReason
	FieldConfirmedHash
	FieldConfirmedHashWithIdentity
	FieldOwnerKey
	FieldOperatorKey
	FieldVotingKey
	FieldService
	FieldPayoutScript
	FieldOperatorPayoutScript
	FieldCollateralAmount
)

// StateDiff is the compact difference between two States of the same entry:
// a bitmask of changed fields plus the new values for exactly those fields.
// One or two fields change in the common case, so this halves the persisted
// size compared to full states.
type StateDiff struct {
	Fields uint32
	// State carries the new values; only the fields flagged in Fields are
	// meaningful.
	State State
}

// NewStateDiff compares two states field by field.
func NewStateDiff(a, b *State) *StateDiff {
	d := &StateDiff{}
	if a.RegisteredHeight != b.RegisteredHeight {
		d.State.RegisteredHeight = b.RegisteredHeight
		d.Fields |= FieldRegisteredHeight
	}
	if a.LastPaidHeight != b.LastPaidHeight {
		d.State.LastPaidHeight = b.LastPaidHeight
		d.Fields |= FieldLastPaidHeight
	}
	if a.Penalty != b.Penalty {
		d.State.Penalty = b.Penalty
		d.Fields |= FieldPenalty
	}
	if a.RevivedHeight != b.RevivedHeight {
		d.State.RevivedHeight = b.RevivedHeight
		d.Fields |= FieldRevivedHeight
	}
	if a.BanHeight != b.BanHeight {
		d.State.BanHeight = b.BanHeight
		d.Fields |= FieldBanHeight
	}
	if a.RevocationReason != b.RevocationReason {
		d.State.RevocationReason = b.RevocationReason
		d.Fields |= FieldRevocationReason
	}
	if a.ConfirmedHash != b.ConfirmedHash {
		d.State.ConfirmedHash = b.ConfirmedHash
		d.Fields |= FieldConfirmedHash
	}
	if a.ConfirmedHashWithIdentity != b.ConfirmedHashWithIdentity {
		d.State.ConfirmedHashWithIdentity = b.ConfirmedHashWithIdentity
		d.Fields |= FieldConfirmedHashWithIdentity
	}
	if a.OwnerKey != b.OwnerKey {
		d.State.OwnerKey = b.OwnerKey
		d.Fields |= FieldOwnerKey
	}
	if !a.OperatorKey.Equal(&b.OperatorKey) {
		d.State.OperatorKey = b.OperatorKey.Copy()
		d.Fields |= FieldOperatorKey
	}
	if a.VotingKey != b.VotingKey {
		d.State.VotingKey = b.VotingKey
		d.Fields |= FieldVotingKey
	}
	if a.Service != b.Service {
		d.State.Service = b.Service
		d.Fields |= FieldService
	}
	if !bytes.Equal(a.PayoutScript, b.PayoutScript) {
		d.State.PayoutScript = append([]byte(nil), b.PayoutScript...)
		d.Fields |= FieldPayoutScript
	}
	if !bytes.Equal(a.OperatorPayoutScript, b.OperatorPayoutScript) {
		d.State.OperatorPayoutScript = append([]byte(nil), b.OperatorPayoutScript...)
		d.Fields |= FieldOperatorPayoutScript
	}
	if a.CollateralAmount != b.CollateralAmount {
		d.State.CollateralAmount = b.CollateralAmount
		d.Fields |= FieldCollateralAmount
	}
	return d
}

// IsEmpty reports whether no field changed.
func (d *StateDiff) IsEmpty() bool {
	return d.Fields == 0
}

// Apply overwrites the flagged fields on target.
func (d *StateDiff) Apply(target *State) {
	if d.Fields&FieldRegisteredHeight != 0 {
		target.RegisteredHeight = d.State.RegisteredHeight
	}
	if d.Fields&FieldLastPaidHeight != 0 {
		target.LastPaidHeight = d.State.LastPaidHeight
	}
	if d.Fields&FieldPenalty != 0 {
		target.Penalty = d.State.Penalty
	}
	if d.Fields&FieldRevivedHeight != 0 {
		target.RevivedHeight = d.State.RevivedHeight
	}
	if d.Fields&FieldBanHeight != 0 {
		target.BanHeight = d.State.BanHeight
	}
	if d.Fields&FieldRevocationReason != 0 {
		target.RevocationReason = d.State.RevocationReason
	}
	if d.Fields&FieldConfirmedHash != 0 {
		target.ConfirmedHash = d.State.ConfirmedHash
	}
	if d.Fields&FieldConfirmedHashWithIdentity != 0 {
		target.ConfirmedHashWithIdentity = d.State.ConfirmedHashWithIdentity
	}
	if d.Fields&FieldOwnerKey != 0 {
		target.OwnerKey = d.State.OwnerKey
	}
	if d.Fields&FieldOperatorKey != 0 {
		target.OperatorKey = d.State.OperatorKey.Copy()
	}
	if d.Fields&FieldVotingKey != 0 {
		target.VotingKey = d.State.VotingKey
	}
	if d.Fields&FieldService != 0 {
		target.Service = d.State.Service
	}
	if d.Fields&FieldPayoutScript != 0 {
		target.PayoutScript = append([]byte(nil), d.State.PayoutScript...)
	}
	if d.Fields&FieldOperatorPayoutScript != 0 {
		target.OperatorPayoutScript = append([]byte(nil), d.State.OperatorPayoutScript...)
	}
	if d.Fields&FieldCollateralAmount != 0 {
		target.CollateralAmount = d.State.CollateralAmount
	}
}

// Serialize writes the bitmask as a varint followed by the flagged fields in
// bit order.
func (d *StateDiff) Serialize(w io.Writer) error {
	if err := chain.WriteVarInt(w, uint64(d.Fields)); err != nil {
		return err
	}
	if d.Fields&FieldRegisteredHeight != 0 {
		if err := chain.WriteInt32(w, int32(d.State.RegisteredHeight)); err != nil {
			return err
		}
	}
	if d.Fields&FieldLastPaidHeight != 0 {
		if err := chain.WriteInt32(w, int32(d.State.LastPaidHeight)); err != nil {
			return err
		}
	}
	if d.Fields&FieldPenalty != 0 {
		if err := chain.WriteInt32(w, int32(d.State.Penalty)); err != nil {
			return err
		}
	}
	if d.Fields&FieldRevivedHeight != 0 {
		if err := chain.WriteInt32(w, int32(d.State.RevivedHeight)); err != nil {
			return err
		}
	}
	if d.Fields&FieldBanHeight != 0 {
		if err := chain.WriteInt32(w, int32(d.State.BanHeight)); err != nil {
			return err
		}
	}
	if d.Fields&FieldRevocationReason != 0 {
		if err := chain.WriteUint16(w, d.State.RevocationReason); err != nil {
			return err
		}
	}
	if d.Fields&FieldConfirmedHash != 0 {
		if err := d.State.ConfirmedHash.Serialize(w); err != nil {
			return err
		}
	}
	if d.Fields&FieldConfirmedHashWithIdentity != 0 {
		if err := d.State.ConfirmedHashWithIdentity.Serialize(w); err != nil {
			return err
		}
	}
	if d.Fields&FieldOwnerKey != 0 {
		if err := d.State.OwnerKey.Serialize(w); err != nil {
			return err
		}
	}
	if d.Fields&FieldOperatorKey != 0 {
		if err := chain.WriteVarBytes(w, d.State.OperatorKey.Bytes()); err != nil {
			return err
		}
	}
	if d.Fields&FieldVotingKey != 0 {
		if err := d.State.VotingKey.Serialize(w); err != nil {
			return err
		}
	}
	if d.Fields&FieldService != 0 {
		if err := d.State.Service.Serialize(w); err != nil {
			return err
		}
	}
	if d.Fields&FieldPayoutScript != 0 {
		if err := chain.WriteVarBytes(w, d.State.PayoutScript); err != nil {
			return err
		}
	}
	if d.Fields&FieldOperatorPayoutScript != 0 {
		if err := chain.WriteVarBytes(w, d.State.OperatorPayoutScript); err != nil {
			return err
		}
	}
	if d.Fields&FieldCollateralAmount != 0 {
		if err := chain.WriteUint64(w, uint64(d.State.CollateralAmount)); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeStateDiff reads a StateDiff.
func DeserializeStateDiff(r io.Reader) (*StateDiff, error) {
	fields, err := chain.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	d := &StateDiff{Fields: uint32(fields)}
	if d.Fields&FieldRegisteredHeight != 0 {
		v, err := chain.ReadInt32(r)
		if err != nil {
			return nil, err
		}
		d.State.RegisteredHeight = int(v)
	}
	if d.Fields&FieldLastPaidHeight != 0 {
		v, err := chain.ReadInt32(r)
		if err != nil {
			return nil, err
		}
		d.State.LastPaidHeight = int(v)
	}
	if d.Fields&FieldPenalty != 0 {
		v, err := chain.ReadInt32(r)
		if err != nil {
			return nil, err
		}
		d.State.Penalty = int(v)
	}
	if d.Fields&FieldRevivedHeight != 0 {
		v, err := chain.ReadInt32(r)
		if err != nil {
			return nil, err
		}
		d.State.RevivedHeight = int(v)
	}
	if d.Fields&FieldBanHeight != 0 {
		v, err := chain.ReadInt32(r)
		if err != nil {
			return nil, err
		}
		d.State.BanHeight = int(v)
	}
	if d.Fields&FieldRevocationReason != 0 {
		if d.State.RevocationReason, err = chain.ReadUint16(r); err != nil {
			return nil, err
		}
	}
	if d.Fields&FieldConfirmedHash != 0 {
		if d.State.ConfirmedHash, err = chain.DeserializeHash(r); err != nil {
			return nil, err
		}
	}
	if d.Fields&FieldConfirmedHashWithIdentity != 0 {
		if d.State.ConfirmedHashWithIdentity, err = chain.DeserializeHash(r); err != nil {
			return nil, err
		}
	}
	if d.Fields&FieldOwnerKey != 0 {
		if d.State.OwnerKey, err = chain.DeserializeKeyID(r); err != nil {
			return nil, err
		}
	}
	if d.Fields&FieldOperatorKey != 0 {
		opKey, err := chain.ReadVarBytes(r, maxScriptSize)
		if err != nil {
			return nil, err
		}
		d.State.OperatorKey = NewLazyPublicKey(opKey)
	}
	if d.Fields&FieldVotingKey != 0 {
		if d.State.VotingKey, err = chain.DeserializeKeyID(r); err != nil {
			return nil, err
		}
	}
	if d.Fields&FieldService != 0 {
		if d.State.Service, err = chain.DeserializeService(r); err != nil {
			return nil, err
		}
	}
	if d.Fields&FieldPayoutScript != 0 {
		if d.State.PayoutScript, err = chain.ReadVarBytes(r, maxScriptSize); err != nil {
			return nil, err
		}
	}
	if d.Fields&FieldOperatorPayoutScript != 0 {
		if d.State.OperatorPayoutScript, err = chain.ReadVarBytes(r, maxScriptSize); err != nil {
			return nil, err
		}
	}
	if d.Fields&FieldCollateralAmount != 0 {
		amount, err := chain.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		d.State.CollateralAmount = int64(amount)
	}
	return d, nil
}
