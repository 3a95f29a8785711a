package registry

import (
	"fmt"
	"io"

	"github.com/mosaicnetworks/mnregistry/src/chain"
)

// Entry is one registry participant. Identity and InternalID are immutable
// for the lifetime of the entry; InternalID is a dense, monotonically
// assigned alias used as the diff key because it is much shorter on the wire
// than the identity hash.
type Entry struct {
	Identity chain.Hash
	// InternalID is assigned at creation from the list's total
	// registration counter and never reused.
	InternalID     uint64
	Collateral     chain.OutPoint
	OperatorReward uint16
	// State is owned by the entry but treated as immutable once the entry
	// is part of a published List.
	State *State
}

// Copy returns a copy of the entry with a deep-copied state.
func (e *Entry) Copy() *Entry {
	cp := *e
	cp.State = e.State.Copy()
	return &cp
}

// IsValid reports whether the entry participates in payee selection and
// quorums: it must not be banned.
func (e *Entry) IsValid() bool {
	return !e.State.IsBanned()
}

// IsValidAt additionally requires that the entry was registered at or before
// the given height.
func (e *Entry) IsValidAt(height int) bool {
	return e.IsValid() && e.State.RegisteredHeight != NoHeight && e.State.RegisteredHeight <= height
}

// String ...
func (e *Entry) String() string {
	return fmt.Sprintf("Entry(identity=%s, internalID=%d, collateral=%s)", e.Identity, e.InternalID, e.Collateral)
}

// Serialize writes the entry in the current wire format, internal id
// included.
func (e *Entry) Serialize(w io.Writer) error {
	if err := e.Identity.Serialize(w); err != nil {
		return err
	}
	if err := chain.WriteVarInt(w, e.InternalID); err != nil {
		return err
	}
	if err := e.Collateral.Serialize(w); err != nil {
		return err
	}
	if err := chain.WriteUint16(w, e.OperatorReward); err != nil {
		return err
	}
	return e.State.Serialize(w)
}

// DeserializeEntry reads an entry in the current wire format.
func DeserializeEntry(r io.Reader) (*Entry, error) {
	return deserializeEntry(r, false)
}

// DeserializeEntryLegacy reads an entry in the legacy format, which omits
// the internal id. The caller must assign one before the entry is used.
func DeserializeEntryLegacy(r io.Reader) (*Entry, error) {
	return deserializeEntry(r, true)
}

func deserializeEntry(r io.Reader, legacy bool) (*Entry, error) {
	e := &Entry{}
	var err error
	if e.Identity, err = chain.DeserializeHash(r); err != nil {
		return nil, err
	}
	if !legacy {
		if e.InternalID, err = chain.ReadVarInt(r); err != nil {
			return nil, err
		}
	}
	if e.Collateral, err = chain.DeserializeOutPoint(r); err != nil {
		return nil, err
	}
	if e.OperatorReward, err = chain.ReadUint16(r); err != nil {
		return nil, err
	}
	if e.State, err = DeserializeState(r); err != nil {
		return nil, err
	}
	return e, nil
}
