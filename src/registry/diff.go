package registry

import (
	"fmt"
	"io"
	"sort"

	"github.com/mosaicnetworks/mnregistry/src/chain"
)

// ListDiff is the delta between two consecutive registry lists. It is keyed
// by internal id, which is stable and compact; identities of removed and
// updated entries are recovered from the base list at apply time. Height is
// carried in memory for cache bookkeeping but is not serialized, since the
// store key already encodes it.
type ListDiff struct {
	Height int

	Added   []*Entry
	Updated map[uint64]*StateDiff
	Removed map[uint64]struct{}
}

// NewListDiff ...
func NewListDiff(height int) *ListDiff {
	return &ListDiff{
		Height:  height,
		Updated: make(map[uint64]*StateDiff),
		Removed: make(map[uint64]struct{}),
	}
}

// HasChanges reports whether the diff mutates anything.
func (d *ListDiff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

// BuildDiff computes the delta that transforms the receiver into to, so
// that l.ApplyDiff(to.Height, to.BlockHash, l.BuildDiff(to)) reproduces to
// exactly.
func (l *List) BuildDiff(to *List) *ListDiff {
	d := NewListDiff(to.Height)

	to.ForEach(false, func(toEntry *Entry) {
		fromEntry := l.GetByInternalID(toEntry.InternalID)
		if fromEntry == nil {
			d.Added = append(d.Added, toEntry)
			return
		}
		sd := NewStateDiff(fromEntry.State, toEntry.State)
		if !sd.IsEmpty() {
			d.Updated[toEntry.InternalID] = sd
		}
	})
	l.ForEach(false, func(fromEntry *Entry) {
		if to.GetByInternalID(fromEntry.InternalID) == nil {
			d.Removed[fromEntry.InternalID] = struct{}{}
		}
	})

	sort.Slice(d.Added, func(i, j int) bool {
		return d.Added[i].InternalID < d.Added[j].InternalID
	})
	return d
}

// ApplyDiff produces the list one block ahead of the receiver. Removals are
// applied first, then additions, then updates; a diff referencing an
// internal id the base list does not hold is corrupt and yields an error
// with the base list unchanged in any caller-visible way.
func (l *List) ApplyDiff(height int, blockHash chain.Hash, d *ListDiff) (*List, error) {
	result := l.Copy()
	result.Height = height
	result.BlockHash = blockHash

	for _, id := range sortedIDs(d.Removed) {
		e := result.GetByInternalID(id)
		if e == nil {
			return nil, fmt.Errorf("registry: diff at height %d removes unknown internal id %d", height, id)
		}
		if err := result.RemoveEntry(e.Identity); err != nil {
			return nil, err
		}
	}
	for _, e := range d.Added {
		if err := result.AddEntry(e.Copy(), true); err != nil {
			return nil, err
		}
	}
	for id, sd := range d.Updated {
		e := result.GetByInternalID(id)
		if e == nil {
			return nil, fmt.Errorf("registry: diff at height %d updates unknown internal id %d", height, id)
		}
		if err := result.UpdateEntryWithDiff(e.Identity, sd); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Serialize writes the diff. Added entries are in internal-id order; the
// update and removal collections are sorted the same way so the encoding is
// canonical.
func (d *ListDiff) Serialize(w io.Writer) error {
	if err := chain.WriteCompactSize(w, uint64(len(d.Added))); err != nil {
		return err
	}
	for _, e := range d.Added {
		if err := e.Serialize(w); err != nil {
			return err
		}
	}

	updatedIDs := make([]uint64, 0, len(d.Updated))
	for id := range d.Updated {
		updatedIDs = append(updatedIDs, id)
	}
	sort.Slice(updatedIDs, func(i, j int) bool { return updatedIDs[i] < updatedIDs[j] })
	if err := chain.WriteCompactSize(w, uint64(len(updatedIDs))); err != nil {
		return err
	}
	for _, id := range updatedIDs {
		if err := chain.WriteVarInt(w, id); err != nil {
			return err
		}
		if err := d.Updated[id].Serialize(w); err != nil {
			return err
		}
	}

	if err := chain.WriteCompactSize(w, uint64(len(d.Removed))); err != nil {
		return err
	}
	for _, id := range sortedIDs(d.Removed) {
		if err := chain.WriteVarInt(w, id); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeListDiff reads a diff in the current format. The decoded diff
// carries no height; the caller sets it from the store key.
func DeserializeListDiff(r io.Reader) (*ListDiff, error) {
	d := NewListDiff(0)

	cnt, err := chain.ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < cnt; i++ {
		e, err := DeserializeEntry(r)
		if err != nil {
			return nil, err
		}
		d.Added = append(d.Added, e)
	}

	cnt, err = chain.ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < cnt; i++ {
		id, err := chain.ReadVarInt(r)
		if err != nil {
			return nil, err
		}
		sd, err := DeserializeStateDiff(r)
		if err != nil {
			return nil, err
		}
		d.Updated[id] = sd
	}

	cnt, err = chain.ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < cnt; i++ {
		id, err := chain.ReadVarInt(r)
		if err != nil {
			return nil, err
		}
		d.Removed[id] = struct{}{}
	}
	return d, nil
}

// LegacyListDiff is the superseded identity-keyed diff format: block hashes
// in the header, full states instead of field deltas, removals by identity.
// It is decoded only for store migration; nothing writes it anymore.
type LegacyListDiff struct {
	PrevBlockHash chain.Hash
	BlockHash     chain.Hash
	Height        int

	Added   []*Entry
	Updated map[chain.Hash]*State
	Removed map[chain.Hash]struct{}
}

// DeserializeLegacyListDiff reads a diff in the superseded format.
func DeserializeLegacyListDiff(r io.Reader) (*LegacyListDiff, error) {
	d := &LegacyListDiff{
		Updated: make(map[chain.Hash]*State),
		Removed: make(map[chain.Hash]struct{}),
	}

	var err error
	if d.PrevBlockHash, err = chain.DeserializeHash(r); err != nil {
		return nil, err
	}
	if d.BlockHash, err = chain.DeserializeHash(r); err != nil {
		return nil, err
	}
	height, err := chain.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	d.Height = int(height)

	cnt, err := chain.ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < cnt; i++ {
		e, err := DeserializeEntryLegacy(r)
		if err != nil {
			return nil, err
		}
		d.Added = append(d.Added, e)
	}

	cnt, err = chain.ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < cnt; i++ {
		identity, err := chain.DeserializeHash(r)
		if err != nil {
			return nil, err
		}
		st, err := DeserializeState(r)
		if err != nil {
			return nil, err
		}
		d.Updated[identity] = st
	}

	cnt, err = chain.ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < cnt; i++ {
		identity, err := chain.DeserializeHash(r)
		if err != nil {
			return nil, err
		}
		d.Removed[identity] = struct{}{}
	}
	return d, nil
}

func sortedIDs(set map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
