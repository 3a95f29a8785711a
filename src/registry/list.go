package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/benbjohnson/immutable"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/crypto"
)

// hash256Hasher hashes chain.Hash keys for the immutable maps. The first
// four bytes of the key are already uniformly distributed, so they are used
// directly. The hasher must be deterministic: map iteration order is a
// function of it, and iteration order reaches consensus-visible outputs.
type hash256Hasher struct{}

func (hash256Hasher) Hash(key chain.Hash) uint32 {
	return binary.BigEndian.Uint32(key[:4])
}

func (hash256Hasher) Equal(a, b chain.Hash) bool {
	return a == b
}

// uint64Hasher hashes internal sequence ids.
type uint64Hasher struct{}

func (uint64Hasher) Hash(key uint64) uint32 {
	return uint32((key * 0x9e3779b97f4a7c15) >> 32)
}

func (uint64Hasher) Equal(a, b uint64) bool {
	return a == b
}

// propertyClaim is one binding in the uniqueness index: the identity that
// owns a property value, plus a reference count. The count tolerates
// temporarily duplicated bindings while a diff is being replayed.
type propertyClaim struct {
	Identity chain.Hash
	Refs     uint32
}

// List is the full registry state at one chain height. It is a
// copy-on-write structure: mutators rewrite the map pointers of their
// receiver, and because the maps are persistent, copies made before a
// mutation are unaffected. A List that has been published (cached, or
// returned to a caller) must not be mutated; use Copy first.
type List struct {
	BlockHash chain.Hash
	Height    int
	// TotalRegisteredCount is the monotonically increasing registration
	// counter. It assigns internal ids and is never decremented, so ids
	// are unique across the registry's whole lifetime.
	TotalRegisteredCount uint32

	entries      *immutable.Map[chain.Hash, *Entry]
	byInternalID *immutable.Map[uint64, chain.Hash]
	byProperty   *immutable.Map[chain.Hash, propertyClaim]
}

// NewList creates an empty list at a given block.
func NewList(blockHash chain.Hash, height int, totalRegistered uint32) *List {
	return &List{
		BlockHash:            blockHash,
		Height:               height,
		TotalRegisteredCount: totalRegistered,
		entries:              immutable.NewMap[chain.Hash, *Entry](hash256Hasher{}),
		byInternalID:         immutable.NewMap[uint64, chain.Hash](uint64Hasher{}),
		byProperty:           immutable.NewMap[chain.Hash, propertyClaim](hash256Hasher{}),
	}
}

// Copy returns a list sharing all map structure with the receiver. It is
// O(1); subsequent mutations on the copy cost O(log n) per changed entry.
func (l *List) Copy() *List {
	cp := *l
	return &cp
}

// Count returns the number of entries, banned ones included.
func (l *List) Count() int {
	return l.entries.Len()
}

// ValidCount returns the number of valid entries.
func (l *List) ValidCount() int {
	count := 0
	l.ForEach(true, func(e *Entry) {
		count++
	})
	return count
}

// ValidCountAt returns the number of entries valid at the given height.
func (l *List) ValidCountAt(height int) int {
	count := 0
	l.ForEachAt(true, height, func(e *Entry) {
		count++
	})
	return count
}

// ForEach iterates over entries in the index's stable order. With onlyValid,
// banned entries are skipped. Re-iterating yields the same order; the order
// is a deterministic function of the set of identities, not of insertion
// history.
func (l *List) ForEach(onlyValid bool, fn func(e *Entry)) {
	itr := l.entries.Iterator()
	for !itr.Done() {
		_, e, _ := itr.Next()
		if !onlyValid || e.IsValid() {
			fn(e)
		}
	}
}

// ForEachAt is ForEach with height-dependent validity.
func (l *List) ForEachAt(onlyValid bool, height int, fn func(e *Entry)) {
	itr := l.entries.Iterator()
	for !itr.Done() {
		_, e, _ := itr.Next()
		if !onlyValid || e.IsValidAt(height) {
			fn(e)
		}
	}
}

// Get returns the entry with the given identity, or nil.
func (l *List) Get(identity chain.Hash) *Entry {
	e, ok := l.entries.Get(identity)
	if !ok {
		return nil
	}
	return e
}

// Has ...
func (l *List) Has(identity chain.Hash) bool {
	return l.Get(identity) != nil
}

// GetValid returns the entry with the given identity if it is valid.
func (l *List) GetValid(identity chain.Hash) *Entry {
	e := l.Get(identity)
	if e == nil || !e.IsValid() {
		return nil
	}
	return e
}

// GetByInternalID returns the entry with the given internal sequence id, or
// nil.
func (l *List) GetByInternalID(id uint64) *Entry {
	identity, ok := l.byInternalID.Get(id)
	if !ok {
		return nil
	}
	return l.Get(identity)
}

// GetByCollateral returns the entry anchored by the given collateral
// outpoint, or nil.
func (l *List) GetByCollateral(collateral chain.OutPoint) *Entry {
	return l.getByProperty(outpointPropertyKey(collateral))
}

// GetByOperatorKey returns the entry with the given operator key, or nil.
func (l *List) GetByOperatorKey(ser []byte) *Entry {
	if len(ser) == 0 {
		return nil
	}
	return l.getByProperty(bytesPropertyKey(ser))
}

// GetByService returns the entry advertising the given network address, or
// nil.
func (l *List) GetByService(service chain.Service) *Entry {
	if service.IsZero() {
		return nil
	}
	return l.getByProperty(servicePropertyKey(service))
}

// HasUniqueProperty reports whether any entry claims the given uniqueness
// key.
func (l *List) HasUniqueProperty(key chain.Hash) bool {
	_, ok := l.byProperty.Get(key)
	return ok
}

// GetUniquePropertyEntry returns the entry claiming the given uniqueness
// key, or nil.
func (l *List) GetUniquePropertyEntry(key chain.Hash) *Entry {
	return l.getByProperty(key)
}

func (l *List) getByProperty(key chain.Hash) *Entry {
	claim, ok := l.byProperty.Get(key)
	if !ok {
		return nil
	}
	return l.Get(claim.Identity)
}

// AddEntry inserts a new entry. It fails, leaving the list unchanged, if the
// identity, the internal id, or any uniqueness property is already claimed
// by a different identity. With bumpTotal, the registration counter is
// incremented; diff replay of historical additions passes true as well so
// that replayed and directly-built lists agree on the counter.
func (l *List) AddEntry(e *Entry, bumpTotal bool) error {
	if l.Has(e.Identity) {
		return NewValidationError(RejectDupIdentity, e.Identity, "duplicate identity")
	}
	if _, ok := l.byInternalID.Get(e.InternalID); ok {
		return NewValidationError(RejectDupIdentity, e.Identity, "duplicate internal id %d", e.InternalID)
	}
	if e.Collateral.IsNull() {
		return NewValidationError(RejectBadPayload, e.Identity, "null collateral")
	}

	props := l.byProperty
	var ok bool
	if props, ok = addProperty(props, e.Identity, outpointPropertyKey(e.Collateral)); !ok {
		return NewValidationError(RejectDupCollateral, e.Identity, "collateral %s already claimed", e.Collateral)
	}
	if !e.State.Service.IsZero() {
		if props, ok = addProperty(props, e.Identity, servicePropertyKey(e.State.Service)); !ok {
			return NewValidationError(RejectDupAddr, e.Identity, "address %s already claimed", e.State.Service)
		}
	}
	if !e.State.OwnerKey.IsZero() {
		if props, ok = addProperty(props, e.Identity, keyIDPropertyKey(e.State.OwnerKey)); !ok {
			return NewValidationError(RejectDupKey, e.Identity, "owner key already claimed")
		}
	}
	if !e.State.OperatorKey.IsZero() {
		if props, ok = addProperty(props, e.Identity, bytesPropertyKey(e.State.OperatorKey.Bytes())); !ok {
			return NewValidationError(RejectDupKey, e.Identity, "operator key already claimed")
		}
	}
	if !e.State.VotingKey.IsZero() {
		if props, ok = addProperty(props, e.Identity, keyIDPropertyKey(e.State.VotingKey)); !ok {
			return NewValidationError(RejectDupKey, e.Identity, "voting key already claimed")
		}
	}

	l.entries = l.entries.Set(e.Identity, e)
	l.byInternalID = l.byInternalID.Set(e.InternalID, e.Identity)
	l.byProperty = props
	if bumpTotal {
		l.TotalRegisteredCount++
	}
	return nil
}

// UpdateEntry replaces an entry's state. Uniqueness bindings for the mutable
// properties are reconciled; if any binding step fails the list is left
// unchanged and an error is returned.
func (l *List) UpdateEntry(identity chain.Hash, newState *State) error {
	old := l.Get(identity)
	if old == nil {
		return NewValidationError(RejectUnknownEntry, identity, "unknown identity")
	}

	props := l.byProperty
	var ok bool
	if props, ok = updateProperty(props, identity, servicePropertyKeyOrZero(old.State.Service), servicePropertyKeyOrZero(newState.Service)); !ok {
		return NewValidationError(RejectDupAddr, identity, "address %s already claimed", newState.Service)
	}
	if props, ok = updateProperty(props, identity, keyIDPropertyKeyOrZero(old.State.OwnerKey), keyIDPropertyKeyOrZero(newState.OwnerKey)); !ok {
		return NewValidationError(RejectDupKey, identity, "owner key already claimed")
	}
	if props, ok = updateProperty(props, identity, bytesPropertyKeyOrZero(old.State.OperatorKey.Bytes()), bytesPropertyKeyOrZero(newState.OperatorKey.Bytes())); !ok {
		return NewValidationError(RejectDupKey, identity, "operator key already claimed")
	}
	if props, ok = updateProperty(props, identity, keyIDPropertyKeyOrZero(old.State.VotingKey), keyIDPropertyKeyOrZero(newState.VotingKey)); !ok {
		return NewValidationError(RejectDupKey, identity, "voting key already claimed")
	}

	updated := *old
	updated.State = newState
	l.entries = l.entries.Set(identity, &updated)
	l.byProperty = props
	return nil
}

// UpdateEntryWithDiff applies a StateDiff to an entry's state.
func (l *List) UpdateEntryWithDiff(identity chain.Hash, d *StateDiff) error {
	old := l.Get(identity)
	if old == nil {
		return NewValidationError(RejectUnknownEntry, identity, "unknown identity")
	}
	newState := old.State.Copy()
	d.Apply(newState)
	return l.UpdateEntry(identity, newState)
}

// RemoveEntry deletes an entry and all of its uniqueness bindings.
func (l *List) RemoveEntry(identity chain.Hash) error {
	e := l.Get(identity)
	if e == nil {
		return NewValidationError(RejectUnknownEntry, identity, "unknown identity")
	}

	props := l.byProperty
	var ok bool
	if props, ok = deleteProperty(props, identity, outpointPropertyKey(e.Collateral)); !ok {
		return fmt.Errorf("registry: collateral binding missing for %s", identity)
	}
	if !e.State.Service.IsZero() {
		if props, ok = deleteProperty(props, identity, servicePropertyKey(e.State.Service)); !ok {
			return fmt.Errorf("registry: address binding missing for %s", identity)
		}
	}
	if !e.State.OwnerKey.IsZero() {
		if props, ok = deleteProperty(props, identity, keyIDPropertyKey(e.State.OwnerKey)); !ok {
			return fmt.Errorf("registry: owner key binding missing for %s", identity)
		}
	}
	if !e.State.OperatorKey.IsZero() {
		if props, ok = deleteProperty(props, identity, bytesPropertyKey(e.State.OperatorKey.Bytes())); !ok {
			return fmt.Errorf("registry: operator key binding missing for %s", identity)
		}
	}
	if !e.State.VotingKey.IsZero() {
		if props, ok = deleteProperty(props, identity, keyIDPropertyKey(e.State.VotingKey)); !ok {
			return fmt.Errorf("registry: voting key binding missing for %s", identity)
		}
	}

	l.entries = l.entries.Delete(identity)
	l.byInternalID = l.byInternalID.Delete(e.InternalID)
	l.byProperty = props
	return nil
}

// MaxPenalty returns the maximum penalty score allowed at this list's
// height. It is dynamic: it equals the number of currently valid entries, so
// smaller registries tolerate fewer consecutive failures before a ban. It is
// recomputed on every call and must never be cached across heights.
func (l *List) MaxPenalty() int {
	n := l.ValidCountAt(l.Height)
	if n < 1 {
		n = 1
	}
	return n
}

// PenaltyForPercent returns the given percentage of the maximum penalty.
// Always use this to derive the amount passed to Punish: the percentage
// should be high enough to account for the per-block penalty decay, e.g. 66
// to tolerate roughly two failures per payment cycle.
func (l *List) PenaltyForPercent(percent int) int {
	return l.MaxPenalty() * percent / 100
}

// Punish adds amount to an entry's penalty score. If the resulting score
// reaches the maximum penalty the entry is banned at this list's height.
// Scores are only increased while an entry is not banned, which means a
// banned entry's score may legitimately read lower than the maximum that
// triggered the ban.
func (l *List) Punish(identity chain.Hash, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("registry: non-positive penalty %d", amount)
	}
	e := l.Get(identity)
	if e == nil {
		return NewValidationError(RejectUnknownEntry, identity, "unknown identity")
	}
	if e.State.IsBanned() {
		return nil
	}
	newState := e.State.Copy()
	newState.Penalty += amount
	if newState.Penalty >= l.MaxPenalty() {
		newState.Ban(l.Height)
	}
	return l.UpdateEntry(identity, newState)
}

// DecreasePenalty decrements an entry's penalty score by one. It is a no-op
// on banned entries and entries with a zero score.
func (l *List) DecreasePenalty(identity chain.Hash) error {
	e := l.Get(identity)
	if e == nil {
		return NewValidationError(RejectUnknownEntry, identity, "unknown identity")
	}
	if e.State.IsBanned() || e.State.Penalty <= 0 {
		return nil
	}
	newState := e.State.Copy()
	newState.Penalty--
	return l.UpdateEntry(identity, newState)
}

// Serialize writes the list header followed by every entry.
func (l *List) Serialize(w io.Writer) error {
	if err := l.BlockHash.Serialize(w); err != nil {
		return err
	}
	if err := chain.WriteInt32(w, int32(l.Height)); err != nil {
		return err
	}
	if err := chain.WriteUint32(w, l.TotalRegisteredCount); err != nil {
		return err
	}
	if err := chain.WriteCompactSize(w, uint64(l.Count())); err != nil {
		return err
	}
	var serr error
	l.ForEach(false, func(e *Entry) {
		if serr == nil {
			serr = e.Serialize(w)
		}
	})
	return serr
}

// DeserializeList reads a serialized list and rebuilds all indexes.
func DeserializeList(r io.Reader) (*List, error) {
	blockHash, err := chain.DeserializeHash(r)
	if err != nil {
		return nil, err
	}
	height, err := chain.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	total, err := chain.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	l := NewList(blockHash, int(height), total)
	cnt, err := chain.ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < cnt; i++ {
		e, err := DeserializeEntry(r)
		if err != nil {
			return nil, err
		}
		if err := l.AddEntry(e, false); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Equal reports whether two lists carry identical state, indexes included.
func (l *List) Equal(other *List) bool {
	if l.BlockHash != other.BlockHash || l.Height != other.Height ||
		l.TotalRegisteredCount != other.TotalRegisteredCount ||
		l.Count() != other.Count() {
		return false
	}
	var a, b bytes.Buffer
	if err := l.Serialize(&a); err != nil {
		return false
	}
	if err := other.Serialize(&b); err != nil {
		return false
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

/* Uniqueness-index helpers. They return success/failure rather than an
error so that a partially reconciled multi-property update can be abandoned
before anything caller-visible changes. */

func addProperty(m *immutable.Map[chain.Hash, propertyClaim], identity chain.Hash, key chain.Hash) (*immutable.Map[chain.Hash, propertyClaim], bool) {
	claim, found := m.Get(key)
	if found && claim.Identity != identity {
		return m, false
	}
	if found {
		claim.Refs++
	} else {
		claim = propertyClaim{Identity: identity, Refs: 1}
	}
	return m.Set(key, claim), true
}

func deleteProperty(m *immutable.Map[chain.Hash, propertyClaim], identity chain.Hash, key chain.Hash) (*immutable.Map[chain.Hash, propertyClaim], bool) {
	claim, found := m.Get(key)
	if !found || claim.Identity != identity {
		return m, false
	}
	if claim.Refs == 1 {
		return m.Delete(key), true
	}
	claim.Refs--
	return m.Set(key, claim), true
}

// updateProperty reconciles a binding change. Zero keys mean "no value":
// deleting a zero key and adding a zero key are both no-ops.
func updateProperty(m *immutable.Map[chain.Hash, propertyClaim], identity chain.Hash, oldKey, newKey chain.Hash) (*immutable.Map[chain.Hash, propertyClaim], bool) {
	if oldKey == newKey {
		return m, true
	}
	var ok bool
	if !oldKey.IsZero() {
		if m, ok = deleteProperty(m, identity, oldKey); !ok {
			return m, false
		}
	}
	if !newKey.IsZero() {
		if m, ok = addProperty(m, identity, newKey); !ok {
			return m, false
		}
	}
	return m, true
}

/* Uniqueness keys are the double-SHA256 of the property's wire form, so
that values of different widths cannot alias each other byte-wise. */

func outpointPropertyKey(o chain.OutPoint) chain.Hash {
	var buf bytes.Buffer
	o.Serialize(&buf)
	return chain.NewHash(crypto.DoubleSHA256(buf.Bytes()))
}

func servicePropertyKey(s chain.Service) chain.Hash {
	var buf bytes.Buffer
	s.Serialize(&buf)
	return chain.NewHash(crypto.DoubleSHA256(buf.Bytes()))
}

func servicePropertyKeyOrZero(s chain.Service) chain.Hash {
	if s.IsZero() {
		return chain.Hash{}
	}
	return servicePropertyKey(s)
}

func keyIDPropertyKey(k chain.KeyID) chain.Hash {
	return chain.NewHash(crypto.DoubleSHA256(k[:]))
}

func keyIDPropertyKeyOrZero(k chain.KeyID) chain.Hash {
	if k.IsZero() {
		return chain.Hash{}
	}
	return keyIDPropertyKey(k)
}

func bytesPropertyKey(b []byte) chain.Hash {
	return chain.NewHash(crypto.DoubleSHA256(b))
}

func bytesPropertyKeyOrZero(b []byte) chain.Hash {
	if len(b) == 0 {
		return chain.Hash{}
	}
	return bytesPropertyKey(b)
}
