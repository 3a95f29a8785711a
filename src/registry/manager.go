package registry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/common"
	"github.com/mosaicnetworks/mnregistry/src/store"
)

// Store key prefixes. Snapshot and diff keys append the big-endian height so
// that a prefix scan walks heights in order.
var (
	prefixSnapshot = []byte("dmn_S")
	prefixDiff     = []byte("dmn_D")
)

func snapshotKey(height int) []byte {
	k := make([]byte, len(prefixSnapshot)+8)
	copy(k, prefixSnapshot)
	binary.BigEndian.PutUint64(k[len(prefixSnapshot):], uint64(height))
	return k
}

func diffKey(height int) []byte {
	k := make([]byte, len(prefixDiff)+8)
	copy(k, prefixDiff)
	binary.BigEndian.PutUint64(k[len(prefixDiff):], uint64(height))
	return k
}

// Defaults for Options. The snapshot cadence and retention bound how far back
// a list can be reconstructed without a reindex, and how much replay work a
// worst-case lookup costs.
const (
	DefaultSnapshotInterval = 576
	DefaultSnapshotCount    = 3
	DefaultMinConfirmations = 15
	DefaultPenaltyPercent   = 66

	listCacheSize = 5
)

// ErrLegacyFormat is returned by Init when the store was written by a version
// that used the superseded identity-keyed diff format. Diffs in that format
// cannot be replayed forward, so the store has to be rebuilt from the chain.
var ErrLegacyFormat = errors.New("registry: store uses the superseded diff format, reindex required")

// Options configures a Manager.
type Options struct {
	// ActivationHeight is the first height at which registry transactions
	// take effect. The list at every lower height is empty.
	ActivationHeight int
	// SnapshotInterval is the cadence, in blocks, of full list snapshots
	// written to the store.
	SnapshotInterval int
	// SnapshotCount is how many snapshots maintenance retains.
	SnapshotCount int
	// MinConfirmations is how deep a registration must be buried before
	// the entry's confirmed hash is set.
	MinConfirmations int
	// PenaltyPercent is the fraction of the maximum penalty applied per
	// failed quorum round.
	PenaltyPercent int
}

// DefaultOptions ...
func DefaultOptions() Options {
	return Options{
		SnapshotInterval: DefaultSnapshotInterval,
		SnapshotCount:    DefaultSnapshotCount,
		MinConfirmations: DefaultMinConfirmations,
		PenaltyPercent:   DefaultPenaltyPercent,
	}
}

// LatestStoredHeight scans a backend for the highest height that has a diff
// or snapshot, for tools that inspect a store without a chain attached.
func LatestStoredHeight(b store.Backend) (int, bool, error) {
	max := -1
	scan := func(prefix []byte) error {
		return b.Scan(prefix, func(k, v []byte) error {
			if len(k) != len(prefix)+8 {
				return nil
			}
			h := int(binary.BigEndian.Uint64(k[len(prefix):]))
			if h > max {
				max = h
			}
			return nil
		})
	}
	if err := scan(prefixDiff); err != nil {
		return 0, false, err
	}
	if err := scan(prefixSnapshot); err != nil {
		return 0, false, err
	}
	return max, max >= 0, nil
}

// Manager maintains the registry across chain updates. It owns the in-memory
// list and diff caches, persists per-block diffs and periodic snapshots
// through the transactional store, and reconstructs historical lists on
// demand by replaying diffs forward from the nearest snapshot.
//
// ProcessBlock and UndoBlock must be called inside a store transaction scope
// that the caller commits once the block is final; the manager's caches are
// updated eagerly and assume the scope commits.
type Manager struct {
	mu sync.Mutex

	opts   Options
	store  *store.TransactionalStore
	index  *chain.Index
	logger *logrus.Entry

	tipList   *List
	lists     map[chain.Hash]*List
	diffCache *common.RollingIndex[*ListDiff]

	// toCleanup is the height maintenance should clean up to; it is set
	// atomically by ProcessBlock so block processing never waits on a
	// maintenance run. didCleanup tracks the last height already cleaned.
	toCleanup  int64
	cleanupMu  sync.Mutex
	didCleanup int
}

// NewManager ...
func NewManager(s *store.TransactionalStore, index *chain.Index, opts Options, logger *logrus.Entry) *Manager {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.SnapshotCount <= 0 {
		opts.SnapshotCount = DefaultSnapshotCount
	}
	if opts.MinConfirmations <= 0 {
		opts.MinConfirmations = DefaultMinConfirmations
	}
	if opts.PenaltyPercent <= 0 {
		opts.PenaltyPercent = DefaultPenaltyPercent
	}
	return &Manager{
		opts:       opts,
		store:      s,
		index:      index,
		logger:     logger,
		lists:      make(map[chain.Hash]*List),
		diffCache:  common.NewRollingIndex[*ListDiff]("ListDiff", opts.SnapshotInterval),
		didCleanup: -1,
	}
}

// Init checks the store against the chain tip. A nil tip means the chain is
// fresh; otherwise the recorded best-block marker must match it, and the
// store must not be in the legacy diff format.
func (m *Manager) Init(tip *chain.BlockMeta) error {
	empty, err := m.store.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		return nil
	}
	hash, legacy, err := m.store.ReadBestBlock()
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			return nil
		}
		return err
	}
	if legacy {
		return ErrLegacyFormat
	}
	if tip == nil || hash != tip.Hash {
		return fmt.Errorf("registry: store best block %s does not match chain tip", hash)
	}
	return nil
}

// ProcessBlock advances the registry by one block. prev is the chain tip the
// block extends; it is nil only for the first block. Below the activation
// height only the best-block marker is maintained.
func (m *Manager) ProcessBlock(block *chain.Block, prev *chain.BlockMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	height := 0
	if prev != nil {
		height = prev.Height + 1
	}
	if height < m.opts.ActivationHeight {
		m.store.WriteBestBlock(block.Hash)
		return nil
	}

	oldList, err := m.listAtLocked(height - 1)
	if err != nil {
		return err
	}

	newList, err := m.buildListFromBlock(block, prev, oldList)
	if err != nil {
		return err
	}

	diff := oldList.BuildDiff(newList)
	if diff.HasChanges() {
		var buf bytes.Buffer
		if err := diff.Serialize(&buf); err != nil {
			return err
		}
		m.store.Write(diffKey(height), buf.Bytes())
	}
	if height%m.opts.SnapshotInterval == 0 {
		var buf bytes.Buffer
		if err := newList.Serialize(&buf); err != nil {
			return err
		}
		m.store.Write(snapshotKey(height), buf.Bytes())
		m.logger.WithFields(logrus.Fields{
			"height":  height,
			"entries": newList.Count(),
		}).Debug("Wrote registry snapshot")
	}
	m.store.WriteBestBlock(block.Hash)

	if err := m.diffCache.Set(diff, height); err != nil {
		if common.IsStore(err, common.SkippedIndex) {
			// the cache lost continuity, e.g. after a restart; start over
			m.diffCache = common.NewRollingIndex[*ListDiff]("ListDiff", m.opts.SnapshotInterval)
			m.diffCache.Set(diff, height)
		} else {
			return err
		}
	}
	m.cacheListLocked(newList)
	m.tipList = newList

	atomic.StoreInt64(&m.toCleanup, int64(height))

	m.logger.WithFields(logrus.Fields{
		"height":  height,
		"block":   block.Hash.String(),
		"added":   len(diff.Added),
		"updated": len(diff.Updated),
		"removed": len(diff.Removed),
	}).Debug("Processed block")

	return nil
}

// UndoBlock rolls the registry back across a disconnected block. meta is the
// chain-index entry of the block being undone. The previous list is
// reconstructed from snapshots and diffs; failure to reconstruct it means the
// store lost data the chain still depends on, which is unrecoverable.
func (m *Manager) UndoBlock(block *chain.Block, meta *chain.BlockMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	height := meta.Height
	prevHash := chain.Hash{}
	if meta.Prev != nil {
		prevHash = meta.Prev.Hash
	}

	if height < m.opts.ActivationHeight {
		m.store.WriteBestBlock(prevHash)
		return nil
	}

	prevList, err := m.listAtLocked(height - 1)
	if err != nil {
		m.logger.WithError(err).WithField("height", height-1).
			Fatal("Failed to reconstruct registry list during undo")
		return err
	}

	m.store.Erase(diffKey(height))
	if height%m.opts.SnapshotInterval == 0 {
		m.store.Erase(snapshotKey(height))
	}
	m.store.WriteBestBlock(prevHash)

	delete(m.lists, block.Hash)
	m.diffCache.Truncate(height - 1)
	if height-1 >= m.opts.ActivationHeight {
		m.tipList = prevList
	} else {
		m.tipList = nil
	}

	m.logger.WithFields(logrus.Fields{
		"height": height,
		"block":  block.Hash.String(),
	}).Debug("Undid block")

	return nil
}

// GetListForHeight returns the registry list at the given height on the
// active chain.
func (m *Manager) GetListForHeight(height int) (*List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAtLocked(height)
}

// GetListForBlock returns the registry list at the given block, which must be
// on the active chain.
func (m *Manager) GetListForBlock(meta *chain.BlockMeta) (*List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lists[meta.Hash]; ok {
		return l, nil
	}
	return m.listAtLocked(meta.Height)
}

// GetListAtTip returns the registry list at the chain tip.
func (m *Manager) GetListAtTip() (*List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tipList != nil {
		return m.tipList, nil
	}
	tip := m.index.Tip()
	if tip == nil {
		return NewList(chain.Hash{}, m.opts.ActivationHeight-1, 0), nil
	}
	return m.listAtLocked(tip.Height)
}

// listAtLocked reconstructs the list at a height: nearest snapshot at or
// below it, then forward replay of the per-height diffs. Heights below
// activation yield an empty list.
func (m *Manager) listAtLocked(height int) (*List, error) {
	if height < m.opts.ActivationHeight {
		return NewList(chain.Hash{}, height, 0), nil
	}
	if meta := m.index.MetaAt(height); meta != nil {
		if l, ok := m.lists[meta.Hash]; ok {
			return l, nil
		}
	}
	if m.tipList != nil && m.tipList.Height == height {
		return m.tipList, nil
	}

	list, err := m.nearestSnapshotLocked(height)
	if err != nil {
		return nil, err
	}

	for h := list.Height + 1; h <= height; h++ {
		diff, err := m.diffAtLocked(h)
		if err != nil {
			return nil, err
		}
		blockHash := chain.Hash{}
		if meta := m.index.MetaAt(h); meta != nil {
			blockHash = meta.Hash
		}
		list, err = list.ApplyDiff(h, blockHash, diff)
		if err != nil {
			return nil, err
		}
	}

	m.cacheListLocked(list)
	return list, nil
}

// nearestSnapshotLocked loads the newest stored snapshot at or below height,
// falling back to the empty base list at activation.
func (m *Manager) nearestSnapshotLocked(height int) (*List, error) {
	for h := height - height%m.opts.SnapshotInterval; h >= m.opts.ActivationHeight; h -= m.opts.SnapshotInterval {
		v, err := m.store.Read(snapshotKey(h))
		if err != nil {
			if common.IsStore(err, common.KeyNotFound) {
				continue
			}
			return nil, err
		}
		return DeserializeList(bytes.NewReader(v))
	}
	return NewList(chain.Hash{}, m.opts.ActivationHeight-1, 0), nil
}

// diffAtLocked returns the diff at a height, from cache or store. A height
// with no stored diff had no registry changes.
func (m *Manager) diffAtLocked(height int) (*ListDiff, error) {
	if d, err := m.diffCache.GetItem(height); err == nil && d != nil && d.Height == height {
		return d, nil
	}
	v, err := m.store.Read(diffKey(height))
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			return NewListDiff(height), nil
		}
		return nil, err
	}
	d, err := DeserializeListDiff(bytes.NewReader(v))
	if err != nil {
		return nil, err
	}
	d.Height = height
	return d, nil
}

func (m *Manager) cacheListLocked(l *List) {
	if l.BlockHash.IsZero() {
		return
	}
	m.lists[l.BlockHash] = l
	if len(m.lists) <= listCacheSize {
		return
	}
	// evict the oldest cached list
	var oldest *List
	for _, cached := range m.lists {
		if oldest == nil || cached.Height < oldest.Height {
			oldest = cached
		}
	}
	delete(m.lists, oldest.BlockHash)
}

// buildListFromBlock derives the next list from its predecessor and one
// block's transactions. It never mutates oldList.
func (m *Manager) buildListFromBlock(block *chain.Block, prev *chain.BlockMeta, oldList *List) (*List, error) {
	height := m.opts.ActivationHeight
	prevHash := chain.Hash{}
	if prev != nil {
		height = prev.Height + 1
		prevHash = prev.Hash
	}

	newList := oldList.Copy()
	newList.Height = height
	newList.BlockHash = block.Hash

	// The payee is decided by the pre-block list: a block pays the entry
	// that was at the front of the queue before the block's own
	// transactions took effect.
	payee := oldList.GetPayee()

	// Confirm entries whose registration is buried deep enough. The hash
	// of the previous block is used so every node derives the same value
	// while building the current one.
	var toConfirm []*Entry
	newList.ForEach(false, func(e *Entry) {
		if !e.State.ConfirmedHash.IsZero() {
			return
		}
		if height >= e.State.RegisteredHeight+m.opts.MinConfirmations {
			toConfirm = append(toConfirm, e)
		}
	})
	for _, e := range toConfirm {
		newState := e.State.Copy()
		newState.UpdateConfirmedHash(e.Identity, prevHash)
		if err := newList.UpdateEntry(e.Identity, newState); err != nil {
			return nil, err
		}
	}

	for _, tx := range block.Txs {
		// A spent collateral removes its entry no matter what else the
		// transaction carries.
		for _, in := range tx.Inputs {
			if e := newList.GetByCollateral(in); e != nil {
				m.logger.WithFields(logrus.Fields{
					"identity":   e.Identity.String(),
					"collateral": e.Collateral.String(),
					"height":     height,
				}).Debug("Removing entry, collateral was spent")
				if err := newList.RemoveEntry(e.Identity); err != nil {
					return nil, err
				}
			}
		}

		switch p := tx.Payload.(type) {
		case *chain.Register:
			if err := m.applyRegister(newList, tx, p, height); err != nil {
				return nil, err
			}
		case *chain.UpdateService:
			if err := m.applyUpdateService(newList, tx, p, height); err != nil {
				return nil, err
			}
		case *chain.UpdateRegistrar:
			if err := m.applyUpdateRegistrar(newList, tx, p, height); err != nil {
				return nil, err
			}
		case *chain.Revoke:
			if err := m.applyRevoke(newList, tx, p, height); err != nil {
				return nil, err
			}
		case *chain.QuorumCommitment:
			if err := m.applyQuorumCommitment(newList, p, height); err != nil {
				return nil, err
			}
		}
	}

	// Penalty decay, one point per block, after this block's punishments
	// have been applied. Banned entries keep their score frozen.
	var toDecay []chain.Hash
	newList.ForEach(false, func(e *Entry) {
		if !e.State.IsBanned() && e.State.Penalty > 0 {
			toDecay = append(toDecay, e.Identity)
		}
	})
	for _, identity := range toDecay {
		if err := newList.DecreasePenalty(identity); err != nil {
			return nil, err
		}
	}

	if payee != nil {
		// the payee may have been removed or revoked by this very block
		if e := newList.Get(payee.Identity); e != nil {
			newState := e.State.Copy()
			newState.LastPaidHeight = height
			if err := newList.UpdateEntry(e.Identity, newState); err != nil {
				return nil, err
			}
		}
	}

	return newList, nil
}

func (m *Manager) applyRegister(l *List, tx *chain.Tx, p *chain.Register, height int) error {
	collateral := p.Collateral
	if collateral.Hash.IsZero() {
		// collateral held by an output of the registration itself
		collateral = chain.OutPoint{Hash: tx.Hash, N: p.Collateral.N}
	}
	entry := &Entry{
		Identity:       tx.Hash,
		InternalID:     uint64(l.TotalRegisteredCount),
		Collateral:     collateral,
		OperatorReward: p.OperatorReward,
		State:          NewStateFromRegister(p, height),
	}
	if err := l.AddEntry(entry, true); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"identity": entry.Identity.String(),
		"height":   height,
	}).Debug("Registered entry")
	return nil
}

func (m *Manager) applyUpdateService(l *List, tx *chain.Tx, p *chain.UpdateService, height int) error {
	e := l.Get(p.Identity)
	if e == nil {
		return NewValidationError(RejectUnknownEntry, tx.Hash, "service update for unknown identity %s", p.Identity)
	}
	newState := e.State.Copy()
	newState.Service = p.Service
	newState.OperatorPayoutScript = append([]byte(nil), p.OperatorPayoutScript...)
	if newState.IsBanned() {
		// a service update from the operator is proof of life
		newState.Revive(height)
		m.logger.WithFields(logrus.Fields{
			"identity": p.Identity.String(),
			"height":   height,
		}).Debug("Revived entry")
	}
	return l.UpdateEntry(p.Identity, newState)
}

func (m *Manager) applyUpdateRegistrar(l *List, tx *chain.Tx, p *chain.UpdateRegistrar, height int) error {
	e := l.Get(p.Identity)
	if e == nil {
		return NewValidationError(RejectUnknownEntry, tx.Hash, "registrar update for unknown identity %s", p.Identity)
	}
	newState := e.State.Copy()
	if len(p.OperatorKey) > 0 && !bytes.Equal(p.OperatorKey, newState.OperatorKey.Bytes()) {
		// handing the entry to a new operator clears everything the old
		// one controlled and bans the entry until the new operator
		// activates it with a service update
		newState.ResetOperatorFields()
		newState.Ban(height)
		newState.OperatorKey = NewLazyPublicKey(p.OperatorKey)
	}
	if !p.VotingKey.IsZero() {
		newState.VotingKey = p.VotingKey
	}
	if len(p.PayoutScript) > 0 {
		newState.PayoutScript = append([]byte(nil), p.PayoutScript...)
	}
	return l.UpdateEntry(p.Identity, newState)
}

func (m *Manager) applyRevoke(l *List, tx *chain.Tx, p *chain.Revoke, height int) error {
	e := l.Get(p.Identity)
	if e == nil {
		return NewValidationError(RejectUnknownEntry, tx.Hash, "revocation for unknown identity %s", p.Identity)
	}
	newState := e.State.Copy()
	newState.ResetOperatorFields()
	newState.Ban(height)
	newState.RevocationReason = p.Reason
	m.logger.WithFields(logrus.Fields{
		"identity": p.Identity.String(),
		"reason":   p.Reason,
		"height":   height,
	}).Debug("Revoked entry")
	return l.UpdateEntry(p.Identity, newState)
}

func (m *Manager) applyQuorumCommitment(l *List, p *chain.QuorumCommitment, height int) error {
	penalty := l.PenaltyForPercent(m.opts.PenaltyPercent)
	for i, member := range p.Members {
		if i < len(p.ValidMembers) && p.ValidMembers[i] {
			continue
		}
		// members that left the registry since the quorum formed are
		// beyond punishment
		if l.Get(member) == nil {
			continue
		}
		if err := l.Punish(member, penalty); err != nil {
			return err
		}
		m.logger.WithFields(logrus.Fields{
			"identity": member.String(),
			"quorum":   p.QuorumHash.String(),
			"penalty":  penalty,
			"height":   height,
		}).Debug("Punished entry for failed quorum round")
	}
	return nil
}

// DoMaintenance erases diffs and snapshots that have fallen out of the
// retention window. It is meant to run periodically from a background
// goroutine; it never blocks block processing.
func (m *Manager) DoMaintenance() error {
	tip := int(atomic.LoadInt64(&m.toCleanup))
	if tip == 0 {
		return nil
	}

	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	cleanupUntil := tip - m.opts.SnapshotInterval*m.opts.SnapshotCount
	if cleanupUntil <= m.didCleanup {
		return nil
	}

	// Erase through the backend directly rather than the nested
	// transaction, which may hold an open block scope.
	deletes := make(map[string]struct{})
	start := m.didCleanup + 1
	if start < 0 {
		start = 0
	}
	for h := start; h <= cleanupUntil; h++ {
		deletes[string(diffKey(h))] = struct{}{}
		if h%m.opts.SnapshotInterval == 0 {
			deletes[string(snapshotKey(h))] = struct{}{}
		}
	}
	if err := m.store.Backend().ApplyBatch(nil, deletes); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"from": start,
		"to":   cleanupUntil,
	}).Debug("Cleaned up old registry diffs")

	m.didCleanup = cleanupUntil
	return nil
}
