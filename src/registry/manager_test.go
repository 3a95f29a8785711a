package registry

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/common"
	"github.com/mosaicnetworks/mnregistry/src/store"
)

type managerEnv struct {
	t      *testing.T
	s      *store.TransactionalStore
	index  *chain.Index
	m      *Manager
	blocks map[int]*chain.Block
}

func newManagerEnv(t *testing.T, opts Options) *managerEnv {
	s := store.New(store.NewInmemBackend())
	index := chain.NewIndex()
	logger := common.NewTestLogger(t, logrus.DebugLevel)
	m := NewManager(s, index, opts, logger.WithField("component", "registry"))
	return &managerEnv{
		t:      t,
		s:      s,
		index:  index,
		m:      m,
		blocks: make(map[int]*chain.Block),
	}
}

func testOptions() Options {
	return Options{
		SnapshotInterval: 4,
		SnapshotCount:    2,
		MinConfirmations: 3,
		PenaltyPercent:   66,
	}
}

func blockHashAt(height int) chain.Hash {
	return testHash("height", byte(height))
}

// process connects one block and fails the test on error.
func (env *managerEnv) process(txs ...*chain.Tx) int {
	env.t.Helper()
	height, err := env.tryProcess(txs...)
	if err != nil {
		env.t.Fatal(err)
	}
	return height
}

// tryProcess connects one block and returns the processing error, rolling
// back the store scope on failure.
func (env *managerEnv) tryProcess(txs ...*chain.Tx) (int, error) {
	env.t.Helper()
	prev := env.index.Tip()
	height := 0
	if prev != nil {
		height = prev.Height + 1
	}
	block := &chain.Block{Hash: blockHashAt(height), Txs: txs}

	scope := env.s.Begin()
	defer scope.Done()
	if err := env.m.ProcessBlock(block, prev); err != nil {
		return height, err
	}
	scope.Commit()
	if err := env.s.CommitRoot(); err != nil {
		env.t.Fatal(err)
	}

	env.index.Connect(block.Hash)
	env.blocks[height] = block
	return height, nil
}

// undo disconnects the tip block.
func (env *managerEnv) undo() {
	env.t.Helper()
	meta := env.index.Tip()
	block := env.blocks[meta.Height]

	scope := env.s.Begin()
	defer scope.Done()
	if err := env.m.UndoBlock(block, meta); err != nil {
		env.t.Fatal(err)
	}
	scope.Commit()
	if err := env.s.CommitRoot(); err != nil {
		env.t.Fatal(err)
	}

	env.index.Disconnect()
	delete(env.blocks, meta.Height)
}

func (env *managerEnv) tipList() *List {
	env.t.Helper()
	l, err := env.m.GetListAtTip()
	if err != nil {
		env.t.Fatal(err)
	}
	return l
}

func quorumCommitmentTx(seed byte, members []chain.Hash, valid []bool) *chain.Tx {
	return &chain.Tx{
		Hash: testHash("qc", seed),
		Payload: &chain.QuorumCommitment{
			QuorumHash:   testHash("quorum", seed),
			Members:      members,
			ValidMembers: valid,
		},
	}
}

func TestManagerRegister(t *testing.T) {
	env := newManagerEnv(t, testOptions())

	env.process(testRegisterTx(0), testRegisterTx(1), testRegisterTx(2),
		testRegisterTx(3), testRegisterTx(4))

	list := env.tipList()
	if list.Count() != 5 || list.ValidCount() != 5 {
		t.Fatalf("count=%d valid=%d, expected 5/5", list.Count(), list.ValidCount())
	}
	if list.TotalRegisteredCount != 5 {
		t.Fatalf("registration counter %d, expected 5", list.TotalRegisteredCount)
	}
	for i := byte(0); i < 5; i++ {
		e := list.Get(testHash("tx", i))
		if e == nil {
			t.Fatalf("entry %d missing", i)
		}
		if e.InternalID != uint64(i) {
			t.Fatalf("entry %d has internal id %d", i, e.InternalID)
		}
		if e.State.RegisteredHeight != 0 {
			t.Fatalf("entry %d registered at %d", i, e.State.RegisteredHeight)
		}
	}

	ok, err := env.s.VerifyBestBlock(blockHashAt(0))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("best-block marker does not match the processed block")
	}
}

func TestManagerDuplicateCollateralRejectsBlock(t *testing.T) {
	env := newManagerEnv(t, testOptions())
	env.process(testRegisterTx(0), testRegisterTx(1))

	// a fresh identity claiming entry 0's collateral
	dup := testRegister(9)
	dup.Collateral = testRegister(0).Collateral
	tx := &chain.Tx{Hash: testHash("tx", 9), Payload: dup}

	_, err := env.tryProcess(tx)
	if err == nil {
		t.Fatal("expected the block to be rejected")
	}
	if !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}

	// nothing moved
	list := env.tipList()
	if list.Height != 0 || list.Count() != 2 {
		t.Fatalf("tip list height=%d count=%d, expected 0/2", list.Height, list.Count())
	}
}

func TestManagerPunishBanAndUndo(t *testing.T) {
	env := newManagerEnv(t, testOptions())

	members := make([]chain.Hash, 5)
	regs := make([]*chain.Tx, 5)
	for i := byte(0); i < 5; i++ {
		regs[i] = testRegisterTx(i)
		members[i] = testHash("tx", i)
	}
	env.process(regs...)

	target := testHash("tx", 3)
	failed := []bool{true, true, true, false, true}

	// first failed round: +3 of max 5, then one point of decay
	env.process(quorumCommitmentTx(1, members, failed))
	list1 := env.tipList()
	e := list1.Get(target)
	if e.State.Penalty != 2 || e.State.IsBanned() {
		t.Fatalf("after one round: penalty=%d banned=%v, expected 2/false",
			e.State.Penalty, e.State.IsBanned())
	}

	// second failed round: 2+3 reaches the ceiling before decay runs
	env.process(quorumCommitmentTx(2, members, failed))
	list2 := env.tipList()
	e = list2.Get(target)
	if !e.State.IsBanned() {
		t.Fatalf("after two rounds: penalty=%d, expected a ban", e.State.Penalty)
	}
	if e.State.BanHeight != 2 {
		t.Fatalf("ban height %d, expected 2", e.State.BanHeight)
	}
	if list2.ValidCount() != 4 {
		t.Fatalf("valid count %d, expected 4", list2.ValidCount())
	}
	for _, q := range list2.CalculateQuorum(5, testHash("modifier", 1)) {
		if q.Identity == target {
			t.Fatal("banned entry selected into quorum")
		}
	}

	// rolling the block back restores the previous list exactly
	env.undo()
	restored := env.tipList()
	if !restored.Equal(list1) {
		t.Fatal("undo did not restore the previous list")
	}
	if restored.Get(target).State.IsBanned() {
		t.Fatal("ban survived the undo")
	}
}

func TestManagerPenaltyDecay(t *testing.T) {
	env := newManagerEnv(t, testOptions())

	members := make([]chain.Hash, 5)
	regs := make([]*chain.Tx, 5)
	for i := byte(0); i < 5; i++ {
		regs[i] = testRegisterTx(i)
		members[i] = testHash("tx", i)
	}
	env.process(regs...)
	env.process(quorumCommitmentTx(1, members, []bool{true, true, true, false, true}))

	target := testHash("tx", 3)
	if p := env.tipList().Get(target).State.Penalty; p != 2 {
		t.Fatalf("penalty %d after the failed round, expected 2", p)
	}

	// every quiet block shaves one point off
	env.process()
	env.process()
	if p := env.tipList().Get(target).State.Penalty; p != 0 {
		t.Fatalf("penalty %d after two quiet blocks, expected 0", p)
	}

	// and it never goes negative
	env.process()
	if p := env.tipList().Get(target).State.Penalty; p != 0 {
		t.Fatalf("penalty %d, expected to stay 0", p)
	}
}

func TestManagerUpdateServiceRevives(t *testing.T) {
	env := newManagerEnv(t, testOptions())

	members := make([]chain.Hash, 5)
	regs := make([]*chain.Tx, 5)
	for i := byte(0); i < 5; i++ {
		regs[i] = testRegisterTx(i)
		members[i] = testHash("tx", i)
	}
	env.process(regs...)

	// two failed rounds ban entry 0: +3 then decay to 2 after the first,
	// 2+3 hits the max of 5 on the second
	failed := []bool{false, true, true, true, true}
	env.process(quorumCommitmentTx(1, members, failed))
	env.process(quorumCommitmentTx(2, members, failed))

	target := testHash("tx", 0)
	if !env.tipList().Get(target).State.IsBanned() {
		t.Fatal("entry should be banned after two failed rounds")
	}

	upd := &chain.Tx{
		Hash: testHash("upd", 1),
		Payload: &chain.UpdateService{
			Identity: target,
			Service:  testService(7),
		},
	}
	height := env.process(upd)

	e := env.tipList().Get(target)
	if e.State.IsBanned() {
		t.Fatal("service update should revive a banned entry")
	}
	if e.State.Penalty != 0 {
		t.Fatalf("penalty %d after revival, expected 0", e.State.Penalty)
	}
	if e.State.RevivedHeight != height {
		t.Fatalf("revived height %d, expected %d", e.State.RevivedHeight, height)
	}
	if e.State.Service != testService(7) {
		t.Fatal("service not updated")
	}
}

func TestManagerRevoke(t *testing.T) {
	env := newManagerEnv(t, testOptions())
	env.process(testRegisterTx(0), testRegisterTx(1))

	target := testHash("tx", 0)
	rev := &chain.Tx{
		Hash: testHash("rev", 1),
		Payload: &chain.Revoke{
			Identity: target,
			Reason:   chain.RevokeReasonCompromised,
		},
	}
	height := env.process(rev)

	e := env.tipList().Get(target)
	if !e.State.IsBanned() || e.State.BanHeight != height {
		t.Fatal("revocation should ban the entry")
	}
	if e.State.RevocationReason != chain.RevokeReasonCompromised {
		t.Fatalf("reason %d, expected %d", e.State.RevocationReason, chain.RevokeReasonCompromised)
	}
	if !e.State.OperatorKey.IsZero() || !e.State.Service.IsZero() {
		t.Fatal("operator fields should be cleared")
	}
	// the freed address can be claimed by a new registration
	reg := testRegister(9)
	reg.Service = testService(0)
	env.process(&chain.Tx{Hash: testHash("tx", 9), Payload: reg})
}

func TestManagerOperatorKeyChange(t *testing.T) {
	env := newManagerEnv(t, testOptions())
	env.process(testRegisterTx(0), testRegisterTx(1))

	target := testHash("tx", 0)
	upd := &chain.Tx{
		Hash: testHash("upr", 1),
		Payload: &chain.UpdateRegistrar{
			Identity:    target,
			OperatorKey: testOperatorKey(9),
		},
	}
	height := env.process(upd)

	e := env.tipList().Get(target)
	if !e.State.IsBanned() || e.State.BanHeight != height {
		t.Fatal("operator handover should ban the entry until reactivation")
	}
	if !e.State.Service.IsZero() {
		t.Fatal("operator handover should clear the address")
	}
	if got := e.State.OperatorKey.Bytes(); string(got) != string(testOperatorKey(9)) {
		t.Fatal("operator key not updated")
	}

	// the new operator brings the entry back with a service update
	env.process(&chain.Tx{
		Hash: testHash("ups", 1),
		Payload: &chain.UpdateService{
			Identity: target,
			Service:  testService(8),
		},
	})
	if env.tipList().Get(target).State.IsBanned() {
		t.Fatal("entry should be live again")
	}
}

func TestManagerCollateralSpendRemovesEntry(t *testing.T) {
	env := newManagerEnv(t, testOptions())
	env.process(testRegisterTx(0), testRegisterTx(1))

	spend := &chain.Tx{
		Hash:   testHash("spend", 1),
		Inputs: []chain.OutPoint{{Hash: testHash("collateral", 0), N: 0}},
	}
	env.process(spend)

	list := env.tipList()
	if list.Count() != 1 {
		t.Fatalf("count %d, expected 1", list.Count())
	}
	if list.Get(testHash("tx", 0)) != nil {
		t.Fatal("spent entry still present")
	}
	if list.TotalRegisteredCount != 2 {
		t.Fatalf("registration counter %d, expected 2", list.TotalRegisteredCount)
	}
}

func TestManagerConfirmedHash(t *testing.T) {
	env := newManagerEnv(t, testOptions()) // MinConfirmations: 3
	env.process(testRegisterTx(0))

	env.process() // height 1
	env.process() // height 2
	e := env.tipList().Get(testHash("tx", 0))
	if !e.State.ConfirmedHash.IsZero() {
		t.Fatal("entry confirmed too early")
	}

	env.process() // height 3 = registered + MinConfirmations
	e = env.tipList().Get(testHash("tx", 0))
	if e.State.ConfirmedHash != blockHashAt(2) {
		t.Fatalf("confirmed hash %s, expected the previous block %s",
			e.State.ConfirmedHash, blockHashAt(2))
	}
	if e.State.ConfirmedHashWithIdentity.IsZero() {
		t.Fatal("combined confirmation hash not precomputed")
	}
}

func TestManagerPayeeRotation(t *testing.T) {
	env := newManagerEnv(t, testOptions())
	env.process(testRegisterTx(0), testRegisterTx(1), testRegisterTx(2))

	// three empty blocks pay each entry once
	for i := 0; i < 3; i++ {
		env.process()
	}

	list := env.tipList()
	paid := map[int]bool{}
	list.ForEach(false, func(e *Entry) {
		paid[e.State.LastPaidHeight] = true
	})
	for h := 1; h <= 3; h++ {
		if !paid[h] {
			t.Fatalf("no entry was paid at height %d", h)
		}
	}

	// the cycle restarts with the entry paid longest ago
	payee := list.GetPayee()
	if payee.State.LastPaidHeight != 1 {
		t.Fatalf("next payee was paid at %d, expected 1", payee.State.LastPaidHeight)
	}
}

func TestManagerReplayAfterRestart(t *testing.T) {
	env := newManagerEnv(t, testOptions()) // snapshots every 4 blocks

	lists := map[int]*List{}
	env.process(testRegisterTx(0), testRegisterTx(1))
	lists[0] = env.tipList()
	for h := 1; h <= 9; h++ {
		if h == 5 {
			env.process(testRegisterTx(2))
		} else if h == 7 {
			env.process(&chain.Tx{
				Hash:   testHash("spend", 7),
				Inputs: []chain.OutPoint{{Hash: testHash("collateral", 1), N: 0}},
			})
		} else {
			env.process()
		}
		lists[h] = env.tipList()
	}

	// a fresh manager over the same store and index has cold caches and
	// must rebuild everything from snapshots and diffs
	restarted := NewManager(env.s, env.index, testOptions(),
		common.NewTestLogger(t, logrus.DebugLevel).WithField("component", "registry"))
	if err := restarted.Init(env.index.Tip()); err != nil {
		t.Fatal(err)
	}

	for h := 0; h <= 9; h++ {
		got, err := restarted.GetListForHeight(h)
		if err != nil {
			t.Fatalf("GetListForHeight(%d): %v", h, err)
		}
		if !got.Equal(lists[h]) {
			t.Fatalf("replayed list at height %d differs", h)
		}
	}
}

func TestManagerInitMismatch(t *testing.T) {
	env := newManagerEnv(t, testOptions())
	env.process(testRegisterTx(0))

	restarted := NewManager(env.s, env.index, testOptions(), nil)
	if err := restarted.Init(env.index.Tip()); err != nil {
		t.Fatal(err)
	}

	// against a tip the store never saw
	bogus := &chain.BlockMeta{Hash: testHash("bogus", 1), Height: 0}
	if err := restarted.Init(bogus); err == nil {
		t.Fatal("expected a best-block mismatch")
	}
}

func TestManagerInitLegacyFormat(t *testing.T) {
	backend := store.NewInmemBackend()
	hash := blockHashAt(0)
	backend.ApplyBatch(map[string][]byte{"b_b": hash[:]}, nil)
	s := store.New(backend)

	index := chain.NewIndex()
	index.Connect(hash)

	m := NewManager(s, index, testOptions(), nil)
	if err := m.Init(index.Tip()); err != ErrLegacyFormat {
		t.Fatalf("expected ErrLegacyFormat, got %v", err)
	}
}

func TestManagerMaintenance(t *testing.T) {
	opts := testOptions()
	opts.SnapshotInterval = 2
	opts.SnapshotCount = 1
	env := newManagerEnv(t, opts)

	env.process(testRegisterTx(0), testRegisterTx(1))
	for h := 1; h <= 8; h++ {
		env.process(quorumCommitmentTx(byte(h),
			[]chain.Hash{testHash("tx", 0), testHash("tx", 1)},
			[]bool{true, true}))
	}
	tip := env.tipList()

	if err := env.m.DoMaintenance(); err != nil {
		t.Fatal(err)
	}

	// heights at or below tip-interval*count are gone from the backend
	if _, err := env.s.Backend().Get(diffKey(0)); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected diff 0 to be cleaned, got %v", err)
	}
	if _, err := env.s.Backend().Get(snapshotKey(2)); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected snapshot 2 to be cleaned, got %v", err)
	}
	// the retained window is intact
	if _, err := env.s.Backend().Get(snapshotKey(8)); err != nil {
		t.Fatalf("retained snapshot missing: %v", err)
	}

	// the tip is still reconstructible by a cold manager
	restarted := NewManager(env.s, env.index, opts, nil)
	got, err := restarted.GetListForHeight(8)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(tip) {
		t.Fatal("tip list differs after maintenance")
	}

	// a second run is a no-op
	if err := env.m.DoMaintenance(); err != nil {
		t.Fatal(err)
	}
}
