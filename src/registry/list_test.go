package registry

import (
	"bytes"
	"testing"

	"github.com/mosaicnetworks/mnregistry/src/chain"
)

func serializeList(t *testing.T, l *List) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := l.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAddEntryDuplicateIdentity(t *testing.T) {
	l := newTestList(t, 3, 100)

	dup := newTestEntry(0, 99, 100)
	err := l.AddEntry(dup, true)
	if err == nil {
		t.Fatal("expected duplicate identity to be rejected")
	}
	verr, ok := err.(*ValidationError)
	if !ok || verr.Code != RejectDupIdentity {
		t.Fatalf("expected %s, got %v", RejectDupIdentity, err)
	}
}

func TestAddEntryDuplicateCollateralLeavesListUnchanged(t *testing.T) {
	l := newTestList(t, 3, 100)
	before := serializeList(t, l)
	totalBefore := l.TotalRegisteredCount

	// a fresh identity pointing at entry 1's collateral
	dup := newTestEntry(50, uint64(totalBefore), 100)
	dup.Collateral = chain.OutPoint{Hash: testHash("collateral", 1), N: 0}

	err := l.AddEntry(dup, true)
	if err == nil {
		t.Fatal("expected duplicate collateral to be rejected")
	}
	verr, ok := err.(*ValidationError)
	if !ok || verr.Code != RejectDupCollateral {
		t.Fatalf("expected %s, got %v", RejectDupCollateral, err)
	}

	if l.Count() != 3 {
		t.Fatalf("count changed to %d", l.Count())
	}
	if l.TotalRegisteredCount != totalBefore {
		t.Fatalf("registration counter changed to %d", l.TotalRegisteredCount)
	}
	if !bytes.Equal(before, serializeList(t, l)) {
		t.Fatal("failed add mutated the list")
	}
}

func TestUniquePropertyLookups(t *testing.T) {
	l := newTestList(t, 3, 100)

	e := l.GetByCollateral(chain.OutPoint{Hash: testHash("collateral", 2), N: 0})
	if e == nil || e.Identity != testHash("tx", 2) {
		t.Fatal("GetByCollateral failed")
	}
	e = l.GetByService(testService(1))
	if e == nil || e.Identity != testHash("tx", 1) {
		t.Fatal("GetByService failed")
	}
	e = l.GetByOperatorKey(testOperatorKey(0))
	if e == nil || e.Identity != testHash("tx", 0) {
		t.Fatal("GetByOperatorKey failed")
	}
	if l.GetByService(testService(9)) != nil {
		t.Fatal("lookup of unclaimed address should be nil")
	}
}

func TestUpdateEntryAddressConflict(t *testing.T) {
	l := newTestList(t, 3, 100)
	before := serializeList(t, l)

	// move entry 0 onto entry 1's address
	e := l.Get(testHash("tx", 0))
	newState := e.State.Copy()
	newState.Service = testService(1)

	err := l.UpdateEntry(e.Identity, newState)
	if err == nil {
		t.Fatal("expected address conflict to be rejected")
	}
	verr, ok := err.(*ValidationError)
	if !ok || verr.Code != RejectDupAddr {
		t.Fatalf("expected %s, got %v", RejectDupAddr, err)
	}
	if !bytes.Equal(before, serializeList(t, l)) {
		t.Fatal("failed update mutated the list")
	}
}

func TestRemoveEntryReleasesProperties(t *testing.T) {
	l := newTestList(t, 3, 100)

	if err := l.RemoveEntry(testHash("tx", 1)); err != nil {
		t.Fatal(err)
	}
	if l.Count() != 2 {
		t.Fatalf("count is %d, expected 2", l.Count())
	}
	if l.GetByService(testService(1)) != nil {
		t.Fatal("removed entry's address still claimed")
	}

	// a new identity can claim the released properties
	again := newTestEntry(1, uint64(l.TotalRegisteredCount), 101)
	again.Identity = testHash("tx2", 1)
	if err := l.AddEntry(again, true); err != nil {
		t.Fatal(err)
	}
}

func TestTotalRegisteredCountNeverDecreases(t *testing.T) {
	l := newTestList(t, 3, 100)
	if l.TotalRegisteredCount != 3 {
		t.Fatalf("counter is %d, expected 3", l.TotalRegisteredCount)
	}
	if err := l.RemoveEntry(testHash("tx", 0)); err != nil {
		t.Fatal(err)
	}
	if l.TotalRegisteredCount != 3 {
		t.Fatalf("counter decreased to %d", l.TotalRegisteredCount)
	}

	e := newTestEntry(7, uint64(l.TotalRegisteredCount), 101)
	if err := l.AddEntry(e, true); err != nil {
		t.Fatal(err)
	}
	if e.InternalID != 3 {
		t.Fatalf("new entry got internal id %d, expected 3", e.InternalID)
	}
}

func TestPunishAndBan(t *testing.T) {
	l := newTestList(t, 4, 100)
	identity := testHash("tx", 2)

	if max := l.MaxPenalty(); max != 4 {
		t.Fatalf("MaxPenalty is %d, expected 4", max)
	}

	if err := l.Punish(identity, 2); err != nil {
		t.Fatal(err)
	}
	e := l.Get(identity)
	if e.State.Penalty != 2 || e.State.IsBanned() {
		t.Fatalf("penalty %d banned %v, expected 2 and not banned", e.State.Penalty, e.State.IsBanned())
	}

	if err := l.Punish(identity, 2); err != nil {
		t.Fatal(err)
	}
	e = l.Get(identity)
	if !e.State.IsBanned() {
		t.Fatal("entry should be banned at the penalty ceiling")
	}
	if e.State.BanHeight != 100 {
		t.Fatalf("ban height %d, expected 100", e.State.BanHeight)
	}
	if l.ValidCount() != 3 {
		t.Fatalf("valid count is %d, expected 3", l.ValidCount())
	}
	if l.GetValid(identity) != nil {
		t.Fatal("banned entry should not be returned by GetValid")
	}

	// punishing a banned entry is a no-op
	if err := l.Punish(identity, 10); err != nil {
		t.Fatal(err)
	}
	if got := l.Get(identity).State.Penalty; got != 4 {
		t.Fatalf("banned entry's penalty changed to %d", got)
	}
}

func TestDecreasePenalty(t *testing.T) {
	l := newTestList(t, 4, 100)
	identity := testHash("tx", 0)

	if err := l.Punish(identity, 2); err != nil {
		t.Fatal(err)
	}
	if err := l.DecreasePenalty(identity); err != nil {
		t.Fatal(err)
	}
	if got := l.Get(identity).State.Penalty; got != 1 {
		t.Fatalf("penalty is %d, expected 1", got)
	}

	// no-op at zero
	if err := l.DecreasePenalty(testHash("tx", 1)); err != nil {
		t.Fatal(err)
	}
	if got := l.Get(testHash("tx", 1)).State.Penalty; got != 0 {
		t.Fatalf("penalty went negative: %d", got)
	}
}

func TestPenaltyForPercent(t *testing.T) {
	l := newTestList(t, 10, 100)
	if got := l.PenaltyForPercent(66); got != 6 {
		t.Fatalf("got %d, expected 6", got)
	}
	if got := l.PenaltyForPercent(100); got != 10 {
		t.Fatalf("got %d, expected 10", got)
	}
}

func TestMaxPenaltyFloor(t *testing.T) {
	l := NewList(testHash("block", 0), 100, 0)
	if got := l.MaxPenalty(); got != 1 {
		t.Fatalf("empty list MaxPenalty is %d, expected 1", got)
	}
}

func TestListSerializeRoundTrip(t *testing.T) {
	l := newTestList(t, 5, 100)
	if err := l.Punish(testHash("tx", 3), 10); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := l.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	back, err := DeserializeList(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !l.Equal(back) {
		t.Fatal("lists differ after round trip")
	}
	if back.Get(testHash("tx", 3)) == nil || !back.Get(testHash("tx", 3)).State.IsBanned() {
		t.Fatal("ban state lost in round trip")
	}
}

func TestCopyIsolation(t *testing.T) {
	l := newTestList(t, 3, 100)
	cp := l.Copy()

	if err := cp.RemoveEntry(testHash("tx", 0)); err != nil {
		t.Fatal(err)
	}
	if l.Count() != 3 {
		t.Fatalf("mutation of the copy leaked into the original: count %d", l.Count())
	}
	if cp.Count() != 2 {
		t.Fatalf("copy count is %d, expected 2", cp.Count())
	}
}
