package registry

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	list := newTestList(t, 4, 10)

	first, err := list.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	second, err := list.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("marshaling the same list twice produced different bytes")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	list := newTestList(t, 3, 10)
	if err := list.Punish(testHash("tx", 1), 2); err != nil {
		t.Fatal(err)
	}

	data, err := list.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	info, err := UnmarshalListInfo(data)
	if err != nil {
		t.Fatal(err)
	}

	if info.Height != list.Height {
		t.Fatalf("height %d, expected %d", info.Height, list.Height)
	}
	if info.TotalRegisteredCount != list.TotalRegisteredCount {
		t.Fatalf("counter %d, expected %d", info.TotalRegisteredCount, list.TotalRegisteredCount)
	}
	if len(info.Entries) != 3 {
		t.Fatalf("%d entries, expected 3", len(info.Entries))
	}
	// entries come out in internal-id order
	for i, e := range info.Entries {
		if e.InternalID != uint64(i) {
			t.Fatalf("entry %d has internal id %d", i, e.InternalID)
		}
	}
	if info.Entries[1].Penalty != 2 {
		t.Fatalf("penalty %d, expected 2", info.Entries[1].Penalty)
	}
}
