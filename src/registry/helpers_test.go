package registry

import (
	"testing"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/crypto"
)

func testHash(tag string, seed byte) chain.Hash {
	return chain.NewHash(crypto.SHA256(append([]byte(tag), seed)))
}

func testKeyID(tag string, seed byte) chain.KeyID {
	var k chain.KeyID
	copy(k[:], crypto.SHA256(append([]byte(tag), seed)))
	return k
}

func testOperatorKey(seed byte) []byte {
	// a compressed-key-shaped blob; nothing in these tests parses the point
	k := make([]byte, 33)
	k[0] = 0x02
	k[1] = seed
	return k
}

func testService(seed byte) chain.Service {
	var s chain.Service
	s.IP[10] = 0xff
	s.IP[11] = 0xff
	s.IP[12] = 10
	s.IP[13] = 0
	s.IP[14] = 0
	s.IP[15] = seed
	s.Port = 19999
	return s
}

func testRegister(seed byte) *chain.Register {
	return &chain.Register{
		Collateral:       chain.OutPoint{Hash: testHash("collateral", seed), N: 0},
		CollateralAmount: 1000,
		OwnerKey:         testKeyID("owner", seed),
		OperatorKey:      testOperatorKey(seed),
		VotingKey:        testKeyID("voting", seed),
		Service:          testService(seed),
		PayoutScript:     []byte{0x76, 0xa9, seed},
	}
}

func testRegisterTx(seed byte) *chain.Tx {
	return &chain.Tx{
		Hash:    testHash("tx", seed),
		Payload: testRegister(seed),
	}
}

func newTestEntry(seed byte, internalID uint64, height int) *Entry {
	reg := testRegister(seed)
	return &Entry{
		Identity:   testHash("tx", seed),
		InternalID: internalID,
		Collateral: reg.Collateral,
		State:      NewStateFromRegister(reg, height),
	}
}

// newTestList builds a list of n entries registered at the list's height.
func newTestList(t *testing.T, n int, height int) *List {
	t.Helper()
	l := NewList(testHash("block", byte(height)), height, 0)
	for i := 0; i < n; i++ {
		e := newTestEntry(byte(i), uint64(l.TotalRegisteredCount), height)
		if err := l.AddEntry(e, true); err != nil {
			t.Fatal(err)
		}
	}
	return l
}
