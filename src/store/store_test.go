package store

import (
	"bytes"
	"testing"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/common"
)

func TestScopedCommit(t *testing.T) {
	backend := NewInmemBackend()
	s := New(backend)

	scope := s.Begin()
	s.Write([]byte("k1"), []byte("v1"))
	scope.Commit()
	scope.Done()

	// committed to the root transaction, visible to the next scope
	v, err := s.Read([]byte("k1"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("read %q, expected %q", v, "v1")
	}

	// but not durable yet
	if _, err := backend.Get([]byte("k1")); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound from backend, got %v", err)
	}

	if err := s.CommitRoot(); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Get([]byte("k1")); err != nil {
		t.Fatalf("expected k1 in backend after CommitRoot, got %v", err)
	}
}

func TestScopedRollback(t *testing.T) {
	s := New(NewInmemBackend())

	func() {
		scope := s.Begin()
		defer scope.Done()
		s.Write([]byte("k1"), []byte("v1"))
		// early return without Commit
	}()

	if _, err := s.Read([]byte("k1")); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound after rollback, got %v", err)
	}
}

func TestNestedVisibility(t *testing.T) {
	backend := NewInmemBackend()
	backend.ApplyBatch(map[string][]byte{"base": []byte("durable")}, nil)
	s := New(backend)

	scope := s.Begin()
	defer scope.Done()

	// reads fall through the transaction layers to the backend
	v, err := s.Read([]byte("base"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("durable")) {
		t.Fatalf("read %q, expected %q", v, "durable")
	}

	// a buffered delete shadows the durable value
	s.Erase([]byte("base"))
	if _, err := s.Read([]byte("base")); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound for shadowed key, got %v", err)
	}
	if ok, _ := s.Exists([]byte("base")); ok {
		t.Fatalf("shadowed key should not exist")
	}

	// a buffered write over the delete makes it visible again
	s.Write([]byte("base"), []byte("updated"))
	v, err = s.Read([]byte("base"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("updated")) {
		t.Fatalf("read %q, expected %q", v, "updated")
	}

	scope.Rollback()

	// the durable value is untouched
	v, err = s.Read([]byte("base"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("durable")) {
		t.Fatalf("read %q, expected %q", v, "durable")
	}
}

func TestCrashLosesUncommittedRoot(t *testing.T) {
	backend := NewInmemBackend()

	s := New(backend)
	scope := s.Begin()
	s.Write([]byte("k1"), []byte("v1"))
	scope.Commit()
	// process "crashes" before CommitRoot

	restarted := New(backend)
	if _, err := restarted.Read([]byte("k1")); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("uncommitted root state survived restart: %v", err)
	}
}

func TestBestBlock(t *testing.T) {
	s := New(NewInmemBackend())

	if _, _, err := s.ReadBestBlock(); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("expected KeyNotFound on fresh store, got %v", err)
	}

	hash := chain.NewHash(bytes.Repeat([]byte{0xab}, chain.HashLen))
	s.WriteBestBlock(hash)

	got, legacy, err := s.ReadBestBlock()
	if err != nil {
		t.Fatal(err)
	}
	if legacy {
		t.Fatalf("marker should not be legacy")
	}
	if got != hash {
		t.Fatalf("got %s, expected %s", got, hash)
	}

	ok, err := s.VerifyBestBlock(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("VerifyBestBlock should match")
	}
	other := chain.NewHash(bytes.Repeat([]byte{0xcd}, chain.HashLen))
	ok, err = s.VerifyBestBlock(other)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("VerifyBestBlock should not match a different hash")
	}
}

func TestBestBlockLegacyMarker(t *testing.T) {
	backend := NewInmemBackend()
	hash := chain.NewHash(bytes.Repeat([]byte{0x11}, chain.HashLen))
	backend.ApplyBatch(map[string][]byte{string(keyBestBlockLegacy): hash[:]}, nil)

	s := New(backend)
	got, legacy, err := s.ReadBestBlock()
	if err != nil {
		t.Fatal(err)
	}
	if !legacy {
		t.Fatalf("expected legacy marker to be flagged")
	}
	if got != hash {
		t.Fatalf("got %s, expected %s", got, hash)
	}
}

func TestIsEmpty(t *testing.T) {
	backend := NewInmemBackend()
	s := New(backend)

	empty, err := s.IsEmpty()
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Fatalf("fresh backend should be empty")
	}

	backend.ApplyBatch(map[string][]byte{"k": []byte("v")}, nil)
	empty, err = s.IsEmpty()
	if err != nil {
		t.Fatal(err)
	}
	if empty {
		t.Fatalf("backend with a key should not be empty")
	}
}
