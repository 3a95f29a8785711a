package store

import (
	"github.com/mosaicnetworks/mnregistry/src/common"
)

// layer is anything a transaction can fall back to on a read miss: another
// transaction, or the durable backend.
type layer interface {
	read(key []byte) ([]byte, error)
	exists(key []byte) (bool, error)
}

// backendLayer adapts a Backend to the layer interface.
type backendLayer struct {
	b Backend
}

func (l backendLayer) read(key []byte) ([]byte, error) {
	return l.b.Get(key)
}

func (l backendLayer) exists(key []byte) (bool, error) {
	return l.b.Has(key)
}

// transaction buffers writes and deletes over a parent layer. Reads consult
// the buffers first and fall through to the parent on a miss.
type transaction struct {
	parent  layer
	writes  map[string][]byte
	deletes map[string]struct{}
}

func newTransaction(parent layer) *transaction {
	return &transaction{
		parent:  parent,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (t *transaction) read(key []byte) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		res := make([]byte, len(v))
		copy(res, v)
		return res, nil
	}
	if _, ok := t.deletes[string(key)]; ok {
		return nil, common.NewStoreErr("Transaction", common.KeyNotFound, string(key))
	}
	return t.parent.read(key)
}

func (t *transaction) exists(key []byte) (bool, error) {
	if _, ok := t.writes[string(key)]; ok {
		return true, nil
	}
	if _, ok := t.deletes[string(key)]; ok {
		return false, nil
	}
	return t.parent.exists(key)
}

func (t *transaction) write(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	t.writes[string(key)] = v
	delete(t.deletes, string(key))
}

func (t *transaction) erase(key []byte) {
	delete(t.writes, string(key))
	t.deletes[string(key)] = struct{}{}
}

func (t *transaction) clear() {
	t.writes = make(map[string][]byte)
	t.deletes = make(map[string]struct{})
}

// mergeInto folds this transaction's buffers into dst, which must be this
// transaction's parent.
func (t *transaction) mergeInto(dst *transaction) {
	for k, v := range t.writes {
		dst.write([]byte(k), v)
	}
	for k := range t.deletes {
		dst.erase([]byte(k))
	}
}
