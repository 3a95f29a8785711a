package chain

import "sync"

// BlockMeta is the chain-index metadata for one block on the active chain.
type BlockMeta struct {
	Hash   Hash
	Height int
	Prev   *BlockMeta
}

// Index is a minimal height-indexed view of the active chain. Block
// validation appends and rolls it back under its own lock discipline; the
// registry only reads from it.
type Index struct {
	mu  sync.RWMutex
	tip *BlockMeta
}

// NewIndex ...
func NewIndex() *Index {
	return &Index{}
}

// Tip returns the metadata of the current chain tip, or nil when the index is
// empty.
func (i *Index) Tip() *BlockMeta {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.tip
}

// MetaAt returns the metadata of the block at the given height on the active
// chain, or nil when the height is above the tip or below the first indexed
// block.
func (i *Index) MetaAt(height int) *BlockMeta {
	i.mu.RLock()
	defer i.mu.RUnlock()
	meta := i.tip
	for meta != nil && meta.Height > height {
		meta = meta.Prev
	}
	if meta == nil || meta.Height != height {
		return nil
	}
	return meta
}

// Connect appends a block to the active chain and returns its metadata.
func (i *Index) Connect(hash Hash) *BlockMeta {
	i.mu.Lock()
	defer i.mu.Unlock()
	height := 0
	if i.tip != nil {
		height = i.tip.Height + 1
	}
	meta := &BlockMeta{Hash: hash, Height: height, Prev: i.tip}
	i.tip = meta
	return meta
}

// ConnectAt appends a block at an explicit height. It is used to seed the
// index at the registry activation height.
func (i *Index) ConnectAt(hash Hash, height int) *BlockMeta {
	i.mu.Lock()
	defer i.mu.Unlock()
	meta := &BlockMeta{Hash: hash, Height: height, Prev: i.tip}
	i.tip = meta
	return meta
}

// Disconnect removes the tip block and returns the new tip.
func (i *Index) Disconnect() *BlockMeta {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.tip != nil {
		i.tip = i.tip.Prev
	}
	return i.tip
}
