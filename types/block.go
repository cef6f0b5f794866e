package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// BlockHash is an opaque, unique, content-derived identifier.
type BlockHash string

// GenesisParentHash is the sentinel parent hash of the genesis block; it is
// never a real block's hash so lookups for it always miss deliberately.
const GenesisParentHash BlockHash = ""

// GenesisHash is the well-known hash of the genesis block: a fixed literal
// that NewGenesisBlock assigns, shared by every replica so all chains share
// a root.
const GenesisHash BlockHash = "genesis"

// Block is immutable once constructed. Height and hash are derived, not
// settable, so a Block can never be mutated into an inconsistent state.
// Per DESIGN NOTES §9, blocks never hold a pointer to their parent: the
// chain is reconstructed by BlockHash lookup in a content-addressed store,
// never by pointer chasing.
type Block struct {
	Hash       BlockHash  `json:"hash"`
	ParentHash BlockHash  `json:"parent_hash"`
	View       ViewNumber `json:"view"`
	Height     uint64     `json:"height"`
	Proposer   ReplicaId  `json:"proposer"`
	PayloadSeq uint64     `json:"payload_seq"`
}

// blockHashInput is the canonical, hash-stable subset of Block's fields.
// Hash itself is excluded to avoid the obvious self-reference; Height is
// excluded because it is derivable from ParentHash and therefore redundant
// as hash input (including it would let two different derivations produce
// the same logical block with two different hashes).
type blockHashInput struct {
	ParentHash BlockHash
	View       ViewNumber
	Proposer   ReplicaId
	PayloadSeq uint64
}

// computeHash deterministically derives a BlockHash from
// (parent_hash, view, proposer, payload_seq), per §3's Data Model.
func computeHash(parent BlockHash, view ViewNumber, proposer ReplicaId, payloadSeq uint64) BlockHash {
	// encoding/json (rather than the teacher's protobuf codec) is used here:
	// there is no compiled .proto schema for these types, and the teacher's
	// own event log (lib/event.go) reaches for the same plain JSON approach
	// when it needs a stable, inspectable encoding rather than a wire format.
	b, err := json.Marshal(blockHashInput{ParentHash: parent, View: view, Proposer: proposer, PayloadSeq: payloadSeq})
	if err != nil {
		panic(err) // unreachable: blockHashInput has no unmarshalable fields
	}
	sum := sha256.Sum256(b)
	return BlockHash(hex.EncodeToString(sum[:]))
}

// NewBlock constructs a new block extending parent. height is supplied by
// the caller (parent.Height + 1) since parent is looked up by hash, not
// held by pointer.
func NewBlock(parentHash BlockHash, view ViewNumber, height uint64, proposer ReplicaId, payloadSeq uint64) *Block {
	return &Block{
		Hash:       computeHash(parentHash, view, proposer, payloadSeq),
		ParentHash: parentHash,
		View:       view,
		Height:     height,
		Proposer:   proposer,
		PayloadSeq: payloadSeq,
	}
}

// NewGenesisBlock returns the well-known height-0 block with a sentinel
// parent hash; it has no proposer in the ordinary sense, so ReplicaId(-1)
// marks it as unattributable.
func NewGenesisBlock() *Block {
	return &Block{
		Hash:       GenesisHash,
		ParentHash: GenesisParentHash,
		View:       0,
		Height:     0,
		Proposer:   ReplicaId(-1),
		PayloadSeq: 0,
	}
}

// BlockStore is the content-addressed map every replica owns exclusively.
// Chains are walked by repeated lookup, never by pointer chasing.
type BlockStore struct {
	blocks map[BlockHash]*Block
}

func NewBlockStore() *BlockStore {
	s := &BlockStore{blocks: make(map[BlockHash]*Block)}
	genesis := NewGenesisBlock()
	s.blocks[genesis.Hash] = genesis
	return s
}

func (s *BlockStore) Put(b *Block) { s.blocks[b.Hash] = b }

func (s *BlockStore) Get(hash BlockHash) (*Block, bool) {
	b, ok := s.blocks[hash]
	return b, ok
}

// Ancestors returns the chain of blocks from hash back to (but excluding)
// stopAt, in ascending height order, or nil if the chain is incomplete in
// this store (e.g. a proposal referencing a block this replica never saw).
func (s *BlockStore) Ancestors(hash, stopAt BlockHash) []*Block {
	var chain []*Block
	cur := hash
	for {
		if cur == stopAt {
			return chain
		}
		b, ok := s.blocks[cur]
		if !ok {
			return nil
		}
		chain = append([]*Block{b}, chain...)
		if cur == GenesisHash {
			return nil
		}
		cur = b.ParentHash
	}
}

// ExtendsFrom reports whether hash's ancestry (walking parent links) passes
// through ancestor, used by the safety predicate's chain-extension clause.
func (s *BlockStore) ExtendsFrom(hash, ancestor BlockHash) bool {
	cur := hash
	for {
		if cur == ancestor {
			return true
		}
		b, ok := s.blocks[cur]
		if !ok || cur == GenesisHash {
			return false
		}
		cur = b.ParentHash
	}
}
