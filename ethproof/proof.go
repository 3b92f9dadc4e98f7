// Package ethproof builds the Ethereum-side Merkle proofs consumed by the
// NEAR bridge contracts: receipt inclusion proofs over a block's receipts
// trie and storage proofs for fast bridge transfer slots. Proof records
// carry a version-locked Borsh binary form; the on-chain verifiers hash the
// exact same bytes, so none of the encodings here may change shape.
package ethproof

import (
	"encoding/json"

	borsh "github.com/near/borsh-go"

	"github.com/near-one/bridge-sdk-go/bridge"
)

// ReceiptProof proves that one receipt, and one log within it, is included
// in a block. Proof nodes are the RLP-encoded Merkle-Patricia trie nodes on
// the path from the receipts root down to the receipt leaf, in that order.
//
// Field order is the Borsh wire order: byte vectors are u32 little-endian
// length prefixed, indices are u64 little-endian.
type ReceiptProof struct {
	HeaderData   []byte   // RLP encoding of the block header
	ReceiptIndex uint64   // transaction index within the block
	ReceiptData  []byte   // EIP-2718 typed consensus encoding of the receipt
	Proof        [][]byte // trie nodes, root first
	LogIndex     uint64   // log position within the receipt
}

// Marshal returns the canonical Borsh encoding of the proof.
func (p *ReceiptProof) Marshal() ([]byte, error) {
	data, err := borsh.Serialize(*p)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindProofSerialize, "ethproof.ReceiptProof.Marshal", err)
	}
	return data, nil
}

// UnmarshalReceiptProof decodes a canonical Borsh receipt proof.
func UnmarshalReceiptProof(data []byte) (*ReceiptProof, error) {
	p := new(ReceiptProof)
	if err := borsh.Deserialize(p, data); err != nil {
		return nil, bridge.WrapErr(bridge.KindProofSerialize, "ethproof.UnmarshalReceiptProof", err)
	}
	return p, nil
}

// MarshalJSON renders the proof in the serde form some NEAR contracts take
// as a method argument: snake_case fields, byte vectors as arrays of
// numbers.
func (p *ReceiptProof) MarshalJSON() ([]byte, error) {
	nodes := make([][]int, len(p.Proof))
	for i, node := range p.Proof {
		nodes[i] = intSlice(node)
	}
	return json.Marshal(struct {
		HeaderData   []int   `json:"header_data"`
		ReceiptIndex uint64  `json:"receipt_index"`
		ReceiptData  []int   `json:"receipt_data"`
		Proof        [][]int `json:"proof"`
		LogIndex     uint64  `json:"log_index"`
	}{intSlice(p.HeaderData), p.ReceiptIndex, intSlice(p.ReceiptData), nodes, p.LogIndex})
}

func intSlice(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

// StorageProof packages an eth_getProof result for a single slot, unmodified:
// verification against a trusted header is the destination contract's job.
type StorageProof struct {
	Address      [20]byte // account the slot belongs to
	Key          [32]byte // storage slot key
	AccountProof [][]byte // account proof nodes in the state trie
	StorageProof [][]byte // slot proof nodes in the account's storage trie
	Value        []byte   // retrieved value, minimal big-endian
}

// Marshal returns the canonical Borsh encoding of the proof.
func (p *StorageProof) Marshal() ([]byte, error) {
	data, err := borsh.Serialize(*p)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindProofSerialize, "ethproof.StorageProof.Marshal", err)
	}
	return data, nil
}

// UnmarshalStorageProof decodes a canonical Borsh storage proof.
func UnmarshalStorageProof(data []byte) (*StorageProof, error) {
	p := new(StorageProof)
	if err := borsh.Deserialize(p, data); err != nil {
		return nil, bridge.WrapErr(bridge.KindProofSerialize, "ethproof.UnmarshalStorageProof", err)
	}
	return p, nil
}
