package ethrpc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/near-one/bridge-sdk-go/bridge"
)

// ParseAddress validates and decodes a hex-encoded Ethereum address from the
// settings record.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, bridge.Errorf(bridge.KindConfiguration, "ethrpc.ParseAddress",
			"invalid ethereum address %q", s)
	}
	return common.HexToAddress(s), nil
}

// AccountProof is the result shape of eth_getProof: a Merkle proof of the
// account in the state trie plus one proof per requested storage slot.
type AccountProof struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageResult `json:"storageProof"`
}

// StorageResult is one slot entry of an eth_getProof response. Key stays a
// plain string: nodes echo the requested slot zero-padded to 32 bytes, which
// the hexutil quantity types reject for the leading zero digits.
type StorageResult struct {
	Key   string          `json:"key"`
	Value hexutil.Big     `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}
