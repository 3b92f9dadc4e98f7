package ethproof

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// transferSlotIndex is the storage layout position of the fast bridge
// contract's processed-transfers mapping. It is tied to the deployed
// contract build: a layout change on the Ethereum side requires rotating
// this constant together with the reference vector in the tests.
const transferSlotIndex = 302

// TransferStorageKey computes the storage slot holding the processed flag of
// a fast bridge transfer, following the Solidity mapping layout:
//
//	keccak256(keccak256(token . recipient . be256(nonce) . be256(amount)) . be256(302))
func TransferStorageKey(token, recipient common.Address, nonce, amount *big.Int) common.Hash {
	nonce32 := uint256.MustFromBig(nonce).Bytes32()
	amount32 := uint256.MustFromBig(amount).Bytes32()
	transferHash := crypto.Keccak256(token.Bytes(), recipient.Bytes(), nonce32[:], amount32[:])

	slot32 := uint256.NewInt(transferSlotIndex).Bytes32()
	return common.BytesToHash(crypto.Keccak256(transferHash, slot32[:]))
}
