package ethproof

import (
	"bytes"
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"github.com/near-one/bridge-sdk-go/bridge"
	"github.com/near-one/bridge-sdk-go/ethrpc"
)

// Gateway is the slice of the Ethereum RPC surface the proof builders need.
type Gateway interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error)
	BlockReceipts(ctx context.Context, number uint64) (types.Receipts, error)
	GetProof(ctx context.Context, account common.Address, keys []string, number uint64) (*ethrpc.AccountProof, error)
}

// proofList collects trie nodes in the order Prove visits them, root first.
type proofList [][]byte

func (p *proofList) Put(key []byte, value []byte) error {
	*p = append(*p, common.CopyBytes(value))
	return nil
}

func (p *proofList) Delete(key []byte) error {
	return errors.New("not supported")
}

// BuildReceiptProof rebuilds the receipts trie of the block containing
// txHash and extracts the inclusion proof for that transaction's receipt.
// logIndex selects a log within the receipt and must be in range.
func BuildReceiptProof(ctx context.Context, gw Gateway, txHash common.Hash, logIndex uint64) (*ReceiptProof, error) {
	const op = "ethproof.BuildReceiptProof"

	receipt, err := gw.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if logIndex >= uint64(len(receipt.Logs)) {
		return nil, bridge.Errorf(bridge.KindInvalidInput, op,
			"log index %d out of range, receipt has %d logs", logIndex, len(receipt.Logs))
	}

	number := receipt.BlockNumber.Uint64()
	index := uint64(receipt.TransactionIndex)

	header, err := gw.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	receipts, err := gw.BlockReceipts(ctx, number)
	if err != nil {
		return nil, err
	}
	if index >= uint64(len(receipts)) {
		return nil, bridge.Errorf(bridge.KindProofBuild, op,
			"receipt index %d beyond block %d receipt count %d", index, number, len(receipts))
	}

	// Rebuild the receipts trie exactly as consensus derives it: keys are
	// the RLP of the transaction index, values the typed receipt encoding.
	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), triedb.HashDefaults))
	for i, r := range receipts {
		body, err := r.MarshalBinary()
		if err != nil {
			return nil, bridge.WrapErr(bridge.KindProofBuild, op, err)
		}
		if err := tr.Update(rlp.AppendUint64(nil, uint64(i)), body); err != nil {
			return nil, bridge.WrapErr(bridge.KindProofBuild, op, err)
		}
	}
	if root := tr.Hash(); root != header.ReceiptHash {
		return nil, bridge.Errorf(bridge.KindProofBuild, op,
			"receipts trie root %s does not match header receipts root %s at block %d",
			root, header.ReceiptHash, number)
	}

	var nodes proofList
	if err := tr.Prove(rlp.AppendUint64(nil, index), &nodes); err != nil {
		return nil, bridge.WrapErr(bridge.KindProofBuild, op, err)
	}

	headerData, err := rlp.EncodeToBytes(header)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindProofBuild, op, err)
	}
	receiptData, err := receipts[index].MarshalBinary()
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindProofBuild, op, err)
	}

	log.Debug("Built receipt proof", "txHash", txHash, "block", number, "receiptIndex", index, "nodes", len(nodes))

	return &ReceiptProof{
		HeaderData:   headerData,
		ReceiptIndex: index,
		ReceiptData:  receiptData,
		Proof:        nodes,
		LogIndex:     logIndex,
	}, nil
}

// BuildStorageProof fetches the eth_getProof result for one slot of a
// contract at the given height and packages it. The proof is not verified
// locally; shape violations (no slot entry, wrong key) fail the build.
func BuildStorageProof(ctx context.Context, gw Gateway, contract common.Address, slotKey common.Hash, number uint64) (*StorageProof, error) {
	const op = "ethproof.BuildStorageProof"

	res, err := gw.GetProof(ctx, contract, []string{slotKey.Hex()}, number)
	if err != nil {
		return nil, err
	}
	if len(res.StorageProof) == 0 {
		return nil, bridge.Errorf(bridge.KindProofBuild, op,
			"no storage proof entry for slot %s at block %d", slotKey, number)
	}
	entry := res.StorageProof[0]
	if common.HexToHash(entry.Key) != slotKey {
		return nil, bridge.Errorf(bridge.KindProofBuild, op,
			"storage proof key %s does not match requested slot %s", entry.Key, slotKey)
	}

	proof := &StorageProof{
		Address:      contract,
		Key:          slotKey,
		AccountProof: make([][]byte, 0, len(res.AccountProof)),
		StorageProof: make([][]byte, 0, len(entry.Proof)),
		Value:        entry.Value.ToInt().Bytes(),
	}
	for _, node := range res.AccountProof {
		proof.AccountProof = append(proof.AccountProof, node)
	}
	for _, node := range entry.Proof {
		proof.StorageProof = append(proof.StorageProof, node)
	}

	log.Debug("Built storage proof", "contract", contract, "slot", slotKey, "block", number)

	return proof, nil
}

// FindLogIndex returns the position of the first log in the receipt whose
// topic-0 equals the given event signature hash.
func FindLogIndex(receipt *types.Receipt, topic0 common.Hash) (uint64, error) {
	for i, l := range receipt.Logs {
		if len(l.Topics) > 0 && bytes.Equal(l.Topics[0].Bytes(), topic0.Bytes()) {
			return uint64(i), nil
		}
	}
	return 0, bridge.Errorf(bridge.KindProofBuild, "ethproof.FindLogIndex",
		"no log with topic %s in receipt %s", topic0, receipt.TxHash)
}
