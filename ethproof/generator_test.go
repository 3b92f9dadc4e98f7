package ethproof

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-one/bridge-sdk-go/bridge"
	"github.com/near-one/bridge-sdk-go/ethrpc"
)

type fakeGateway struct {
	receipts map[common.Hash]*types.Receipt
	headers  map[uint64]*types.Header
	blocks   map[uint64]types.Receipts
	proof    *ethrpc.AccountProof
}

func (g *fakeGateway) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	r, ok := g.receipts[txHash]
	if !ok {
		return nil, bridge.Errorf(bridge.KindEthRPC, "test", "no receipt %s", txHash)
	}
	return r, nil
}

func (g *fakeGateway) HeaderByNumber(_ context.Context, number uint64) (*types.Header, error) {
	h, ok := g.headers[number]
	if !ok {
		return nil, bridge.Errorf(bridge.KindEthRPC, "test", "no header %d", number)
	}
	return h, nil
}

func (g *fakeGateway) BlockReceipts(_ context.Context, number uint64) (types.Receipts, error) {
	return g.blocks[number], nil
}

func (g *fakeGateway) GetProof(_ context.Context, _ common.Address, _ []string, _ uint64) (*ethrpc.AccountProof, error) {
	return g.proof, nil
}

func makeReceipt(txType uint8, cumulativeGas uint64, logs []*types.Log) *types.Receipt {
	return &types.Receipt{
		Type:              txType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: cumulativeGas,
		Logs:              logs,
	}
}

// blockFixture builds a three-receipt block mixing legacy and typed
// transactions, with a consistent receipts root.
func blockFixture(t *testing.T) (*fakeGateway, common.Hash, types.Receipts) {
	t.Helper()

	logs := []*types.Log{
		{Address: common.HexToAddress("0x11"), Topics: []common.Hash{{0x01}}},
		{Address: common.HexToAddress("0x22"), Topics: []common.Hash{{0x02}}},
	}
	receipts := types.Receipts{
		makeReceipt(types.LegacyTxType, 21000, []*types.Log{
			{Address: common.HexToAddress("0x33"), Topics: []common.Hash{{0x03}}},
		}),
		makeReceipt(types.DynamicFeeTxType, 63000, logs),
		makeReceipt(types.AccessListTxType, 84000, nil),
	}

	txHash := common.HexToHash("0xfeed")
	number := uint64(1_500_000)
	target := receipts[1]
	target.TxHash = txHash
	target.BlockNumber = new(big.Int).SetUint64(number)
	target.TransactionIndex = 1

	header := &types.Header{
		ParentHash:  common.HexToHash("0x01"),
		Root:        common.HexToHash("0x02"),
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.DeriveSha(receipts, trie.NewStackTrie(nil)),
		Number:      new(big.Int).SetUint64(number),
		Difficulty:  big.NewInt(1),
		GasLimit:    30_000_000,
		GasUsed:     84000,
		Time:        1_700_000_000,
	}

	gw := &fakeGateway{
		receipts: map[common.Hash]*types.Receipt{txHash: target},
		headers:  map[uint64]*types.Header{number: header},
		blocks:   map[uint64]types.Receipts{number: receipts},
	}
	return gw, txHash, receipts
}

func TestBuildReceiptProof(t *testing.T) {
	gw, txHash, receipts := blockFixture(t)

	proof, err := BuildReceiptProof(context.Background(), gw, txHash, 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), proof.ReceiptIndex)
	assert.Equal(t, uint64(1), proof.LogIndex)

	// Typed receipts keep their EIP-2718 envelope byte.
	assert.Equal(t, byte(types.DynamicFeeTxType), proof.ReceiptData[0])

	wantReceipt, err := receipts[1].MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, wantReceipt, proof.ReceiptData)

	wantHeader, err := rlp.EncodeToBytes(gw.headers[1_500_000])
	require.NoError(t, err)
	assert.Equal(t, wantHeader, proof.HeaderData)

	// The node list must verify against the header's receipts root.
	db := rawdb.NewMemoryDatabase()
	for _, node := range proof.Proof {
		require.NoError(t, db.Put(crypto.Keccak256(node), node))
	}
	value, err := trie.VerifyProof(gw.headers[1_500_000].ReceiptHash, rlp.AppendUint64(nil, 1), db)
	require.NoError(t, err)
	assert.Equal(t, wantReceipt, value)
}

func TestBuildReceiptProofLegacyReceipt(t *testing.T) {
	gw, txHash, receipts := blockFixture(t)

	// Point the lookup at the legacy receipt instead.
	legacy := receipts[0]
	legacy.TxHash = txHash
	legacy.BlockNumber = new(big.Int).SetUint64(1_500_000)
	legacy.TransactionIndex = 0
	gw.receipts[txHash] = legacy

	proof, err := BuildReceiptProof(context.Background(), gw, txHash, 0)
	require.NoError(t, err)

	// Legacy receipts have no envelope byte: the encoding is a plain RLP list.
	assert.GreaterOrEqual(t, proof.ReceiptData[0], byte(0xc0))
}

func TestBuildReceiptProofLogIndexOutOfRange(t *testing.T) {
	gw, txHash, _ := blockFixture(t)

	_, err := BuildReceiptProof(context.Background(), gw, txHash, 2)
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindInvalidInput))
}

func TestBuildReceiptProofRootMismatch(t *testing.T) {
	gw, txHash, _ := blockFixture(t)
	gw.headers[1_500_000].ReceiptHash = common.HexToHash("0xbad")

	_, err := BuildReceiptProof(context.Background(), gw, txHash, 0)
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindProofBuild))
}

func TestFindLogIndex(t *testing.T) {
	topic := common.HexToHash("0xed54b7aec45dbd5851e5b6484f6fbc0e5990e127a8f1eea7a1e113eba6bfacf9")
	receipt := &types.Receipt{
		Logs: []*types.Log{
			{Topics: []common.Hash{{0x01}}},
			{Topics: nil},
			{Topics: []common.Hash{topic}},
		},
	}

	index, err := FindLogIndex(receipt, topic)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)

	_, err = FindLogIndex(receipt, common.HexToHash("0xdead"))
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindProofBuild))
}

func storageProofFixture(slotKey common.Hash) *ethrpc.AccountProof {
	return &ethrpc.AccountProof{
		Address:      common.HexToAddress("0x55"),
		AccountProof: []hexutil.Bytes{{0x01, 0x02}, {0x03}},
		StorageProof: []ethrpc.StorageResult{{
			Key:   slotKey.Hex(),
			Value: hexutil.Big(*big.NewInt(1)),
			Proof: []hexutil.Bytes{{0x04, 0x05}},
		}},
	}
}

func TestBuildStorageProof(t *testing.T) {
	contract := common.HexToAddress("0x66")
	slotKey := common.HexToHash("0x77")
	gw := &fakeGateway{proof: storageProofFixture(slotKey)}

	proof, err := BuildStorageProof(context.Background(), gw, contract, slotKey, 42)
	require.NoError(t, err)

	assert.Equal(t, contract, common.Address(proof.Address))
	assert.Equal(t, slotKey, common.Hash(proof.Key))
	assert.Equal(t, [][]byte{{0x01, 0x02}, {0x03}}, proof.AccountProof)
	assert.Equal(t, [][]byte{{0x04, 0x05}}, proof.StorageProof)
	assert.Equal(t, []byte{0x01}, proof.Value)
}

func TestBuildStorageProofMissingSlot(t *testing.T) {
	slotKey := common.HexToHash("0x77")
	fixture := storageProofFixture(slotKey)
	fixture.StorageProof = nil
	gw := &fakeGateway{proof: fixture}

	_, err := BuildStorageProof(context.Background(), gw, common.Address{}, slotKey, 42)
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindProofBuild))
}

func TestBuildStorageProofKeyMismatch(t *testing.T) {
	gw := &fakeGateway{proof: storageProofFixture(common.HexToHash("0x88"))}

	_, err := BuildStorageProof(context.Background(), gw, common.Address{}, common.HexToHash("0x77"), 42)
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindProofBuild))
}
