package ethconnector

import (
	"context"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-one/bridge-sdk-go/bridge"
	"github.com/near-one/bridge-sdk-go/nearproof"
	"github.com/near-one/bridge-sdk-go/nearrpc"
)

const (
	custodianHex   = "0x6bfad42cfd4ef7ab2ca8f47d87df08d8aaab80c0"
	lightClientHex = "0x0151568af92125fb289f1dd81d9d8f7484efc362"
)

func submitSettings() bridge.Settings {
	return bridge.Settings{
		EthEndpoint:            "https://eth.example",
		EthChainID:             1,
		EthPrivateKey:          "aa",
		EthCustodianAddress:    custodianHex,
		NearLightClientAddress: lightClientHex,
		NearEndpoint:           "https://near.example",
		NearPrivateKey:         "ed25519:injected",
		NearSignerID:           "signer.near",
		EthConnectorAccountID:  "custodian.bridge.near",
	}
}

type changeCall struct {
	ReceiverID string
	Method     string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

type fakeNear struct {
	changes      []changeCall
	proofResp    *nearrpc.ExecutionProofResponse
	proofHead    nearrpc.CryptoHash
	outcomeBlock uint64
}

func (f *fakeNear) Change(_ context.Context, _ *nearrpc.Signer, receiverID, method string, args []byte, gas uint64, deposit *big.Int) (nearrpc.CryptoHash, error) {
	f.changes = append(f.changes, changeCall{receiverID, method, args, gas, deposit})
	return nearrpc.CryptoHash{0x42}, nil
}

func (f *fakeNear) LightClientProof(_ context.Context, _ nearrpc.TransactionOrReceiptID, head nearrpc.CryptoHash) (*nearrpc.ExecutionProofResponse, error) {
	f.proofHead = head
	return f.proofResp, nil
}

func (f *fakeNear) BlockHeightByHash(_ context.Context, _ nearrpc.CryptoHash) (uint64, error) {
	return f.outcomeBlock, nil
}

type sendCall struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

type fakeSubmitter struct {
	sends []sendCall
}

func (f *fakeSubmitter) Send(_ context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	f.sends = append(f.sends, sendCall{to, value, data})
	return common.HexToHash("0xfeed"), nil
}

type fakeLightClient struct {
	height uint64
	head   nearrpc.CryptoHash
}

func (f *fakeLightClient) SyncHeight(context.Context) (uint64, error) { return f.height, nil }

func (f *fakeLightClient) BlockHash(_ context.Context, height uint64) (nearrpc.CryptoHash, error) {
	if height != f.height {
		return nearrpc.CryptoHash{}, bridge.Errorf(bridge.KindEthRPC, "fake", "unexpected height %d", height)
	}
	return f.head, nil
}

func successValue(s string) *string { return &s }

func proofResponse(outcomeBlock nearrpc.CryptoHash) *nearrpc.ExecutionProofResponse {
	return &nearrpc.ExecutionProofResponse{
		OutcomeProof: nearrpc.ExecutionOutcomeWithIDView{
			Proof:     []nearrpc.MerklePathItemView{{Hash: nearrpc.CryptoHash{1}, Direction: "Right"}},
			BlockHash: outcomeBlock,
			ID:        nearrpc.CryptoHash{2},
			Outcome: nearrpc.ExecutionOutcomeView{
				ReceiptIDs:  []nearrpc.CryptoHash{{3}},
				GasBurnt:    1,
				TokensBurnt: "0",
				ExecutorID:  "custodian.bridge.near",
				Status:      nearrpc.ExecutionStatusView{SuccessValue: successValue("")},
			},
		},
		BlockHeaderLite: nearrpc.BlockHeaderLiteView{
			InnerLite: nearrpc.BlockHeaderInnerLiteView{Height: 100, TimestampNanosec: "1700000000000000000"},
		},
	}
}

func newTestConnector(t *testing.T, near *fakeNear, evm *fakeSubmitter, lc *fakeLightClient) *Connector {
	t.Helper()
	conn, err := New(submitSettings())
	require.NoError(t, err)
	conn.near = near
	conn.nearSigner = &nearrpc.Signer{AccountID: "signer.near"}
	conn.evm = evm
	conn.lc = lc
	return conn
}

func TestDepositPacksRecipientAndZeroFee(t *testing.T) {
	evm := &fakeSubmitter{}
	conn := newTestConnector(t, &fakeNear{}, evm, &fakeLightClient{})

	amount := big.NewInt(1_000_000)
	txHash, err := conn.DepositToNear(context.Background(), amount, "alice.near")
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xfeed"), txHash)

	require.Len(t, evm.sends, 1)
	send := evm.sends[0]
	assert.Equal(t, common.HexToAddress(custodianHex), send.To)
	assert.Equal(t, amount, send.Value)

	values, err := conn.abi.Methods["depositToNear"].Inputs.Unpack(send.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, "alice.near", values[0])
	assert.Zero(t, values[1].(*big.Int).Sign())
}

func TestWithdrawSubmitsBorshArgs(t *testing.T) {
	near := &fakeNear{}
	conn := newTestConnector(t, near, &fakeSubmitter{}, &fakeLightClient{})

	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	_, err := conn.Withdraw(context.Background(), big.NewInt(5000), recipient)
	require.NoError(t, err)

	require.Len(t, near.changes, 1)
	change := near.changes[0]
	assert.Equal(t, "custodian.bridge.near", change.ReceiverID)
	assert.Equal(t, "withdraw", change.Method)
	assert.Equal(t, uint64(withdrawGas), change.Gas)
	assert.Equal(t, big.NewInt(1), change.Deposit)

	// 20-byte recipient followed by the u128 amount, little endian.
	require.Len(t, change.Args, 36)
	assert.Equal(t, recipient.Bytes(), change.Args[:20])
	assert.Equal(t, uint64(5000), binary.LittleEndian.Uint64(change.Args[20:28]))
	assert.Equal(t, make([]byte, 8), change.Args[28:])
}

func TestFinalizeWithdrawAnchorsAtSyncHeight(t *testing.T) {
	head := nearrpc.CryptoHash{0xaa}
	near := &fakeNear{proofResp: proofResponse(nearrpc.CryptoHash{0xbb}), outcomeBlock: 100}
	evm := &fakeSubmitter{}
	lc := &fakeLightClient{height: 120, head: head}
	conn := newTestConnector(t, near, evm, lc)

	txHash, err := conn.FinalizeWithdraw(context.Background(), nearrpc.CryptoHash{0x07})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xfeed"), txHash)

	// The proof request is anchored at the hash of the synced head block.
	assert.Equal(t, head, near.proofHead)

	require.Len(t, evm.sends, 1)
	send := evm.sends[0]
	assert.Equal(t, common.HexToAddress(custodianHex), send.To)
	assert.Nil(t, send.Value)

	values, err := conn.abi.Methods["withdraw"].Inputs.Unpack(send.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, uint64(120), values[1])

	proof, err := nearproof.FromRPC(near.proofResp)
	require.NoError(t, err)
	wantBytes, err := proof.Marshal()
	require.NoError(t, err)
	assert.Equal(t, wantBytes, values[0])
}

func TestFinalizeWithdrawLightClientLag(t *testing.T) {
	near := &fakeNear{proofResp: proofResponse(nearrpc.CryptoHash{0xbb}), outcomeBlock: 130}
	evm := &fakeSubmitter{}
	conn := newTestConnector(t, near, evm, &fakeLightClient{height: 120})

	_, err := conn.FinalizeWithdraw(context.Background(), nearrpc.CryptoHash{0x07})
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindLightClientLag))
	assert.Empty(t, evm.sends, "nothing may be submitted while the light client lags")
}

func TestOperationsRequireSettings(t *testing.T) {
	conn, err := New(bridge.Settings{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = conn.DepositToNear(ctx, big.NewInt(1), "alice.near")
	assert.True(t, bridge.IsKind(err, bridge.KindConfiguration))

	_, err = conn.FinalizeDeposit(ctx, common.Hash{}, 0)
	assert.True(t, bridge.IsKind(err, bridge.KindConfiguration))

	_, err = conn.Withdraw(ctx, big.NewInt(1), common.Address{})
	assert.True(t, bridge.IsKind(err, bridge.KindConfiguration))

	_, err = conn.FinalizeWithdraw(ctx, nearrpc.CryptoHash{})
	assert.True(t, bridge.IsKind(err, bridge.KindConfiguration))
}
