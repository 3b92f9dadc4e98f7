package nearrpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-one/bridge-sdk-go/bridge"
)

// zeroHash is the base58 form of 32 zero bytes, enough to satisfy every
// CryptoHash field in canned responses.
const zeroHash = "11111111111111111111111111111111"

type nearCall struct {
	Method string
	Params json.RawMessage
}

// nearServer is a scripted NEAR JSON-RPC endpoint: one canned result per
// method, every call recorded.
type nearServer struct {
	mu      sync.Mutex
	results map[string]json.RawMessage
	calls   []nearCall
}

func (s *nearServer) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls = append(s.calls, nearCall{Method: req.Method, Params: req.Params})
	result, ok := s.results[req.Method]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]interface{}{
				"name": "HANDLER_ERROR", "code": -32000, "message": "unknown method",
			},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0", "id": req.ID, "result": result,
	})
}

func (s *nearServer) lastCall(t *testing.T) nearCall {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls)
	return s.calls[len(s.calls)-1]
}

func newTestNearClient(t *testing.T, results map[string]json.RawMessage) (*Client, *nearServer) {
	t.Helper()
	server := &nearServer{results: results}
	ts := httptest.NewServer(http.HandlerFunc(server.handler))
	t.Cleanup(ts.Close)

	client, err := NewClient(ts.URL)
	require.NoError(t, err)
	return client, server
}

func TestViewFunctionDecodesByteArray(t *testing.T) {
	client, server := newTestNearClient(t, map[string]json.RawMessage{
		"query": json.RawMessage(`{"result": [34, 52, 50, 34], "logs": [], "block_height": 1}`),
	})

	out, err := client.ViewFunction(context.Background(), "locker.near", "get_pending_transfer", []byte(`{"id":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, `"42"`, string(out))

	call := server.lastCall(t)
	assert.Equal(t, "query", call.Method)
	var params map[string]interface{}
	require.NoError(t, json.Unmarshal(call.Params, &params))
	assert.Equal(t, "call_function", params["request_type"])
	assert.Equal(t, "final", params["finality"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(`{"id":"7"}`)), params["args_base64"])
}

func TestViewFunctionInResultError(t *testing.T) {
	client, _ := newTestNearClient(t, map[string]json.RawMessage{
		"query": json.RawMessage(`{"error": "wasm execution failed", "logs": []}`),
	})

	_, err := client.ViewFunction(context.Background(), "locker.near", "ft_balance_of", nil)
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindNearRPC))
	assert.Contains(t, err.Error(), "wasm execution failed")
}

func TestViewAccessKey(t *testing.T) {
	client, server := newTestNearClient(t, map[string]json.RawMessage{
		"query": json.RawMessage(`{"nonce": 96520, "permission": "FullAccess", "block_hash": "` + zeroHash + `"}`),
	})

	nonce, blockHash, err := client.ViewAccessKey(context.Background(), "signer.near", "ed25519:abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(96520), nonce)
	assert.Equal(t, CryptoHash{}, blockHash)

	var params map[string]interface{}
	require.NoError(t, json.Unmarshal(server.lastCall(t).Params, &params))
	assert.Equal(t, "view_access_key", params["request_type"])
	assert.Equal(t, "signer.near", params["account_id"])
}

func TestBroadcastTxAsync(t *testing.T) {
	client, server := newTestNearClient(t, map[string]json.RawMessage{
		"broadcast_tx_async": json.RawMessage(`"` + zeroHash + `"`),
	})

	hash, err := client.BroadcastTxAsync(context.Background(), []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, CryptoHash{}, hash)

	var params []string
	require.NoError(t, json.Unmarshal(server.lastCall(t).Params, &params))
	require.Len(t, params, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}), params[0])
}

func TestChangeSignsWithBumpedNonce(t *testing.T) {
	client, server := newTestNearClient(t, map[string]json.RawMessage{
		"query":              json.RawMessage(`{"nonce": 9, "block_hash": "` + zeroHash + `"}`),
		"broadcast_tx_async": json.RawMessage(`"` + zeroHash + `"`),
	})
	signer := testSigner(t)

	_, err := client.Change(context.Background(), signer, "locker.near", "deposit", []byte{0x01}, 300_000_000_000_000, nil)
	require.NoError(t, err)

	call := server.lastCall(t)
	require.Equal(t, "broadcast_tx_async", call.Method)
	var params []string
	require.NoError(t, json.Unmarshal(call.Params, &params))
	raw, err := base64.StdEncoding.DecodeString(params[0])
	require.NoError(t, err)

	want, err := signFunctionCall(signer, 10, "locker.near", CryptoHash{}, "deposit", []byte{0x01}, 300_000_000_000_000, nil)
	require.NoError(t, err)
	assert.Equal(t, want, raw)
}

func TestRPCErrorIsKindNearRPC(t *testing.T) {
	client, _ := newTestNearClient(t, nil)

	_, err := client.FinalBlockHeight(context.Background())
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindNearRPC))
	assert.Contains(t, err.Error(), "HANDLER_ERROR")
}

func settledOutcome(status string) json.RawMessage {
	return json.RawMessage(`{
		"status": {"SuccessValue": ""},
		"transaction_outcome": {
			"proof": [], "block_hash": "` + zeroHash + `", "id": "` + zeroHash + `",
			"outcome": {"logs": [], "receipt_ids": [], "gas_burnt": 1, "tokens_burnt": "0",
				"executor_id": "signer.near", "status": ` + status + `}
		},
		"receipts_outcome": [{
			"proof": [], "block_hash": "` + zeroHash + `", "id": "` + zeroHash + `",
			"outcome": {"logs": [], "receipt_ids": [], "gas_burnt": 1, "tokens_burnt": "0",
				"executor_id": "locker.near", "status": ` + status + `}
		}]
	}`)
}

func TestWaitForOutcomeSettled(t *testing.T) {
	client, _ := newTestNearClient(t, map[string]json.RawMessage{
		"tx": settledOutcome(`{"SuccessValue": ""}`),
	})
	client.PollInterval = time.Millisecond
	client.FinalizeTimeout = time.Second

	outcome, err := client.WaitForOutcome(context.Background(), CryptoHash{}, "signer.near")
	require.NoError(t, err)
	require.Len(t, outcome.ReceiptsOutcome, 1)
	assert.False(t, outcome.ReceiptsOutcome[0].Outcome.Status.Unknown)
}

func TestWaitForOutcomeTimesOut(t *testing.T) {
	client, _ := newTestNearClient(t, map[string]json.RawMessage{
		"tx": settledOutcome(`"Unknown"`),
	})
	client.PollInterval = time.Millisecond
	client.FinalizeTimeout = 20 * time.Millisecond

	_, err := client.WaitForOutcome(context.Background(), CryptoHash{}, "signer.near")
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindFinalizationTimeout))
}

func TestWaitForOutcomeContextCanceled(t *testing.T) {
	client, _ := newTestNearClient(t, map[string]json.RawMessage{
		"tx": settledOutcome(`"Unknown"`),
	})
	client.PollInterval = time.Millisecond
	client.FinalizeTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Cancellation is the caller's decision, not a finalization failure.
	_, err := client.WaitForOutcome(ctx, CryptoHash{}, "signer.near")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, bridge.IsKind(err, bridge.KindFinalizationTimeout))
}

func TestLightClientProofParams(t *testing.T) {
	proof := json.RawMessage(`{
		"outcome_proof": {
			"proof": [], "block_hash": "` + zeroHash + `", "id": "` + zeroHash + `",
			"outcome": {"logs": [], "receipt_ids": [], "gas_burnt": 1, "tokens_burnt": "0",
				"executor_id": "locker.near", "status": {"SuccessValue": ""}}
		},
		"outcome_root_proof": [],
		"block_header_lite": {
			"prev_block_hash": "` + zeroHash + `", "inner_rest_hash": "` + zeroHash + `",
			"inner_lite": {"height": 5, "epoch_id": "` + zeroHash + `", "next_epoch_id": "` + zeroHash + `",
				"prev_state_root": "` + zeroHash + `", "outcome_root": "` + zeroHash + `",
				"timestamp": 1, "timestamp_nanosec": "1",
				"next_bp_hash": "` + zeroHash + `", "block_merkle_root": "` + zeroHash + `"}
		},
		"block_proof": []
	}`)
	client, server := newTestNearClient(t, map[string]json.RawMessage{
		"EXPERIMENTAL_light_client_proof": proof,
	})

	var receipt CryptoHash
	receipt[0] = 9
	got, err := client.LightClientProof(context.Background(), ReceiptID(receipt, "locker.near"), CryptoHash{})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.BlockHeaderLite.InnerLite.Height)

	var params map[string]interface{}
	require.NoError(t, json.Unmarshal(server.lastCall(t).Params, &params))
	assert.Equal(t, "receipt", params["type"])
	assert.Equal(t, receipt.String(), params["receipt_id"])
	assert.Equal(t, "locker.near", params["receiver_id"])
	assert.Equal(t, zeroHash, params["light_client_head"])
	assert.NotContains(t, params, "transaction_hash")
}

func TestLightClientProofRejectsUnknownSubject(t *testing.T) {
	client, _ := newTestNearClient(t, nil)

	_, err := client.LightClientProof(context.Background(), TransactionOrReceiptID{Type: "block"}, CryptoHash{})
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindInvalidInput))
}

func TestBlockHeights(t *testing.T) {
	client, server := newTestNearClient(t, map[string]json.RawMessage{
		"block": json.RawMessage(`{"header": {"height": 1204, "hash": "` + zeroHash + `"}}`),
	})

	height, err := client.BlockHeightByHash(context.Background(), CryptoHash{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1204), height)
	var params map[string]interface{}
	require.NoError(t, json.Unmarshal(server.lastCall(t).Params, &params))
	assert.Equal(t, zeroHash, params["block_id"])

	height, err = client.FinalBlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1204), height)
	require.NoError(t, json.Unmarshal(server.lastCall(t).Params, &params))
	assert.Equal(t, "final", params["finality"])
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, bridge.IsKind(err, bridge.KindConfiguration))
}
