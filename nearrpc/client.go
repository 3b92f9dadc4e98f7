package nearrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/near-one/bridge-sdk-go/bridge"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultFinalizeTimeout = 500 * time.Second
)

// Client talks to a single NEAR JSON-RPC endpoint.
type Client struct {
	endpoint string
	http     *http.Client

	// PollInterval and FinalizeTimeout govern WaitForOutcome. They are
	// exported so tests can shrink them.
	PollInterval    time.Duration
	FinalizeTimeout time.Duration
}

// NewClient builds a client for the given endpoint.
func NewClient(endpoint string) (*Client, error) {
	if endpoint == "" {
		return nil, bridge.Errorf(bridge.KindConfiguration, "nearrpc.NewClient", "empty near endpoint")
	}
	return &Client{
		endpoint:        endpoint,
		http:            &http.Client{Timeout: 30 * time.Second},
		PollInterval:    defaultPollInterval,
		FinalizeTimeout: defaultFinalizeTimeout,
	}, nil
}

// call performs one JSON-RPC round trip and decodes the result into out.
func (c *Client) call(ctx context.Context, op, method string, params, out interface{}) error {
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return bridge.WrapErr(bridge.KindNearRPC, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return bridge.WrapErr(bridge.KindNearRPC, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return bridge.WrapErr(bridge.KindNearRPC, op, err)
	}
	defer resp.Body.Close()

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return bridge.WrapErr(bridge.KindNearRPC, op, err)
	}
	if envelope.Error != nil {
		return bridge.WrapErr(bridge.KindNearRPC, op, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return bridge.WrapErr(bridge.KindNearRPC, op, err)
		}
	}
	return nil
}

// ViewFunction calls a read-only contract method against the final block and
// returns the raw result bytes.
func (c *Client) ViewFunction(ctx context.Context, accountID, method string, args []byte) ([]byte, error) {
	const op = "nearrpc.ViewFunction"

	params := map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   accountID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	}
	// The result comes back as a JSON array of byte values, not base64.
	var result struct {
		Result []int    `json:"result"`
		Error  string   `json:"error"`
		Logs   []string `json:"logs"`
	}
	if err := c.call(ctx, op, "query", params, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, bridge.Errorf(bridge.KindNearRPC, op, "view call %s.%s failed: %s", accountID, method, result.Error)
	}
	out := make([]byte, len(result.Result))
	for i, b := range result.Result {
		out[i] = byte(b)
	}
	return out, nil
}

// ViewAccessKey returns the current nonce of the signer's access key plus a
// recent block hash to anchor the next transaction.
func (c *Client) ViewAccessKey(ctx context.Context, accountID, publicKey string) (uint64, CryptoHash, error) {
	const op = "nearrpc.ViewAccessKey"

	params := map[string]interface{}{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}
	var result struct {
		accessKeyView
		BlockHash CryptoHash `json:"block_hash"`
		Error     string     `json:"error"`
	}
	if err := c.call(ctx, op, "query", params, &result); err != nil {
		return 0, CryptoHash{}, err
	}
	if result.Error != "" {
		return 0, CryptoHash{}, bridge.Errorf(bridge.KindNearRPC, op,
			"access key %s of %s: %s", publicKey, accountID, result.Error)
	}
	return result.Nonce, result.BlockHash, nil
}

// BroadcastTxAsync submits a signed transaction without waiting for it to
// execute and returns its hash.
func (c *Client) BroadcastTxAsync(ctx context.Context, signedTx []byte) (CryptoHash, error) {
	const op = "nearrpc.BroadcastTxAsync"

	var hash CryptoHash
	params := []string{base64.StdEncoding.EncodeToString(signedTx)}
	if err := c.call(ctx, op, "broadcast_tx_async", params, &hash); err != nil {
		return CryptoHash{}, err
	}
	return hash, nil
}

// Change signs and submits a single function call transaction, returning its
// hash without waiting for execution.
func (c *Client) Change(ctx context.Context, signer *Signer, receiverID, method string, args []byte, gas uint64, deposit *big.Int) (CryptoHash, error) {
	nonce, blockHash, err := c.ViewAccessKey(ctx, signer.AccountID, signer.PublicKeyString())
	if err != nil {
		return CryptoHash{}, err
	}

	raw, err := signFunctionCall(signer, nonce+1, receiverID, blockHash, method, args, gas, deposit)
	if err != nil {
		return CryptoHash{}, err
	}

	hash, err := c.BroadcastTxAsync(ctx, raw)
	if err != nil {
		return CryptoHash{}, err
	}
	log.Info("Submitted NEAR transaction", "receiver", receiverID, "method", method, "txHash", hash)
	return hash, nil
}

// TxStatus fetches the current execution outcome of a transaction. The
// result may still carry an Unknown status while receipts execute.
func (c *Client) TxStatus(ctx context.Context, txHash CryptoHash, senderID string) (*FinalExecutionOutcome, error) {
	const op = "nearrpc.TxStatus"

	params := map[string]interface{}{
		"tx_hash":           txHash,
		"sender_account_id": senderID,
		"wait_until":        "NONE",
	}
	outcome := new(FinalExecutionOutcome)
	if err := c.call(ctx, op, "tx", params, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// WaitForOutcome polls the transaction status until every receipt outcome is
// terminal, the context ends, or FinalizeTimeout elapses.
func (c *Client) WaitForOutcome(ctx context.Context, txHash CryptoHash, senderID string) (*FinalExecutionOutcome, error) {
	const op = "nearrpc.WaitForOutcome"

	deadline := time.Now().Add(c.FinalizeTimeout)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		outcome, err := c.TxStatus(ctx, txHash, senderID)
		if err == nil && outcomeSettled(outcome) {
			return outcome, nil
		}
		if err != nil {
			log.Debug("NEAR transaction status not yet available", "txHash", txHash, "err", err)
		}

		if time.Now().After(deadline) {
			return nil, bridge.Errorf(bridge.KindFinalizationTimeout, op,
				"transaction %s not finalized within %s", txHash, c.FinalizeTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func outcomeSettled(outcome *FinalExecutionOutcome) bool {
	if len(outcome.ReceiptsOutcome) == 0 {
		return false
	}
	for _, r := range outcome.ReceiptsOutcome {
		if r.Outcome.Status.Unknown {
			return false
		}
	}
	return true
}

// LightClientProof fetches the execution proof for a transaction or receipt
// against the given light client head block.
func (c *Client) LightClientProof(ctx context.Context, id TransactionOrReceiptID, lightClientHead CryptoHash) (*ExecutionProofResponse, error) {
	const op = "nearrpc.LightClientProof"

	params := map[string]interface{}{
		"type":              id.Type,
		"light_client_head": lightClientHead,
	}
	switch id.Type {
	case "transaction":
		params["transaction_hash"] = id.TransactionHash
		params["sender_id"] = id.SenderID
	case "receipt":
		params["receipt_id"] = id.ReceiptID
		params["receiver_id"] = id.ReceiverID
	default:
		return nil, bridge.Errorf(bridge.KindInvalidInput, op, "unknown proof subject type %q", id.Type)
	}

	proof := new(ExecutionProofResponse)
	if err := c.call(ctx, op, "EXPERIMENTAL_light_client_proof", params, proof); err != nil {
		return nil, err
	}
	return proof, nil
}

// BlockHeightByHash resolves a block hash to its height.
func (c *Client) BlockHeightByHash(ctx context.Context, hash CryptoHash) (uint64, error) {
	const op = "nearrpc.BlockHeightByHash"

	var block blockView
	if err := c.call(ctx, op, "block", map[string]interface{}{"block_id": hash}, &block); err != nil {
		return 0, err
	}
	return block.Header.Height, nil
}

// FinalBlockHeight returns the height of the latest final block.
func (c *Client) FinalBlockHeight(ctx context.Context) (uint64, error) {
	const op = "nearrpc.FinalBlockHeight"

	var block blockView
	if err := c.call(ctx, op, "block", map[string]interface{}{"finality": "final"}, &block); err != nil {
		return 0, err
	}
	return block.Header.Height, nil
}
