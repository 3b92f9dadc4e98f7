// Package ethrpc is the typed Ethereum JSON-RPC gateway of the bridge
// driver. One Client owns one HTTP connection pool with a 30-second request
// timeout; there is no retry and no caching, transport errors fail the call.
package ethrpc

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/near-one/bridge-sdk-go/bridge"
)

const requestTimeout = 30 * time.Second

// Client wraps a JSON-RPC connection to an Ethereum node with the strictly
// typed calls the proof builders and connectors need.
type Client struct {
	endpoint string
	c        *rpc.Client
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(endpoint string) (*Client, error) {
	c, err := rpc.DialOptions(context.Background(), endpoint,
		rpc.WithHTTPClient(&http.Client{Timeout: requestTimeout}))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindConfiguration, "ethrpc.Dial", err)
	}
	return &Client{endpoint: endpoint, c: c}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() { c.c.Close() }

// HeaderByNumber returns the block header at the given height. Unknown
// response fields are ignored for forward compatibility with future forks;
// known fields are decoded strictly.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	var head *types.Header
	err := c.c.CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.HeaderByNumber", err)
	}
	if head == nil {
		return nil, bridge.Errorf(bridge.KindEthRPC, "ethrpc.HeaderByNumber", "block %d not found", number)
	}
	return head, nil
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	err := c.c.CallContext(ctx, &r, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.TransactionReceipt", err)
	}
	if r == nil {
		return nil, bridge.Errorf(bridge.KindEthRPC, "ethrpc.TransactionReceipt", "receipt %s not found", txHash)
	}
	return r, nil
}

// BlockReceipts returns all receipts of the block at the given height, in
// block order.
func (c *Client) BlockReceipts(ctx context.Context, number uint64) (types.Receipts, error) {
	var rs types.Receipts
	err := c.c.CallContext(ctx, &rs, "eth_getBlockReceipts", hexutil.EncodeUint64(number))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.BlockReceipts", err)
	}
	if rs == nil {
		return nil, bridge.Errorf(bridge.KindEthRPC, "ethrpc.BlockReceipts", "block %d not found", number)
	}
	return rs, nil
}

// GetProof returns the eth_getProof result for an account and a set of
// storage slots at the given height.
func (c *Client) GetProof(ctx context.Context, account common.Address, keys []string, number uint64) (*AccountProof, error) {
	var res AccountProof
	err := c.c.CallContext(ctx, &res, "eth_getProof", account, keys, hexutil.EncodeUint64(number))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.GetProof", err)
	}
	return &res, nil
}

// CallContract executes a read-only eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out hexutil.Bytes
	arg := map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	if err := c.c.CallContext(ctx, &out, "eth_call", arg, "latest"); err != nil {
		return nil, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.CallContract", err)
	}
	return out, nil
}

// PendingNonceAt returns the next nonce of the account including pending
// transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var n hexutil.Uint64
	if err := c.c.CallContext(ctx, &n, "eth_getTransactionCount", account, "pending"); err != nil {
		return 0, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.PendingNonceAt", err)
	}
	return uint64(n), nil
}

// GasPrice returns the node's suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var p hexutil.Big
	if err := c.c.CallContext(ctx, &p, "eth_gasPrice"); err != nil {
		return nil, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.GasPrice", err)
	}
	return (*big.Int)(&p), nil
}

// EstimateGas estimates the gas needed for a call. Single shot, no padding:
// fee policy beyond the node's own estimate is the operator's concern.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, to *common.Address, value *big.Int, data []byte) (uint64, error) {
	arg := map[string]interface{}{
		"from": from,
		"data": hexutil.Bytes(data),
	}
	if to != nil {
		arg["to"] = *to
	}
	if value != nil && value.Sign() != 0 {
		arg["value"] = (*hexutil.Big)(value)
	}
	var gas hexutil.Uint64
	if err := c.c.CallContext(ctx, &gas, "eth_estimateGas", arg); err != nil {
		return 0, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.EstimateGas", err)
	}
	return uint64(gas), nil
}

// SendRawTransaction broadcasts a signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) error {
	if err := c.c.CallContext(ctx, nil, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return bridge.WrapErr(bridge.KindEthRPC, "ethrpc.SendRawTransaction", err)
	}
	return nil
}
