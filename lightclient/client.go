// Package lightclient reads the NEAR light client contract deployed on
// Ethereum. Finalization of NEAR-to-Ethereum transfers is gated on its view
// of the NEAR chain: a proof is only submitted once the client has synced
// past the block the proven outcome landed in.
package lightclient

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/near-one/bridge-sdk-go/bridge"
	"github.com/near-one/bridge-sdk-go/nearrpc"
)

const clientABI = `[
	{"name":"bridgeState","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"currentHeight","type":"uint256"},{"name":"nextTimestamp","type":"uint256"},{"name":"nextValidAt","type":"uint256"},{"name":"numBlockProducers","type":"uint256"}]},
	{"name":"blockHashes","type":"function","stateMutability":"view","inputs":[{"name":"height","type":"uint64"}],
	 "outputs":[{"name":"","type":"bytes32"}]}
]`

// Caller is the read-only Ethereum call surface the client needs.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Client wraps the on-chain NEAR light client at a fixed address.
type Client struct {
	caller   Caller
	contract common.Address
	abi      abi.ABI
}

// New builds a client for the light client contract at the given address.
func New(caller Caller, contract common.Address) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(clientABI))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindConfiguration, "lightclient.New", err)
	}
	return &Client{caller: caller, contract: contract, abi: parsed}, nil
}

// SyncHeight returns the highest NEAR block height the light client has
// accepted.
func (c *Client) SyncHeight(ctx context.Context) (uint64, error) {
	const op = "lightclient.SyncHeight"

	data, err := c.abi.Pack("bridgeState")
	if err != nil {
		return 0, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	out, err := c.caller.CallContract(ctx, c.contract, data)
	if err != nil {
		return 0, err
	}
	values, err := c.abi.Unpack("bridgeState", out)
	if err != nil {
		return 0, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	height, ok := values[0].(*big.Int)
	if !ok || !height.IsUint64() {
		return 0, bridge.Errorf(bridge.KindEthRPC, op, "malformed bridgeState height")
	}
	return height.Uint64(), nil
}

// BlockHash returns the NEAR block hash the light client recorded at the
// given height. The zero hash means the client has no block at that height.
func (c *Client) BlockHash(ctx context.Context, height uint64) (nearrpc.CryptoHash, error) {
	const op = "lightclient.BlockHash"

	var hash nearrpc.CryptoHash
	data, err := c.abi.Pack("blockHashes", height)
	if err != nil {
		return hash, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	out, err := c.caller.CallContract(ctx, c.contract, data)
	if err != nil {
		return hash, err
	}
	values, err := c.abi.Unpack("blockHashes", out)
	if err != nil {
		return hash, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	raw, ok := values[0].([32]byte)
	if !ok {
		return hash, bridge.Errorf(bridge.KindEthRPC, op, "malformed blockHashes result")
	}
	return nearrpc.CryptoHash(raw), nil
}
