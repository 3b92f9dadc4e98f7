package ethrpc

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/near-one/bridge-sdk-go/bridge"
)

// receiptPollInterval is how often WaitMined re-queries the receipt.
const receiptPollInterval = 2 * time.Second

// Transactor signs and submits Ethereum transactions with a fixed key and
// chain id. Nonce and gas values are queried once per submission; congestion
// handling and nonce reservation are the caller's concern.
type Transactor struct {
	client *Client
	key    *ecdsa.PrivateKey
	signer types.Signer
	from   common.Address
}

// NewTransactor builds a transactor from a hex-encoded 32-byte private key.
func NewTransactor(client *Client, privateKeyHex string, chainID uint64) (*Transactor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindConfiguration, "ethrpc.NewTransactor", err)
	}
	return &Transactor{
		client: client,
		key:    key,
		signer: types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)),
		from:   crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// From returns the sender address of the transactor's key.
func (t *Transactor) From() common.Address { return t.from }

// Send signs and broadcasts a single call transaction and returns its hash.
// The transaction is not awaited; in-flight submissions survive context
// cancellation and must be reconciled by the caller.
func (t *Transactor) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	const op = "ethrpc.Send"

	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := t.client.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gas, err := t.client.EstimateGas(ctx, t.from, &to, value, data)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	if err := t.client.SendRawTransaction(ctx, raw); err != nil {
		return common.Hash{}, err
	}

	log.Debug("Submitted Ethereum transaction", "txHash", signed.Hash(), "to", to, "nonce", nonce)

	return signed.Hash(), nil
}

// WaitMined polls for the receipt of a submitted transaction until it is
// mined or the context is cancelled.
func (t *Transactor) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		r, err := t.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return r, nil
		}

		select {
		case <-ctx.Done():
			return nil, bridge.WrapErr(bridge.KindEthRPC, "ethrpc.WaitMined", ctx.Err())
		case <-ticker.C:
		}
	}
}
