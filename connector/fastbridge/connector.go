// Package fastbridge drives the liquidity-provider fast transfer flow: a
// sender locks tokens on NEAR with a validity window, an LP fronts the
// tokens on Ethereum before the window expires and later unlocks the NEAR
// side with a receipt proof. If no LP claims the transfer, the sender
// reclaims it with a storage proof showing the transfer slot was never
// processed.
package fastbridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	borsh "github.com/near/borsh-go"

	"github.com/near-one/bridge-sdk-go/bridge"
	"github.com/near-one/bridge-sdk-go/ethproof"
	"github.com/near-one/bridge-sdk-go/ethrpc"
	"github.com/near-one/bridge-sdk-go/nearrpc"
)

const fastBridgeABI = `[
	{"name":"transferTokens","type":"function","stateMutability":"payable","inputs":[{"name":"_token","type":"address"},{"name":"_recipient","type":"address"},{"name":"_nonce","type":"uint256"},{"name":"_amount","type":"uint256"},{"name":"_unlock_recipient","type":"string"},{"name":"_valid_till_block_height","type":"uint256"}],"outputs":[]}
]`

// TransferTokensTopic is the topic-0 of the contract's
// TransferTokens(uint256,address,address,address,uint256,string,bytes32)
// event.
var TransferTokensTopic = common.HexToHash("0xed54b7aec45dbd5851e5b6484f6fbc0e5990e127a8f1eea7a1e113eba6bfacf9")

const (
	transferGas = 200_000_000_000_000
	lpUnlockGas = 120_000_000_000_000
	unlockGas   = 300_000_000_000_000
	withdrawGas = 20_000_000_000_000
)

// TransferMessage is the Borsh transfer order piggybacked on
// ft_transfer_call. The optional fields are filled in by the contract, not
// the sender.
type TransferMessage struct {
	ValidTill            uint64
	Transfer             TransferDataEthereum
	Fee                  TransferDataNear
	Recipient            [20]byte
	ValidTillBlockHeight *uint64
	AuroraSender         *[20]byte
}

// TransferDataEthereum names the token pair and amount of a fast transfer.
type TransferDataEthereum struct {
	TokenNear string
	TokenEth  [20]byte
	Amount    big.Int // u128
}

// TransferDataNear is the LP fee leg of a fast transfer.
type TransferDataNear struct {
	Token  string
	Amount big.Int // u128
}

// pendingTransferView is the JSON form of a stored transfer as returned by
// get_pending_transfer: a (sender, message) pair.
type pendingTransferView struct {
	Sender  string
	Message transferMessageView
}

type transferMessageView struct {
	ValidTill uint64 `json:"valid_till"`
	Transfer  struct {
		TokenNear string     `json:"token_near"`
		TokenEth  hexAddress `json:"token_eth"`
		Amount    u128String `json:"amount"`
	} `json:"transfer"`
	Fee struct {
		Token  string     `json:"token"`
		Amount u128String `json:"amount"`
	} `json:"fee"`
	Recipient            hexAddress  `json:"recipient"`
	ValidTillBlockHeight *uint64     `json:"valid_till_block_height"`
	AuroraSender         *hexAddress `json:"aurora_sender"`
}

func (p *pendingTransferView) UnmarshalJSON(data []byte) error {
	parts := []interface{}{&p.Sender, &p.Message}
	return json.Unmarshal(data, &parts)
}

// hexAddress decodes a 20-byte hex string with or without 0x prefix.
type hexAddress common.Address

func (a *hexAddress) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !common.IsHexAddress(s) {
		return bridge.Errorf(bridge.KindNearRPC, "fastbridge.hexAddress", "invalid address %q", s)
	}
	*a = hexAddress(common.HexToAddress(s))
	return nil
}

// u128String decodes a decimal string amount.
type u128String big.Int

func (u *u128String) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return bridge.Errorf(bridge.KindNearRPC, "fastbridge.u128String", "invalid amount %q", s)
	}
	*(*big.Int)(u) = *v
	return nil
}

func (u *u128String) Int() *big.Int { return (*big.Int)(u) }

type nearGateway interface {
	ViewFunction(ctx context.Context, accountID, method string, args []byte) ([]byte, error)
	Change(ctx context.Context, signer *nearrpc.Signer, receiverID, method string, args []byte, gas uint64, deposit *big.Int) (nearrpc.CryptoHash, error)
}

type evmSubmitter interface {
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
}

// Connector drives the fast bridge flow.
type Connector struct {
	settings bridge.Settings
	abi      abi.ABI

	near       nearGateway
	nearSigner *nearrpc.Signer
	evm        evmSubmitter
	proofs     ethproof.Gateway
}

// New builds a connector over the given settings. Settings completeness is
// checked per operation.
func New(settings bridge.Settings) (*Connector, error) {
	parsed, err := abi.JSON(strings.NewReader(fastBridgeABI))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindConfiguration, "fastbridge.New", err)
	}
	return &Connector{settings: settings, abi: parsed}, nil
}

// Transfer locks tokens with the fast bridge contract on NEAR, opening a
// transfer valid until the given deadline (nanoseconds).
func (c *Connector) Transfer(ctx context.Context, tokenID string, amount, feeAmount *big.Int,
	ethToken, recipient common.Address, validTill uint64) (nearrpc.CryptoHash, error) {
	const op = "fastbridge.Transfer"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldFastBridgeAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	message := TransferMessage{
		ValidTill: validTill,
		Transfer:  TransferDataEthereum{TokenNear: tokenID, TokenEth: ethToken},
		Fee:       TransferDataNear{Token: tokenID},
		Recipient: recipient,
	}
	message.Transfer.Amount.Set(amount)
	message.Fee.Amount.Set(feeAmount)

	raw, err := borsh.Serialize(message)
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindProofSerialize, op, err)
	}

	args, err := json.Marshal(map[string]string{
		"receiver_id": c.settings.FastBridgeAccountID,
		"amount":      amount.String(),
		"msg":         base64.StdEncoding.EncodeToString(raw),
	})
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindInvalidInput, op, err)
	}
	txHash, err := near.Change(ctx, signer, tokenID, "ft_transfer_call", args, transferGas, big.NewInt(1))
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent tokens to the fast bridge contract", "nearTxHash", txHash, "token", tokenID, "amount", amount)
	return txHash, nil
}

// CompleteTransferOnEth fronts a pending transfer to its Ethereum recipient.
// The unlock recipient is the NEAR account the LP will unlock towards.
func (c *Connector) CompleteTransferOnEth(ctx context.Context, nonce *big.Int, unlockRecipient string) (common.Hash, error) {
	const op = "fastbridge.CompleteTransferOnEth"

	if err := c.settings.Require(op, bridge.EvmSubmitFields(
		bridge.FieldFastBridgeAddress, bridge.FieldNearEndpoint, bridge.FieldFastBridgeAccountID)...); err != nil {
		return common.Hash{}, err
	}
	contract, err := ethrpc.ParseAddress(c.settings.FastBridgeAddress)
	if err != nil {
		return common.Hash{}, err
	}
	evm, err := c.submitter()
	if err != nil {
		return common.Hash{}, err
	}

	pending, err := c.pendingTransfer(ctx, nonce.String())
	if err != nil {
		return common.Hash{}, err
	}
	if pending.Message.ValidTillBlockHeight == nil {
		return common.Hash{}, bridge.Errorf(bridge.KindNearRPC, op,
			"pending transfer %s has no valid_till_block_height", nonce)
	}

	amount := pending.Message.Transfer.Amount.Int()
	data, err := c.abi.Pack("transferTokens",
		common.Address(pending.Message.Transfer.TokenEth),
		common.Address(pending.Message.Recipient),
		nonce,
		amount,
		unlockRecipient,
		new(big.Int).SetUint64(*pending.Message.ValidTillBlockHeight),
	)
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	txHash, err := evm.Send(ctx, contract, amount, data)
	if err != nil {
		return common.Hash{}, err
	}

	log.Info("Completed fast bridge transfer", "txHash", txHash, "nonce", nonce)
	return txHash, nil
}

// LPUnlock releases the locked NEAR tokens to the LP after a completed
// transfer, proving the TransferTokens event from the Ethereum receipt.
func (c *Connector) LPUnlock(ctx context.Context, evmTxHash common.Hash) (nearrpc.CryptoHash, error) {
	const op = "fastbridge.LPUnlock"

	if err := c.settings.Require(op, bridge.NearSubmitFields(
		bridge.FieldEthEndpoint, bridge.FieldFastBridgeAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	proofs, err := c.proofGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	receipt, err := proofs.TransactionReceipt(ctx, evmTxHash)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}
	logIndex, err := ethproof.FindLogIndex(receipt, TransferTokensTopic)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	proof, err := ethproof.BuildReceiptProof(ctx, proofs, evmTxHash, logIndex)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}
	args, err := json.Marshal(map[string]interface{}{"proof": proof})
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindProofSerialize, op, err)
	}

	nearTx, err := near.Change(ctx, signer, c.settings.FastBridgeAccountID, "lp_unlock", args, lpUnlockGas, nil)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent lp unlock transaction", "nearTxHash", nearTx, "evmTxHash", evmTxHash)
	return nearTx, nil
}

// Unlock reclaims an expired transfer that no LP completed, proving with a
// storage proof that the transfer slot was never marked processed.
func (c *Connector) Unlock(ctx context.Context, nonce uint64) (nearrpc.CryptoHash, error) {
	const op = "fastbridge.Unlock"

	if err := c.settings.Require(op, bridge.NearSubmitFields(
		bridge.FieldEthEndpoint, bridge.FieldFastBridgeAddress, bridge.FieldFastBridgeAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	contract, err := ethrpc.ParseAddress(c.settings.FastBridgeAddress)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}
	proofs, err := c.proofGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	id := new(big.Int).SetUint64(nonce)
	pending, err := c.pendingTransfer(ctx, id.String())
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}
	if pending.Message.ValidTillBlockHeight == nil {
		return nearrpc.CryptoHash{}, bridge.Errorf(bridge.KindNearRPC, op,
			"pending transfer %d has no valid_till_block_height", nonce)
	}

	slotKey := ethproof.TransferStorageKey(
		common.Address(pending.Message.Transfer.TokenEth),
		common.Address(pending.Message.Recipient),
		id,
		pending.Message.Transfer.Amount.Int(),
	)
	proof, err := ethproof.BuildStorageProof(ctx, proofs, contract, slotKey, *pending.Message.ValidTillBlockHeight)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}
	proofBytes, err := proof.Marshal()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	args, err := json.Marshal(map[string]string{
		"nonce": id.String(),
		"proof": base64.StdEncoding.EncodeToString(proofBytes),
	})
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindProofSerialize, op, err)
	}
	nearTx, err := near.Change(ctx, signer, c.settings.FastBridgeAccountID, "unlock", args, unlockGas, nil)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent unlock transaction", "nearTxHash", nearTx, "nonce", nonce)
	return nearTx, nil
}

// WithdrawFromBridge withdraws the signer's token balance held by the fast
// bridge contract. Amount, recipient and msg are optional; omitted fields
// fall back to the contract defaults.
func (c *Connector) WithdrawFromBridge(ctx context.Context, tokenID string, amount *big.Int, recipientID, msg string) (nearrpc.CryptoHash, error) {
	const op = "fastbridge.WithdrawFromBridge"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldFastBridgeAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	fields := map[string]string{"token_id": tokenID}
	if recipientID != "" {
		fields["recipient_id"] = recipientID
	}
	if amount != nil {
		fields["amount"] = amount.String()
	}
	if msg != "" {
		fields["msg"] = msg
	}
	args, err := json.Marshal(fields)
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindInvalidInput, op, err)
	}

	nearTx, err := near.Change(ctx, signer, c.settings.FastBridgeAccountID, "withdraw", args, withdrawGas, nil)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent withdraw transaction", "nearTxHash", nearTx, "token", tokenID)
	return nearTx, nil
}

func (c *Connector) pendingTransfer(ctx context.Context, id string) (*pendingTransferView, error) {
	const op = "fastbridge.pendingTransfer"

	near, _, err := c.nearGateway()
	if err != nil {
		return nil, err
	}
	args, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindInvalidInput, op, err)
	}
	raw, err := near.ViewFunction(ctx, c.settings.FastBridgeAccountID, "get_pending_transfer", args)
	if err != nil {
		return nil, err
	}

	pending := new(pendingTransferView)
	if err := json.Unmarshal(raw, pending); err != nil {
		return nil, bridge.WrapErr(bridge.KindNearRPC, op, err)
	}
	return pending, nil
}

func (c *Connector) submitter() (evmSubmitter, error) {
	if c.evm != nil {
		return c.evm, nil
	}
	client, err := ethrpc.Dial(c.settings.EthEndpoint)
	if err != nil {
		return nil, err
	}
	transactor, err := ethrpc.NewTransactor(client, c.settings.EthPrivateKey, c.settings.EthChainID)
	if err != nil {
		return nil, err
	}
	c.evm = transactor
	if c.proofs == nil {
		c.proofs = client
	}
	return c.evm, nil
}

func (c *Connector) proofGateway() (ethproof.Gateway, error) {
	if c.proofs != nil {
		return c.proofs, nil
	}
	client, err := ethrpc.Dial(c.settings.EthEndpoint)
	if err != nil {
		return nil, err
	}
	c.proofs = client
	return c.proofs, nil
}

func (c *Connector) nearGateway() (nearGateway, *nearrpc.Signer, error) {
	if c.near == nil {
		client, err := nearrpc.NewClient(c.settings.NearEndpoint)
		if err != nil {
			return nil, nil, err
		}
		c.near = client
	}
	if c.nearSigner == nil && c.settings.NearPrivateKey != "" {
		signer, err := nearrpc.NewSigner(c.settings.NearSignerID, c.settings.NearPrivateKey)
		if err != nil {
			return nil, nil, err
		}
		c.nearSigner = signer
	}
	return c.near, c.nearSigner, nil
}
