// Package nep141 bridges NEP-141 tokens from NEAR to their ERC-20 mirrors on
// Ethereum and back through the token locker and the BridgeTokenFactory.
// The token lifecycle runs log_metadata, storage_deposit and deployToken
// once per token; transfers then alternate deposit/finalizeDeposit with
// withdraw/finalizeWithdraw in the opposite direction. An alternative
// sign-then-claim path finalizes deposits with a locker-produced signature
// instead of a light client proof.
package nep141

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/near-one/bridge-sdk-go/bridge"
	"github.com/near-one/bridge-sdk-go/ethproof"
	"github.com/near-one/bridge-sdk-go/ethrpc"
	"github.com/near-one/bridge-sdk-go/lightclient"
	"github.com/near-one/bridge-sdk-go/nearproof"
	"github.com/near-one/bridge-sdk-go/nearrpc"
)

const factoryABI = `[
	{"name":"newBridgeToken","type":"function","stateMutability":"nonpayable","inputs":[{"name":"proofData","type":"bytes"},{"name":"proofBlockHeight","type":"uint64"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"proofData","type":"bytes"},{"name":"proofBlockHeight","type":"uint64"}],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"string"},{"name":"amount","type":"uint128"},{"name":"recipient","type":"string"}],"outputs":[]},
	{"name":"nearToEthToken","type":"function","stateMutability":"view","inputs":[{"name":"nearTokenId","type":"string"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"deposit_omni","type":"function","stateMutability":"nonpayable","inputs":[{"name":"signature","type":"bytes"},{"name":"bridgeDeposit","type":"tuple","components":[{"name":"nonce","type":"uint128"},{"name":"token","type":"string"},{"name":"amount","type":"uint128"},{"name":"recipient","type":"address"},{"name":"feeRecipient","type":"string"}]}],"outputs":[]}
]`

const erc20ABI = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const (
	defaultGas      = 300_000_000_000_000
	ftTransferGas   = 200_000_000_000_000
	logMetadataGas  = 300_000_000_000_000
	signTransferGas = 300_000_000_000_000

	defaultPollInterval    = 2 * time.Second
	defaultFinalizeTimeout = 500 * time.Second
)

// Attached deposits above the NEP-141 1-yocto safety requirement; amounts
// are contract-mandated.
var (
	logMetadataDeposit      = nearrpc.Yocto(200, 21)
	finalizeWithdrawDeposit = nearrpc.Yocto(60, 21)
	signTransferDeposit     = nearrpc.Yocto(500, 21)
)

type nearGateway interface {
	ViewFunction(ctx context.Context, accountID, method string, args []byte) ([]byte, error)
	Change(ctx context.Context, signer *nearrpc.Signer, receiverID, method string, args []byte, gas uint64, deposit *big.Int) (nearrpc.CryptoHash, error)
	TxStatus(ctx context.Context, txHash nearrpc.CryptoHash, senderID string) (*nearrpc.FinalExecutionOutcome, error)
	LightClientProof(ctx context.Context, id nearrpc.TransactionOrReceiptID, lightClientHead nearrpc.CryptoHash) (*nearrpc.ExecutionProofResponse, error)
	BlockHeightByHash(ctx context.Context, hash nearrpc.CryptoHash) (uint64, error)
}

type evmSubmitter interface {
	From() common.Address
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type evmCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

type lightClient interface {
	SyncHeight(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) (nearrpc.CryptoHash, error)
}

// Connector drives the NEP-141 token flow.
type Connector struct {
	settings bridge.Settings
	factory  abi.ABI
	erc20    abi.ABI

	// PollInterval and FinalizeTimeout govern FinalizeDepositSigned; tests
	// shrink them.
	PollInterval    time.Duration
	FinalizeTimeout time.Duration

	near       nearGateway
	nearSigner *nearrpc.Signer
	evm        evmSubmitter
	caller     evmCaller
	proofs     ethproof.Gateway
	lc         lightClient
}

// New builds a connector over the given settings. Settings completeness is
// checked per operation.
func New(settings bridge.Settings) (*Connector, error) {
	factory, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindConfiguration, "nep141.New", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindConfiguration, "nep141.New", err)
	}
	return &Connector{
		settings:        settings,
		factory:         factory,
		erc20:           erc20,
		PollInterval:    defaultPollInterval,
		FinalizeTimeout: defaultFinalizeTimeout,
	}, nil
}

// LogTokenMetadata asks the locker to record the token's metadata on-chain.
// Run once per token before DeployToken.
func (c *Connector) LogTokenMetadata(ctx context.Context, nearTokenID string) (nearrpc.CryptoHash, error) {
	const op = "nep141.LogTokenMetadata"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldTokenLockerAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	args, err := json.Marshal(map[string]string{"token_id": nearTokenID})
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindInvalidInput, op, err)
	}
	txHash, err := near.Change(ctx, signer, c.settings.TokenLockerAccountID, "log_metadata", args, logMetadataGas, logMetadataDeposit)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent log metadata transaction", "nearTxHash", txHash, "token", nearTokenID)
	return txHash, nil
}

// StorageDepositForToken registers the locker with the token contract so it
// can hold a balance. Run once per token.
func (c *Connector) StorageDepositForToken(ctx context.Context, nearTokenID string, amount *big.Int) (nearrpc.CryptoHash, error) {
	const op = "nep141.StorageDepositForToken"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldTokenLockerAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	args, err := json.Marshal(map[string]string{"account_id": c.settings.TokenLockerAccountID})
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindInvalidInput, op, err)
	}
	txHash, err := near.Change(ctx, signer, nearTokenID, "storage_deposit", args, defaultGas, amount)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent storage deposit transaction", "nearTxHash", txHash, "token", nearTokenID)
	return txHash, nil
}

// DeployToken deploys the ERC-20 mirror of a NEAR token on Ethereum,
// consuming the proof of the locker's metadata receipt.
func (c *Connector) DeployToken(ctx context.Context, receiptID nearrpc.CryptoHash) (common.Hash, error) {
	const op = "nep141.DeployToken"
	return c.submitNearProof(ctx, op, "newBridgeToken", receiptID)
}

// Deposit locks NEP-141 tokens with the locker towards an Ethereum
// recipient. The recipient address rides in the transfer message.
func (c *Connector) Deposit(ctx context.Context, nearTokenID string, amount *big.Int, ethReceiver string) (nearrpc.CryptoHash, error) {
	const op = "nep141.Deposit"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldTokenLockerAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	args, err := json.Marshal(map[string]string{
		"receiver_id": c.settings.TokenLockerAccountID,
		"amount":      amount.String(),
		"msg":         ethReceiver,
	})
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindInvalidInput, op, err)
	}
	txHash, err := near.Change(ctx, signer, nearTokenID, "ft_transfer_call", args, ftTransferGas, big.NewInt(1))
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent deposit transaction", "nearTxHash", txHash, "token", nearTokenID, "amount", amount)
	return txHash, nil
}

// FinalizeDeposit mints the bridged tokens on Ethereum, consuming the proof
// of the deposit receipt on NEAR.
func (c *Connector) FinalizeDeposit(ctx context.Context, receiptID nearrpc.CryptoHash) (common.Hash, error) {
	const op = "nep141.FinalizeDeposit"
	return c.submitNearProof(ctx, op, "deposit", receiptID)
}

// submitNearProof fetches a light-client execution proof for a locker receipt
// and submits it to the named factory method. The proof is anchored at the
// light client's sync height; LightClientLag is raised before any submission
// when the client has not reached the receipt's block yet.
func (c *Connector) submitNearProof(ctx context.Context, op, method string, receiptID nearrpc.CryptoHash) (common.Hash, error) {
	if err := c.settings.Require(op, bridge.EvmSubmitFields(
		bridge.FieldBridgeTokenFactoryAddress, bridge.FieldNearLightClientAddress,
		bridge.FieldNearEndpoint, bridge.FieldTokenLockerAccountID)...); err != nil {
		return common.Hash{}, err
	}
	factory, err := ethrpc.ParseAddress(c.settings.BridgeTokenFactoryAddress)
	if err != nil {
		return common.Hash{}, err
	}
	lc, err := c.lightClientGateway()
	if err != nil {
		return common.Hash{}, err
	}
	near, _, err := c.nearGateway()
	if err != nil {
		return common.Hash{}, err
	}
	evm, err := c.submitter()
	if err != nil {
		return common.Hash{}, err
	}

	syncHeight, err := lc.SyncHeight(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	headHash, err := lc.BlockHash(ctx, syncHeight)
	if err != nil {
		return common.Hash{}, err
	}
	log.Debug("Retrieved light client head", "syncHeight", syncHeight, "blockHash", headHash)

	response, err := near.LightClientProof(ctx,
		nearrpc.ReceiptID(receiptID, c.settings.TokenLockerAccountID), headHash)
	if err != nil {
		return common.Hash{}, err
	}
	outcomeHeight, err := near.BlockHeightByHash(ctx, response.OutcomeProof.BlockHash)
	if err != nil {
		return common.Hash{}, err
	}
	if outcomeHeight > syncHeight {
		return common.Hash{}, bridge.Errorf(bridge.KindLightClientLag, op,
			"receipt block height %d exceeds light client sync height %d", outcomeHeight, syncHeight)
	}

	proof, err := nearproof.FromRPC(response)
	if err != nil {
		return common.Hash{}, err
	}
	proofBytes, err := proof.Marshal()
	if err != nil {
		return common.Hash{}, err
	}

	data, err := c.factory.Pack(method, proofBytes, syncHeight)
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	txHash, err := evm.Send(ctx, factory, nil, data)
	if err != nil {
		return common.Hash{}, err
	}

	log.Info("Sent proof-consuming factory transaction", "method", method, "txHash", txHash, "receiptId", receiptID)
	return txHash, nil
}

// Withdraw burns bridged tokens on Ethereum towards a NEAR recipient. The
// factory pulls the tokens with transferFrom, so a short ERC-20 allowance is
// topped up first and the approval awaited to a receipt.
func (c *Connector) Withdraw(ctx context.Context, nearTokenID string, amount *big.Int, nearRecipient string) (common.Hash, error) {
	const op = "nep141.Withdraw"

	if err := c.settings.Require(op, bridge.EvmSubmitFields(bridge.FieldBridgeTokenFactoryAddress)...); err != nil {
		return common.Hash{}, err
	}
	factory, err := ethrpc.ParseAddress(c.settings.BridgeTokenFactoryAddress)
	if err != nil {
		return common.Hash{}, err
	}
	evm, err := c.submitter()
	if err != nil {
		return common.Hash{}, err
	}
	caller, err := c.callerGateway()
	if err != nil {
		return common.Hash{}, err
	}

	token, err := c.erc20Address(ctx, caller, factory, nearTokenID)
	if err != nil {
		return common.Hash{}, err
	}
	log.Debug("Resolved ERC20 mirror", "token", token, "nearToken", nearTokenID)

	allowance, err := c.allowance(ctx, caller, token, evm.From(), factory)
	if err != nil {
		return common.Hash{}, err
	}
	if allowance.Cmp(amount) < 0 {
		data, err := c.erc20.Pack("approve", factory, new(big.Int).Sub(amount, allowance))
		if err != nil {
			return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
		}
		approveTx, err := evm.Send(ctx, token, nil, data)
		if err != nil {
			return common.Hash{}, err
		}
		if _, err := evm.WaitMined(ctx, approveTx); err != nil {
			return common.Hash{}, err
		}
		log.Info("Approved tokens for spending", "txHash", approveTx, "token", token)
	}

	data, err := c.factory.Pack("withdraw", nearTokenID, amount, nearRecipient)
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	txHash, err := evm.Send(ctx, factory, nil, data)
	if err != nil {
		return common.Hash{}, err
	}

	log.Info("Sent withdraw transaction", "txHash", txHash, "token", nearTokenID, "amount", amount)
	return txHash, nil
}

// FinalizeWithdraw releases the locked tokens on NEAR, consuming the receipt
// proof of the Ethereum burn.
func (c *Connector) FinalizeWithdraw(ctx context.Context, txHash common.Hash, logIndex uint64) (nearrpc.CryptoHash, error) {
	const op = "nep141.FinalizeWithdraw"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldEthEndpoint, bridge.FieldTokenLockerAccountID)...); err != nil {
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

	proof, err := ethproof.BuildReceiptProof(ctx, proofs, txHash, logIndex)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}
	args, err := proof.Marshal()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	nearTx, err := near.Change(ctx, signer, c.settings.TokenLockerAccountID, "withdraw", args, defaultGas, finalizeWithdrawDeposit)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent finalize withdraw transaction", "nearTxHash", nearTx, "evmTxHash", txHash)
	return nearTx, nil
}

// SignTransfer asks the locker to sign the transfer with the given nonce,
// starting the sign-then-claim finalization path.
func (c *Connector) SignTransfer(ctx context.Context, nonce *big.Int) (nearrpc.CryptoHash, error) {
	const op = "nep141.SignTransfer"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldTokenLockerAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	args, err := json.Marshal(map[string]string{"nonce": nonce.String()})
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindInvalidInput, op, err)
	}
	txHash, err := near.Change(ctx, signer, c.settings.TokenLockerAccountID, "sign_transfer", args, signTransferGas, signTransferDeposit)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent sign transfer transaction", "nearTxHash", txHash, "nonce", nonce)
	return txHash, nil
}

// signTransferEvent is the locker's signed-payload log entry.
type signTransferEvent struct {
	Event struct {
		Signature      string `json:"signature"`
		MessagePayload struct {
			Nonce        string `json:"nonce"`
			Token        string `json:"token"`
			Amount       string `json:"amount"`
			Recipient    string `json:"recipient"` // "eth:0x..." omni address
			FeeRecipient string `json:"fee_recipient"`
		} `json:"message_payload"`
	} `json:"SignTransferEvent"`
}

// FinalizeDepositSigned polls the sign_transfer transaction until its
// receipts log a SignTransferEvent, then claims the deposit on Ethereum with
// a signature-verifying factory call. Exceeding the polling deadline raises
// FinalizationTimeout.
func (c *Connector) FinalizeDepositSigned(ctx context.Context, nearTxHash nearrpc.CryptoHash, sender string) (common.Hash, error) {
	const op = "nep141.FinalizeDepositSigned"

	if err := c.settings.Require(op, bridge.EvmSubmitFields(
		bridge.FieldBridgeTokenFactoryAddress, bridge.FieldNearEndpoint)...); err != nil {
		return common.Hash{}, err
	}
	factory, err := ethrpc.ParseAddress(c.settings.BridgeTokenFactoryAddress)
	if err != nil {
		return common.Hash{}, err
	}
	near, _, err := c.nearGateway()
	if err != nil {
		return common.Hash{}, err
	}
	evm, err := c.submitter()
	if err != nil {
		return common.Hash{}, err
	}

	event, err := c.pollSignTransferEvent(ctx, near, nearTxHash, sender)
	if err != nil {
		return common.Hash{}, err
	}

	signature, err := hexutil.Decode(withHexPrefix(event.Event.Signature))
	if err != nil {
		return common.Hash{}, bridge.Errorf(bridge.KindNearRPC, op,
			"malformed signature in SignTransferEvent: %v", err)
	}
	nonce, ok := new(big.Int).SetString(event.Event.MessagePayload.Nonce, 10)
	if !ok {
		return common.Hash{}, bridge.Errorf(bridge.KindNearRPC, op,
			"malformed nonce %q in SignTransferEvent", event.Event.MessagePayload.Nonce)
	}
	amount, ok := new(big.Int).SetString(event.Event.MessagePayload.Amount, 10)
	if !ok {
		return common.Hash{}, bridge.Errorf(bridge.KindNearRPC, op,
			"malformed amount %q in SignTransferEvent", event.Event.MessagePayload.Amount)
	}
	recipient, err := parseOmniEthAddress(event.Event.MessagePayload.Recipient)
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindNearRPC, op, err)
	}

	bridgeDeposit := struct {
		Nonce        *big.Int
		Token        string
		Amount       *big.Int
		Recipient    common.Address
		FeeRecipient string
	}{nonce, event.Event.MessagePayload.Token, amount, recipient, event.Event.MessagePayload.FeeRecipient}

	data, err := c.factory.Pack("deposit_omni", signature, bridgeDeposit)
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	txHash, err := evm.Send(ctx, factory, nil, data)
	if err != nil {
		return common.Hash{}, err
	}

	log.Info("Sent signed deposit claim", "txHash", txHash, "nonce", nonce)
	return txHash, nil
}

func (c *Connector) pollSignTransferEvent(ctx context.Context, near nearGateway, nearTxHash nearrpc.CryptoHash, sender string) (*signTransferEvent, error) {
	const op = "nep141.FinalizeDepositSigned"

	deadline := time.Now().Add(c.FinalizeTimeout)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		outcome, err := near.TxStatus(ctx, nearTxHash, sender)
		if err == nil {
			if event := findSignTransferEvent(outcome); event != nil {
				return event, nil
			}
		} else {
			log.Debug("Sign transfer outcome not yet available", "nearTxHash", nearTxHash, "err", err)
		}

		if time.Now().After(deadline) {
			return nil, bridge.Errorf(bridge.KindFinalizationTimeout, op,
				"no SignTransferEvent for %s within %s", nearTxHash, c.FinalizeTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func findSignTransferEvent(outcome *nearrpc.FinalExecutionOutcome) *signTransferEvent {
	for _, receipt := range outcome.ReceiptsOutcome {
		for _, entry := range receipt.Outcome.Logs {
			entry = strings.TrimPrefix(entry, "EVENT_JSON:")
			var event signTransferEvent
			if err := json.Unmarshal([]byte(entry), &event); err != nil {
				continue
			}
			if event.Event.Signature != "" {
				return &event
			}
		}
	}
	return nil
}

// ClaimFee collects the relayer fees of finished transfers from the locker.
func (c *Connector) ClaimFee(ctx context.Context, nonces []*big.Int) (nearrpc.CryptoHash, error) {
	const op = "nep141.ClaimFee"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldTokenLockerAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	encoded := make([]string, len(nonces))
	for i, n := range nonces {
		encoded[i] = n.String()
	}
	args, err := json.Marshal(map[string]interface{}{"nonces": encoded})
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindInvalidInput, op, err)
	}
	txHash, err := near.Change(ctx, signer, c.settings.TokenLockerAccountID, "claim_fee", args, defaultGas, big.NewInt(1))
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent claim fee transaction", "nearTxHash", txHash, "nonces", len(nonces))
	return txHash, nil
}

func (c *Connector) erc20Address(ctx context.Context, caller evmCaller, factory common.Address, nearTokenID string) (common.Address, error) {
	const op = "nep141.erc20Address"

	data, err := c.factory.Pack("nearToEthToken", nearTokenID)
	if err != nil {
		return common.Address{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	out, err := caller.CallContract(ctx, factory, data)
	if err != nil {
		return common.Address{}, err
	}
	values, err := c.factory.Unpack("nearToEthToken", out)
	if err != nil {
		return common.Address{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	address, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, bridge.Errorf(bridge.KindEthRPC, op, "malformed nearToEthToken result")
	}
	return address, nil
}

func (c *Connector) allowance(ctx context.Context, caller evmCaller, token, owner, spender common.Address) (*big.Int, error) {
	const op = "nep141.allowance"

	data, err := c.erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	out, err := caller.CallContract(ctx, token, data)
	if err != nil {
		return nil, err
	}
	values, err := c.erc20.Unpack("allowance", out)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, bridge.Errorf(bridge.KindEthRPC, op, "malformed allowance result")
	}
	return allowance, nil
}

func parseOmniEthAddress(s string) (common.Address, error) {
	chain, address, found := strings.Cut(s, ":")
	if !found || chain != "eth" {
		return common.Address{}, fmt.Errorf("recipient %q is not an eth omni address", s)
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("invalid recipient address %q", address)
	}
	return common.HexToAddress(address), nil
}

func withHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
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
	c.adoptClient(client)
	return c.evm, nil
}

func (c *Connector) callerGateway() (evmCaller, error) {
	if c.caller != nil {
		return c.caller, nil
	}
	client, err := ethrpc.Dial(c.settings.EthEndpoint)
	if err != nil {
		return nil, err
	}
	c.adoptClient(client)
	return c.caller, nil
}

func (c *Connector) proofGateway() (ethproof.Gateway, error) {
	if c.proofs != nil {
		return c.proofs, nil
	}
	client, err := ethrpc.Dial(c.settings.EthEndpoint)
	if err != nil {
		return nil, err
	}
	c.adoptClient(client)
	return c.proofs, nil
}

// adoptClient fills every still-unset Ethereum gateway role with the one
// dialed client.
func (c *Connector) adoptClient(client *ethrpc.Client) {
	if c.caller == nil {
		c.caller = client
	}
	if c.proofs == nil {
		c.proofs = client
	}
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

func (c *Connector) lightClientGateway() (lightClient, error) {
	if c.lc != nil {
		return c.lc, nil
	}
	address, err := ethrpc.ParseAddress(c.settings.NearLightClientAddress)
	if err != nil {
		return nil, err
	}
	client, err := ethrpc.Dial(c.settings.EthEndpoint)
	if err != nil {
		return nil, err
	}
	lc, err := lightclient.New(client, address)
	if err != nil {
		return nil, err
	}
	c.lc = lc
	c.adoptClient(client)
	return c.lc, nil
}
