// Package ethconnector bridges native ETH between Ethereum and NEAR through
// the EthCustodian contract. Deposits lock ETH on Ethereum and are finalized
// on NEAR with a receipt proof; withdrawals burn on NEAR and are finalized
// on Ethereum with a light-client-gated execution proof.
package ethconnector

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	borsh "github.com/near/borsh-go"

	"github.com/near-one/bridge-sdk-go/bridge"
	"github.com/near-one/bridge-sdk-go/ethproof"
	"github.com/near-one/bridge-sdk-go/ethrpc"
	"github.com/near-one/bridge-sdk-go/lightclient"
	"github.com/near-one/bridge-sdk-go/nearproof"
	"github.com/near-one/bridge-sdk-go/nearrpc"
)

const custodianABI = `[
	{"name":"depositToNear","type":"function","stateMutability":"payable","inputs":[{"name":"nearRecipientAccountId","type":"string"},{"name":"fee","type":"uint256"}],"outputs":[]},
	{"name":"depositToEVM","type":"function","stateMutability":"payable","inputs":[{"name":"ethRecipientOnNear","type":"string"},{"name":"fee","type":"uint256"}],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"proofData","type":"bytes"},{"name":"proofBlockHeight","type":"uint64"}],"outputs":[]}
]`

const (
	finalizeDepositGas = 300_000_000_000_000
	withdrawGas        = 300_000_000_000_000
)

// withdrawArgs is the Borsh argument record of the NEAR connector's withdraw
// method.
type withdrawArgs struct {
	RecipientAddress [20]byte
	Amount           big.Int // u128
}

type nearGateway interface {
	Change(ctx context.Context, signer *nearrpc.Signer, receiverID, method string, args []byte, gas uint64, deposit *big.Int) (nearrpc.CryptoHash, error)
	LightClientProof(ctx context.Context, id nearrpc.TransactionOrReceiptID, lightClientHead nearrpc.CryptoHash) (*nearrpc.ExecutionProofResponse, error)
	BlockHeightByHash(ctx context.Context, hash nearrpc.CryptoHash) (uint64, error)
}

type evmSubmitter interface {
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
}

type lightClient interface {
	SyncHeight(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) (nearrpc.CryptoHash, error)
}

// Connector drives the custodian flow. Operations are step-serialized and do
// not retry; the caller re-invokes on failure.
type Connector struct {
	settings bridge.Settings
	abi      abi.ABI

	// Gateways are built on first use; tests inject fakes.
	near       nearGateway
	nearSigner *nearrpc.Signer
	evm        evmSubmitter
	proofs     ethproof.Gateway
	lc         lightClient
}

// New builds a connector over the given settings. Settings completeness is
// checked per operation, not here.
func New(settings bridge.Settings) (*Connector, error) {
	parsed, err := abi.JSON(strings.NewReader(custodianABI))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindConfiguration, "ethconnector.New", err)
	}
	return &Connector{settings: settings, abi: parsed}, nil
}

// DepositToNear locks ETH in the custodian for a NEAR account recipient.
func (c *Connector) DepositToNear(ctx context.Context, amount *big.Int, nearRecipient string) (common.Hash, error) {
	return c.deposit(ctx, "ethconnector.DepositToNear", "depositToNear", amount, nearRecipient)
}

// DepositToEVM locks ETH in the custodian for an EVM-on-NEAR recipient
// address.
func (c *Connector) DepositToEVM(ctx context.Context, amount *big.Int, evmRecipient string) (common.Hash, error) {
	return c.deposit(ctx, "ethconnector.DepositToEVM", "depositToEVM", amount, evmRecipient)
}

func (c *Connector) deposit(ctx context.Context, op, method string, amount *big.Int, recipient string) (common.Hash, error) {
	if err := c.settings.Require(op, bridge.EvmSubmitFields(bridge.FieldEthCustodianAddress)...); err != nil {
		return common.Hash{}, err
	}
	custodian, err := ethrpc.ParseAddress(c.settings.EthCustodianAddress)
	if err != nil {
		return common.Hash{}, err
	}
	evm, err := c.submitter()
	if err != nil {
		return common.Hash{}, err
	}

	// The fee argument is reserved by the contract; the bridge forwards zero.
	data, err := c.abi.Pack(method, recipient, new(big.Int))
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	txHash, err := evm.Send(ctx, custodian, amount, data)
	if err != nil {
		return common.Hash{}, err
	}

	log.Info("Sent custodian deposit", "txHash", txHash, "recipient", recipient, "amount", amount)
	return txHash, nil
}

// FinalizeDeposit proves the custodian deposit on NEAR: it builds a receipt
// proof for the deposit event and submits it to the connector's deposit
// method.
func (c *Connector) FinalizeDeposit(ctx context.Context, txHash common.Hash, logIndex uint64) (nearrpc.CryptoHash, error) {
	const op = "ethconnector.FinalizeDeposit"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldEthEndpoint, bridge.FieldEthConnectorAccountID)...); err != nil {
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

	nearTx, err := near.Change(ctx, signer, c.settings.EthConnectorAccountID, "deposit", args, finalizeDepositGas, nil)
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent finalize deposit transaction", "nearTxHash", nearTx, "evmTxHash", txHash)
	return nearTx, nil
}

// Withdraw burns bridged ETH on NEAR towards an Ethereum recipient. The
// 1 yoctoNEAR deposit is the NEP-141 transfer safety requirement.
func (c *Connector) Withdraw(ctx context.Context, amount *big.Int, recipient common.Address) (nearrpc.CryptoHash, error) {
	const op = "ethconnector.Withdraw"

	if err := c.settings.Require(op, bridge.NearSubmitFields(bridge.FieldEthConnectorAccountID)...); err != nil {
		return nearrpc.CryptoHash{}, err
	}
	near, signer, err := c.nearGateway()
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	argsRecord := withdrawArgs{RecipientAddress: recipient}
	argsRecord.Amount.Set(amount)
	args, err := borsh.Serialize(argsRecord)
	if err != nil {
		return nearrpc.CryptoHash{}, bridge.WrapErr(bridge.KindProofSerialize, op, err)
	}

	nearTx, err := near.Change(ctx, signer, c.settings.EthConnectorAccountID, "withdraw", args, withdrawGas, big.NewInt(1))
	if err != nil {
		return nearrpc.CryptoHash{}, err
	}

	log.Info("Sent withdraw transaction", "nearTxHash", nearTx, "recipient", recipient, "amount", amount)
	return nearTx, nil
}

// FinalizeWithdraw proves the NEAR burn receipt on Ethereum and unlocks the
// ETH. The proof is anchored at the light client's current sync height; if
// the client has not yet reached the burn block the operation fails with
// LightClientLag before anything is submitted.
func (c *Connector) FinalizeWithdraw(ctx context.Context, receiptID nearrpc.CryptoHash) (common.Hash, error) {
	const op = "ethconnector.FinalizeWithdraw"

	if err := c.settings.Require(op, bridge.EvmSubmitFields(
		bridge.FieldEthCustodianAddress, bridge.FieldNearLightClientAddress,
		bridge.FieldNearEndpoint, bridge.FieldEthConnectorAccountID)...); err != nil {
		return common.Hash{}, err
	}
	custodian, err := ethrpc.ParseAddress(c.settings.EthCustodianAddress)
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
		nearrpc.ReceiptID(receiptID, c.settings.EthConnectorAccountID), headHash)
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

	data, err := c.abi.Pack("withdraw", proofBytes, syncHeight)
	if err != nil {
		return common.Hash{}, bridge.WrapErr(bridge.KindEthRPC, op, err)
	}
	txHash, err := evm.Send(ctx, custodian, nil, data)
	if err != nil {
		return common.Hash{}, err
	}

	log.Info("Sent finalize withdraw transaction", "txHash", txHash, "receiptId", receiptID)
	return txHash, nil
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
	if c.proofs == nil {
		c.proofs = client
	}
	return c.lc, nil
}
