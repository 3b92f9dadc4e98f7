package nearrpc

import (
	"crypto/ed25519"
	"crypto/sha256"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
	borsh "github.com/near/borsh-go"

	"github.com/near-one/bridge-sdk-go/bridge"
)

const ed25519Prefix = "ed25519:"

// Yocto returns coefficient * 10^exponent yoctoNEAR. Attached deposits above
// the uint64 range are expressed this way.
func Yocto(coefficient int64, exponent int64) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(exponent), nil)
	return exp.Mul(exp, big.NewInt(coefficient))
}

// PublicKey is the Borsh enum of NEAR key types. Only ed25519 keys are used
// by the driver. Variant payloads must be struct-kind: borsh-go emits only
// the tag byte for bare array variants.
type PublicKey struct {
	Enum      borsh.Enum `borsh_enum:"true"`
	ED25519   ED25519PublicKey
	SECP256K1 SECP256K1PublicKey
}

// ED25519PublicKey is the raw 32-byte key payload.
type ED25519PublicKey struct {
	Bytes [32]byte
}

// SECP256K1PublicKey is the raw 64-byte key payload.
type SECP256K1PublicKey struct {
	Bytes [64]byte
}

// Signature is the Borsh enum of NEAR signature types. Payloads are wrapped
// like PublicKey's.
type Signature struct {
	Enum      borsh.Enum `borsh_enum:"true"`
	ED25519   ED25519Signature
	SECP256K1 SECP256K1Signature
}

// ED25519Signature is the raw 64-byte signature payload.
type ED25519Signature struct {
	Bytes [64]byte
}

// SECP256K1Signature is the raw 65-byte signature payload.
type SECP256K1Signature struct {
	Bytes [65]byte
}

// FunctionCall invokes a contract method with attached gas and deposit.
type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    big.Int // u128, yoctoNEAR
}

// Transfer moves a plain balance.
type Transfer struct {
	Deposit big.Int
}

// Action is the Borsh action enum. Variant order fixes the wire tags; only
// FunctionCall and Transfer are ever constructed by the driver.
type Action struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  struct{}
	DeployContract struct{ Code []byte }
	FunctionCall   FunctionCall
	Transfer       Transfer
	Stake          struct{}
	AddKey         struct{}
	DeleteKey      struct{}
	DeleteAccount  struct{}
}

const (
	actionFunctionCall = 2
	actionTransfer     = 3
)

// Transaction is the NEAR transaction in Borsh wire order.
type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// SignedTransaction is a transaction plus the signature over the sha256 of
// its Borsh encoding.
type SignedTransaction struct {
	Transaction Transaction
	Signature   Signature
}

// Signer holds the NEAR account id and ed25519 key used to sign
// transactions.
type Signer struct {
	AccountID string
	key       ed25519.PrivateKey
}

// NewSigner parses a NEAR secret key in the "ed25519:<base58>" text form.
// Both the 64-byte expanded form and the 32-byte seed form are accepted.
func NewSigner(accountID, secretKey string) (*Signer, error) {
	const op = "nearrpc.NewSigner"

	if accountID == "" {
		return nil, bridge.Errorf(bridge.KindConfiguration, op, "empty near signer account id")
	}
	if !strings.HasPrefix(secretKey, ed25519Prefix) {
		return nil, bridge.Errorf(bridge.KindConfiguration, op, "near private key must start with %q", ed25519Prefix)
	}
	raw, err := base58.Decode(strings.TrimPrefix(secretKey, ed25519Prefix))
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindConfiguration, op, err)
	}
	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, bridge.Errorf(bridge.KindConfiguration, op, "near private key has invalid length %d", len(raw))
	}
	return &Signer{AccountID: accountID, key: key}, nil
}

// PublicKey returns the Borsh form of the signer's public key.
func (s *Signer) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk.ED25519.Bytes[:], s.key.Public().(ed25519.PublicKey))
	return pk
}

// PublicKeyString returns the "ed25519:<base58>" text form used by the
// ViewAccessKey query.
func (s *Signer) PublicKeyString() string {
	return ed25519Prefix + base58.Encode(s.key.Public().(ed25519.PublicKey))
}

// Sign produces the transaction signature over sha256 of the Borsh bytes.
func (s *Signer) Sign(message []byte) Signature {
	digest := sha256.Sum256(message)
	var sig Signature
	copy(sig.ED25519.Bytes[:], ed25519.Sign(s.key, digest[:]))
	return sig
}

// signFunctionCall assembles and signs a single function call transaction.
func signFunctionCall(signer *Signer, nonce uint64, receiverID string, blockHash CryptoHash,
	method string, args []byte, gas uint64, deposit *big.Int) ([]byte, error) {
	const op = "nearrpc.signFunctionCall"

	call := FunctionCall{
		MethodName: method,
		Args:       args,
		Gas:        gas,
	}
	if deposit != nil {
		call.Deposit.Set(deposit)
	}

	tx := Transaction{
		SignerID:   signer.AccountID,
		PublicKey:  signer.PublicKey(),
		Nonce:      nonce,
		ReceiverID: receiverID,
		BlockHash:  blockHash,
		Actions:    []Action{{Enum: actionFunctionCall, FunctionCall: call}},
	}

	unsigned, err := borsh.Serialize(tx)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindNearRPC, op, err)
	}
	signed := SignedTransaction{Transaction: tx, Signature: signer.Sign(unsigned)}

	raw, err := borsh.Serialize(signed)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindNearRPC, op, err)
	}
	return raw, nil
}
