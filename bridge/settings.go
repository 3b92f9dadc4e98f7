package bridge

import (
	"fmt"
	"sort"
	"strings"
)

// Settings is the resolved configuration record for one driver instance.
// Every field is optional; each connector operation declares the fields it
// needs in the requirements table below and validation happens at call time.
// The record is treated as immutable once a connector is built from it.
type Settings struct {
	// Ethereum side.
	EthEndpoint   string // JSON-RPC endpoint URL
	EthChainID    uint64
	EthPrivateKey string // 32-byte hex, no 0x prefix required

	EthCustodianAddress       string // EthCustodian contract
	BridgeTokenFactoryAddress string // BridgeTokenFactory contract
	FastBridgeAddress         string // EthErc20FastBridge contract
	NearLightClientAddress    string // NEAR light client contract on Ethereum

	// NEAR side.
	NearEndpoint   string // JSON-RPC endpoint URL
	NearPrivateKey string // "ed25519:" + base58 secret key
	NearSignerID   string // account id of the transaction signer

	EthConnectorAccountID string // eth connector (custodian counterpart) on NEAR
	TokenLockerAccountID  string // NEP-141 token locker on NEAR
	FastBridgeAccountID   string // fast bridge contract on NEAR
}

// Field names a single settings field in requirement declarations and
// configuration errors.
type Field string

const (
	FieldEthEndpoint   Field = "eth endpoint"
	FieldEthChainID    Field = "eth chain id"
	FieldEthPrivateKey Field = "eth private key"

	FieldEthCustodianAddress       Field = "eth custodian address"
	FieldBridgeTokenFactoryAddress Field = "bridge token factory address"
	FieldFastBridgeAddress         Field = "fast bridge address"
	FieldNearLightClientAddress    Field = "near light client address"

	FieldNearEndpoint   Field = "near endpoint"
	FieldNearPrivateKey Field = "near private key"
	FieldNearSignerID   Field = "near signer account id"

	FieldEthConnectorAccountID Field = "eth connector account id"
	FieldTokenLockerAccountID  Field = "token locker account id"
	FieldFastBridgeAccountID   Field = "fast bridge account id"
)

func (s *Settings) present(f Field) bool {
	switch f {
	case FieldEthEndpoint:
		return s.EthEndpoint != ""
	case FieldEthChainID:
		return s.EthChainID != 0
	case FieldEthPrivateKey:
		return s.EthPrivateKey != ""
	case FieldEthCustodianAddress:
		return s.EthCustodianAddress != ""
	case FieldBridgeTokenFactoryAddress:
		return s.BridgeTokenFactoryAddress != ""
	case FieldFastBridgeAddress:
		return s.FastBridgeAddress != ""
	case FieldNearLightClientAddress:
		return s.NearLightClientAddress != ""
	case FieldNearEndpoint:
		return s.NearEndpoint != ""
	case FieldNearPrivateKey:
		return s.NearPrivateKey != ""
	case FieldNearSignerID:
		return s.NearSignerID != ""
	case FieldEthConnectorAccountID:
		return s.EthConnectorAccountID != ""
	case FieldTokenLockerAccountID:
		return s.TokenLockerAccountID != ""
	case FieldFastBridgeAccountID:
		return s.FastBridgeAccountID != ""
	default:
		return false
	}
}

// Require checks that every listed field is set and returns a configuration
// error naming the missing ones otherwise. Connectors call it as the first
// step of every public operation.
func (s *Settings) Require(op string, fields ...Field) error {
	var missing []string
	for _, f := range fields {
		if !s.present(f) {
			missing = append(missing, string(f))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return Errorf(KindConfiguration, op, "missing settings: %s", strings.Join(missing, ", "))
}

// evmSubmitFields are needed by any operation that signs and submits an
// Ethereum transaction.
var evmSubmitFields = []Field{FieldEthEndpoint, FieldEthChainID, FieldEthPrivateKey}

// nearSubmitFields are needed by any operation that signs and submits a NEAR
// transaction.
var nearSubmitFields = []Field{FieldNearEndpoint, FieldNearPrivateKey, FieldNearSignerID}

// EvmSubmitFields returns the field set for Ethereum submission, appended
// with operation-specific extras.
func EvmSubmitFields(extra ...Field) []Field {
	return append(append([]Field{}, evmSubmitFields...), extra...)
}

// NearSubmitFields returns the field set for NEAR submission, appended with
// operation-specific extras.
func NearSubmitFields(extra ...Field) []Field {
	return append(append([]Field{}, nearSubmitFields...), extra...)
}

// String renders the settings with secrets elided, for debug logging.
func (s *Settings) String() string {
	redact := func(v string) string {
		if v == "" {
			return "<unset>"
		}
		return "<set>"
	}
	return fmt.Sprintf("Settings{eth: %s chain %d key %s, near: %s signer %q key %s}",
		s.EthEndpoint, s.EthChainID, redact(s.EthPrivateKey),
		s.NearEndpoint, s.NearSignerID, redact(s.NearPrivateKey))
}
