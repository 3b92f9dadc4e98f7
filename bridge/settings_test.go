package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAllPresent(t *testing.T) {
	s := &Settings{
		EthEndpoint:   "https://eth.example",
		EthChainID:    1,
		EthPrivateKey: "aa",
	}
	assert.NoError(t, s.Require("op", FieldEthEndpoint, FieldEthChainID, FieldEthPrivateKey))
}

func TestRequireListsMissingSorted(t *testing.T) {
	s := &Settings{EthEndpoint: "https://eth.example"}

	err := s.Require("nep141.Withdraw", FieldEthPrivateKey, FieldEthChainID, FieldBridgeTokenFactoryAddress)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
	assert.Contains(t, err.Error(), "nep141.Withdraw")
	// Sorted, comma separated.
	assert.Contains(t, err.Error(),
		"bridge token factory address, eth chain id, eth private key")
}

func TestSubmitFieldHelpers(t *testing.T) {
	evm := EvmSubmitFields(FieldEthCustodianAddress)
	assert.Equal(t, []Field{FieldEthEndpoint, FieldEthChainID, FieldEthPrivateKey, FieldEthCustodianAddress}, evm)

	near := NearSubmitFields()
	assert.Equal(t, []Field{FieldNearEndpoint, FieldNearPrivateKey, FieldNearSignerID}, near)

	// The helpers hand out copies, not the shared backing array.
	evm[0] = FieldNearEndpoint
	assert.Equal(t, Field("eth endpoint"), EvmSubmitFields()[0])
}

func TestStringRedactsSecrets(t *testing.T) {
	s := &Settings{
		EthEndpoint:    "https://eth.example",
		EthChainID:     1,
		EthPrivateKey:  "very-secret",
		NearEndpoint:   "https://near.example",
		NearSignerID:   "signer.near",
		NearPrivateKey: "ed25519:secret",
	}

	out := s.String()
	assert.NotContains(t, out, "very-secret")
	assert.NotContains(t, out, "ed25519:secret")
	assert.Contains(t, out, "signer.near")
	assert.Contains(t, out, "https://eth.example")
}
