// Package nearrpc is the typed NEAR JSON-RPC gateway of the bridge driver:
// view calls, function-call transactions, light client execution proofs and
// final outcome polling. One Client owns one HTTP client with a 30-second
// request timeout; there is no retry.
package nearrpc

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// CryptoHash is a NEAR 32-byte hash, base58-encoded in JSON.
type CryptoHash [32]byte

// ParseCryptoHash decodes a base58 hash string.
func ParseCryptoHash(s string) (CryptoHash, error) {
	var h CryptoHash
	raw, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("invalid base58 hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash length %d for %q", len(raw), s)
	}
	copy(h[:], raw)
	return h, nil
}

func (h CryptoHash) String() string { return base58.Encode(h[:]) }

func (h CryptoHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *CryptoHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCryptoHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MerklePathItemView is one hop of a merkle path as returned by the RPC.
// Direction is "Left" or "Right".
type MerklePathItemView struct {
	Hash      CryptoHash `json:"hash"`
	Direction string     `json:"direction"`
}

// ExecutionStatusView is the JSON form of a receipt outcome status. Exactly
// one of the pointers is set for terminal outcomes; Unknown marks the
// in-progress placeholder status.
type ExecutionStatusView struct {
	SuccessValue     *string         // base64 return value
	SuccessReceiptID *CryptoHash     // delegated receipt
	Failure          json.RawMessage // execution error, opaque to the driver
	Unknown          bool
}

func (s *ExecutionStatusView) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "Unknown" {
			return fmt.Errorf("unexpected status string %q", tag)
		}
		s.Unknown = true
		return nil
	}
	var obj struct {
		SuccessValue     *string         `json:"SuccessValue"`
		SuccessReceiptID *CryptoHash     `json:"SuccessReceiptId"`
		Failure          json.RawMessage `json:"Failure"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.SuccessValue = obj.SuccessValue
	s.SuccessReceiptID = obj.SuccessReceiptID
	s.Failure = obj.Failure
	return nil
}

// ExecutionOutcomeView mirrors the RPC outcome object. The metadata field is
// deliberately not modeled: the canonical bridge proof must not carry it.
type ExecutionOutcomeView struct {
	Logs        []string     `json:"logs"`
	ReceiptIDs  []CryptoHash `json:"receipt_ids"`
	GasBurnt    uint64       `json:"gas_burnt"`
	TokensBurnt string       `json:"tokens_burnt"`
	ExecutorID  string       `json:"executor_id"`
	Status      ExecutionStatusView `json:"status"`
}

// ExecutionOutcomeWithIDView is an outcome plus its merkle path and the
// block it was included in.
type ExecutionOutcomeWithIDView struct {
	Proof     []MerklePathItemView `json:"proof"`
	BlockHash CryptoHash           `json:"block_hash"`
	ID        CryptoHash           `json:"id"`
	Outcome   ExecutionOutcomeView `json:"outcome"`
}

// BlockHeaderInnerLiteView is the light client view of a header. The
// wall-clock Timestamp is present on the wire but dropped from the canonical
// proof form.
type BlockHeaderInnerLiteView struct {
	Height           uint64     `json:"height"`
	EpochID          CryptoHash `json:"epoch_id"`
	NextEpochID      CryptoHash `json:"next_epoch_id"`
	PrevStateRoot    CryptoHash `json:"prev_state_root"`
	OutcomeRoot      CryptoHash `json:"outcome_root"`
	Timestamp        uint64     `json:"timestamp"`
	TimestampNanosec string     `json:"timestamp_nanosec"`
	NextBpHash       CryptoHash `json:"next_bp_hash"`
	BlockMerkleRoot  CryptoHash `json:"block_merkle_root"`
}

// BlockHeaderLiteView is a header reduced to the light client fields.
type BlockHeaderLiteView struct {
	PrevBlockHash CryptoHash               `json:"prev_block_hash"`
	InnerRestHash CryptoHash               `json:"inner_rest_hash"`
	InnerLite     BlockHeaderInnerLiteView `json:"inner_lite"`
}

// ExecutionProofResponse is the light_client_proof RPC result.
type ExecutionProofResponse struct {
	OutcomeProof     ExecutionOutcomeWithIDView `json:"outcome_proof"`
	OutcomeRootProof []MerklePathItemView       `json:"outcome_root_proof"`
	BlockHeaderLite  BlockHeaderLiteView        `json:"block_header_lite"`
	BlockProof       []MerklePathItemView       `json:"block_proof"`
}

// FinalExecutionOutcome is the tx RPC result: the overall status plus the
// outcome of the transaction and of every spawned receipt.
type FinalExecutionOutcome struct {
	Status             json.RawMessage              `json:"status"`
	TransactionOutcome ExecutionOutcomeWithIDView   `json:"transaction_outcome"`
	ReceiptsOutcome    []ExecutionOutcomeWithIDView `json:"receipts_outcome"`
}

// TransactionOrReceiptID identifies the subject of a light client proof
// request.
type TransactionOrReceiptID struct {
	Type            string      `json:"type"` // "transaction" or "receipt"
	TransactionHash *CryptoHash `json:"transaction_hash,omitempty"`
	SenderID        string      `json:"sender_id,omitempty"`
	ReceiptID       *CryptoHash `json:"receipt_id,omitempty"`
	ReceiverID      string      `json:"receiver_id,omitempty"`
}

// ReceiptID builds the receipt form of a proof subject.
func ReceiptID(id CryptoHash, receiverID string) TransactionOrReceiptID {
	return TransactionOrReceiptID{Type: "receipt", ReceiptID: &id, ReceiverID: receiverID}
}

// TransactionID builds the transaction form of a proof subject.
func TransactionID(hash CryptoHash, senderID string) TransactionOrReceiptID {
	return TransactionOrReceiptID{Type: "transaction", TransactionHash: &hash, SenderID: senderID}
}

// blockHeaderView is the subset of the block RPC header the driver reads.
type blockHeaderView struct {
	Height uint64     `json:"height"`
	Hash   CryptoHash `json:"hash"`
}

type blockView struct {
	Header blockHeaderView `json:"header"`
}

// accessKeyView is the subset of the ViewAccessKey response the driver reads.
type accessKeyView struct {
	Nonce uint64 `json:"nonce"`
}

// request and response are the JSON-RPC 2.0 envelope.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Name  string          `json:"name"`
	Cause json.RawMessage `json:"cause"`
	Data  json.RawMessage `json:"data"`
	Code  int64           `json:"code"`
	Msg   string          `json:"message"`
}

func (e *rpcError) Error() string {
	if len(e.Cause) > 0 {
		return fmt.Sprintf("near rpc error %s: %s %s", e.Name, e.Msg, e.Cause)
	}
	return fmt.Sprintf("near rpc error %s: %s", e.Name, e.Msg)
}
