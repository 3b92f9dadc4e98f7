// Package nearproof holds the canonical Borsh form of a NEAR light client
// execution proof. The Ethereum-side prover contract deserializes these
// exact bytes, so the encoding is bit-locked: the RPC view is normalized
// into it (outcome metadata and the wall-clock timestamp are dropped) and
// must round-trip without loss.
package nearproof

import (
	"bytes"
	"encoding/base64"
	"math/big"
	"strconv"

	borsh "github.com/near/borsh-go"

	"github.com/near-one/bridge-sdk-go/bridge"
	"github.com/near-one/bridge-sdk-go/nearrpc"
)

// Merkle path directions.
const (
	DirectionLeft  uint8 = 0
	DirectionRight uint8 = 1
)

// MerklePathItem is one hop of a merkle path.
type MerklePathItem struct {
	Hash      [32]byte
	Direction uint8
}

// ExecutionStatus is the Borsh outcome status enum. Variant payloads must be
// struct-kind: borsh-go emits only the tag byte for bare slice or array
// variants. Failed outcomes are rejected during normalization, so the
// Failure variant carries no payload and decode rejects it.
type ExecutionStatus struct {
	Enum             borsh.Enum `borsh_enum:"true"`
	Unknown          struct{}
	Failure          struct{}
	SuccessValue     SuccessValue
	SuccessReceiptID SuccessReceiptID
}

// SuccessValue is the return value payload of a succeeded outcome.
type SuccessValue struct {
	Value []byte
}

// SuccessReceiptID is the delegated receipt payload of a succeeded outcome.
type SuccessReceiptID struct {
	ID [32]byte
}

const (
	statusUnknown = iota
	statusFailure
	statusSuccessValue
	statusSuccessReceiptID
)

// ExecutionOutcome is the consensus outcome of a transaction or receipt.
type ExecutionOutcome struct {
	Logs        []string
	ReceiptIDs  [][32]byte
	GasBurnt    uint64
	TokensBurnt big.Int // u128, yoctoNEAR
	ExecutorID  string
	Status      ExecutionStatus
}

// OutcomeProof carries an outcome with its merkle path to the outcome root
// of the block it executed in.
type OutcomeProof struct {
	Proof     []MerklePathItem
	BlockHash [32]byte
	ID        [32]byte
	Outcome   ExecutionOutcome
}

// BlockHeaderInnerLite is the hashed-together part of a light client header.
// Timestamp is the nanosecond value.
type BlockHeaderInnerLite struct {
	Height          uint64
	EpochID         [32]byte
	NextEpochID     [32]byte
	PrevStateRoot   [32]byte
	OutcomeRoot     [32]byte
	Timestamp       uint64
	NextBpHash      [32]byte
	BlockMerkleRoot [32]byte
}

// BlockHeaderLite is a block header reduced to the light client fields.
type BlockHeaderLite struct {
	PrevBlockHash [32]byte
	InnerRestHash [32]byte
	InnerLite     BlockHeaderInnerLite
}

// ExecutionProof is the full light client execution proof: the outcome with
// its path to the outcome root, the path from the outcome root to the block,
// the block header, and the path from the block to the light client head's
// merkle root.
type ExecutionProof struct {
	OutcomeProof     OutcomeProof
	OutcomeRootProof []MerklePathItem
	BlockHeaderLite  BlockHeaderLite
	BlockProof       []MerklePathItem
}

// Marshal returns the canonical Borsh encoding of the proof.
func (p *ExecutionProof) Marshal() ([]byte, error) {
	data, err := borsh.Serialize(*p)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindProofSerialize, "nearproof.ExecutionProof.Marshal", err)
	}
	return data, nil
}

// Unmarshal decodes a canonical Borsh execution proof. Input that does not
// re-encode to the same bytes is rejected: a Failure status payload or
// trailing data would otherwise misparse into neighboring fields.
func Unmarshal(data []byte) (*ExecutionProof, error) {
	const op = "nearproof.Unmarshal"

	p := new(ExecutionProof)
	if err := borsh.Deserialize(p, data); err != nil {
		return nil, bridge.WrapErr(bridge.KindProofSerialize, op, err)
	}
	canonical, err := borsh.Serialize(*p)
	if err != nil {
		return nil, bridge.WrapErr(bridge.KindProofSerialize, op, err)
	}
	if !bytes.Equal(canonical, data) {
		return nil, bridge.Errorf(bridge.KindProofSerialize, op, "non-canonical proof encoding")
	}
	return p, nil
}

// FromRPC normalizes a light_client_proof RPC response into the canonical
// form. Proofs over failed or still-pending outcomes are rejected: the
// destination contract would reject them anyway, after gas was spent.
func FromRPC(resp *nearrpc.ExecutionProofResponse) (*ExecutionProof, error) {
	const op = "nearproof.FromRPC"

	outcome, err := normalizeOutcome(&resp.OutcomeProof.Outcome)
	if err != nil {
		return nil, err
	}

	header, err := normalizeHeader(&resp.BlockHeaderLite)
	if err != nil {
		return nil, err
	}

	outcomePath, err := normalizePath(resp.OutcomeProof.Proof)
	if err != nil {
		return nil, err
	}
	rootPath, err := normalizePath(resp.OutcomeRootProof)
	if err != nil {
		return nil, err
	}
	blockPath, err := normalizePath(resp.BlockProof)
	if err != nil {
		return nil, err
	}

	return &ExecutionProof{
		OutcomeProof: OutcomeProof{
			Proof:     outcomePath,
			BlockHash: resp.OutcomeProof.BlockHash,
			ID:        resp.OutcomeProof.ID,
			Outcome:   *outcome,
		},
		OutcomeRootProof: rootPath,
		BlockHeaderLite:  *header,
		BlockProof:       blockPath,
	}, nil
}

func normalizeOutcome(view *nearrpc.ExecutionOutcomeView) (*ExecutionOutcome, error) {
	const op = "nearproof.FromRPC"

	status, err := normalizeStatus(&view.Status)
	if err != nil {
		return nil, err
	}

	tokensBurnt, ok := new(big.Int).SetString(view.TokensBurnt, 10)
	if !ok {
		return nil, bridge.Errorf(bridge.KindProofBuild, op, "invalid tokens_burnt %q", view.TokensBurnt)
	}

	receiptIDs := make([][32]byte, len(view.ReceiptIDs))
	for i, id := range view.ReceiptIDs {
		receiptIDs[i] = id
	}

	out := &ExecutionOutcome{
		Logs:       view.Logs,
		ReceiptIDs: receiptIDs,
		GasBurnt:   view.GasBurnt,
		ExecutorID: view.ExecutorID,
		Status:     *status,
	}
	out.TokensBurnt.Set(tokensBurnt)
	if out.Logs == nil {
		out.Logs = []string{}
	}
	return out, nil
}

func normalizeStatus(view *nearrpc.ExecutionStatusView) (*ExecutionStatus, error) {
	const op = "nearproof.FromRPC"

	switch {
	case view.SuccessValue != nil:
		value, err := base64.StdEncoding.DecodeString(*view.SuccessValue)
		if err != nil {
			return nil, bridge.WrapErr(bridge.KindProofBuild, op, err)
		}
		if value == nil {
			value = []byte{}
		}
		return &ExecutionStatus{Enum: statusSuccessValue, SuccessValue: SuccessValue{Value: value}}, nil
	case view.SuccessReceiptID != nil:
		return &ExecutionStatus{Enum: statusSuccessReceiptID, SuccessReceiptID: SuccessReceiptID{ID: *view.SuccessReceiptID}}, nil
	case view.Failure != nil:
		return nil, bridge.Errorf(bridge.KindProofBuild, op, "outcome failed on NEAR: %s", view.Failure)
	default:
		return nil, bridge.Errorf(bridge.KindProofBuild, op, "outcome still pending")
	}
}

func normalizeHeader(view *nearrpc.BlockHeaderLiteView) (*BlockHeaderLite, error) {
	const op = "nearproof.FromRPC"

	// The canonical header carries the nanosecond timestamp. The RPC's
	// integer timestamp field is a truncated wall-clock value on some
	// node versions, so the string field wins when present.
	timestamp := view.InnerLite.Timestamp
	if view.InnerLite.TimestampNanosec != "" {
		parsed, err := strconv.ParseUint(view.InnerLite.TimestampNanosec, 10, 64)
		if err != nil {
			return nil, bridge.Errorf(bridge.KindProofBuild, op,
				"invalid timestamp_nanosec %q", view.InnerLite.TimestampNanosec)
		}
		timestamp = parsed
	}

	return &BlockHeaderLite{
		PrevBlockHash: view.PrevBlockHash,
		InnerRestHash: view.InnerRestHash,
		InnerLite: BlockHeaderInnerLite{
			Height:          view.InnerLite.Height,
			EpochID:         view.InnerLite.EpochID,
			NextEpochID:     view.InnerLite.NextEpochID,
			PrevStateRoot:   view.InnerLite.PrevStateRoot,
			OutcomeRoot:     view.InnerLite.OutcomeRoot,
			Timestamp:       timestamp,
			NextBpHash:      view.InnerLite.NextBpHash,
			BlockMerkleRoot: view.InnerLite.BlockMerkleRoot,
		},
	}, nil
}

func normalizePath(items []nearrpc.MerklePathItemView) ([]MerklePathItem, error) {
	const op = "nearproof.FromRPC"

	path := make([]MerklePathItem, len(items))
	for i, item := range items {
		switch item.Direction {
		case "Left":
			path[i].Direction = DirectionLeft
		case "Right":
			path[i].Direction = DirectionRight
		default:
			return nil, bridge.Errorf(bridge.KindProofBuild, op, "unknown merkle direction %q", item.Direction)
		}
		path[i].Hash = item.Hash
	}
	return path, nil
}
