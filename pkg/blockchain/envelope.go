package blockchain

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// ContractsCallAPI is the runtime API entry point that dry-runs a contract call.
const ContractsCallAPI = "ContractsApi_call"

// Weight bounds the execution cost of a call.
//
// The layout is sp-weights Weight { ref_time: Compact<u64>, proof_size: Compact<u64> }, the
// type ContractsApi_call takes for gas_limit. A plain u64 pair in any order is rejected by
// the runtime.
type Weight struct {
	RefTime   uint64 `json:"ref_time"`
	ProofSize uint64 `json:"proof_size"`
}

// Encode writes both components as SCALE compact integers.
func (w Weight) Encode(encoder scale.Encoder) error {
	if err := encoder.EncodeUintCompact(*new(big.Int).SetUint64(w.RefTime)); err != nil {
		return err
	}
	return encoder.EncodeUintCompact(*new(big.Int).SetUint64(w.ProofSize))
}

// Decode reads a compact-encoded weight.
func (w *Weight) Decode(decoder scale.Decoder) error {
	var err error
	if w.RefTime, err = decodeCompactU64(decoder); err != nil {
		return fmt.Errorf("ref_time: %w", err)
	}
	if w.ProofSize, err = decodeCompactU64(decoder); err != nil {
		return fmt.Errorf("proof_size: %w", err)
	}
	return nil
}

// CallEnvelope is the argument tuple of ContractsApi_call.
//
// Fields are serialized in declaration order. Nil limits encode as None so the node
// estimates them.
type CallEnvelope struct {
	Origin              AccountID
	Dest                AccountID
	Value               *big.Int
	GasLimit            *Weight
	StorageDepositLimit *big.Int
	InputData           []byte
}

// Encode serializes the envelope with the SCALE codec.
func (e *CallEnvelope) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := scale.NewEncoder(&buf)

	if err := enc.Write(e.Origin[:]); err != nil {
		return nil, fmt.Errorf("encode origin: %w", err)
	}
	if err := enc.Write(e.Dest[:]); err != nil {
		return nil, fmt.Errorf("encode dest: %w", err)
	}
	if err := enc.Encode(u128(e.Value)); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	var gas Weight
	if e.GasLimit != nil {
		gas = *e.GasLimit
	}
	if err := enc.EncodeOption(e.GasLimit != nil, gas); err != nil {
		return nil, fmt.Errorf("encode gas limit: %w", err)
	}
	if err := enc.EncodeOption(e.StorageDepositLimit != nil, u128(e.StorageDepositLimit)); err != nil {
		return nil, fmt.Errorf("encode storage deposit limit: %w", err)
	}

	if err := enc.EncodeUintCompact(*big.NewInt(int64(len(e.InputData)))); err != nil {
		return nil, fmt.Errorf("encode input length: %w", err)
	}
	if err := enc.Write(e.InputData); err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	return buf.Bytes(), nil
}

// CallEncoder produces contract input data for a message.
type CallEncoder interface {
	EncodeCall(method string, args []string) ([]byte, error)
}

// CallBuilder assembles dry-run envelopes for one contract message.
type CallBuilder struct {
	encoder  CallEncoder
	method   string
	identity Identity
}

// NewCallBuilder creates a builder calling method on identity.Contract as identity.Caller.
func NewCallBuilder(encoder CallEncoder, method string, identity Identity) *CallBuilder {
	return &CallBuilder{
		encoder:  encoder,
		method:   method,
		identity: identity,
	}
}

// Method returns the contract message the builder targets.
func (b *CallBuilder) Method() string {
	return b.method
}

// Build encodes args for the builder's method and wraps them in an envelope that transfers
// no value and leaves gas and storage deposit limits to the node.
func (b *CallBuilder) Build(args []string) (*CallEnvelope, error) {
	input, err := b.encoder.EncodeCall(b.method, args)
	if err != nil {
		return nil, err
	}
	return &CallEnvelope{
		Origin:    b.identity.Caller,
		Dest:      b.identity.Contract,
		Value:     new(big.Int),
		InputData: input,
	}, nil
}

func u128(v *big.Int) types.U128 {
	if v == nil {
		return types.NewU128(*new(big.Int))
	}
	return types.NewU128(*v)
}

func decodeCompactU64(decoder scale.Decoder) (uint64, error) {
	v, err := decoder.DecodeUintCompact()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("compact value %s overflows u64", v)
	}
	return v.Uint64(), nil
}
