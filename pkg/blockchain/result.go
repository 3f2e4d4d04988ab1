package blockchain

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// ErrDecode is returned when a node response cannot be decoded.
var ErrDecode = errors.New("decode error")

// ReturnFlags are the flags a contract sets on its return value.
type ReturnFlags uint32

// FlagRevert marks a return value whose state changes were rolled back.
const FlagRevert ReturnFlags = 1

// StorageDeposit is the balance the call would charge or refund for storage.
type StorageDeposit struct {
	Charge bool     `json:"charge"`
	Amount *big.Int `json:"amount"`
}

// ExecReturnValue is the output of a contract that ran to completion.
type ExecReturnValue struct {
	Flags ReturnFlags `json:"flags"`
	Data  []byte      `json:"data"`
}

// Reverted reports whether the contract reverted.
func (v ExecReturnValue) Reverted() bool {
	return v.Flags&FlagRevert != 0
}

// ModuleError identifies a pallet error.
type ModuleError struct {
	Index uint8   `json:"index"`
	Error [4]byte `json:"error"`
}

// DispatchError is the failure reported by the runtime when a call could not be dispatched.
// It is an outcome of the call, not a Go error.
type DispatchError struct {
	Kind   string       `json:"kind"`
	Module *ModuleError `json:"module,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

func (e DispatchError) String() string {
	switch {
	case e.Module != nil:
		return fmt.Sprintf("Module { index: %d, error: 0x%s }", e.Module.Index, hex.EncodeToString(e.Module.Error[:]))
	case e.Detail != "":
		return fmt.Sprintf("%s(%s)", e.Kind, e.Detail)
	default:
		return e.Kind
	}
}

var dispatchKinds = []string{
	"Other",
	"CannotLookup",
	"BadOrigin",
	"Module",
	"ConsumerRemaining",
	"NoProviders",
	"TooManyConsumers",
	"Token",
	"Arithmetic",
	"Transactional",
	"Exhausted",
	"Corruption",
	"Unavailable",
	"RootNotAllowed",
}

var dispatchDetails = map[string][]string{
	"Token": {
		"FundsUnavailable",
		"OnlyProvider",
		"BelowMinimum",
		"CannotCreate",
		"UnknownAsset",
		"Frozen",
		"Unsupported",
		"CannotCreateHold",
		"NotExpendable",
		"Blocked",
	},
	"Arithmetic":    {"Underflow", "Overflow", "DivisionByZero"},
	"Transactional": {"LimitReached", "NoLayer"},
}

// ExecResult is the decoded ContractsApi_call response.
//
// Exactly one of Return and DispatchError is set.
type ExecResult struct {
	GasConsumed    Weight           `json:"gas_consumed"`
	GasRequired    Weight           `json:"gas_required"`
	StorageDeposit StorageDeposit   `json:"storage_deposit"`
	DebugMessage   string           `json:"debug_message,omitempty"`
	Return         *ExecReturnValue `json:"return,omitempty"`
	DispatchError  *DispatchError   `json:"dispatch_error,omitempty"`
}

// Succeeded reports whether the contract was dispatched.
func (r *ExecResult) Succeeded() bool {
	return r.Return != nil
}

// DecodeExecResult decodes the raw bytes returned by ContractsApi_call. Trailing bytes after
// the result, such as collected events, are ignored.
func DecodeExecResult(raw []byte) (*ExecResult, error) {
	d := newScaleReader(raw)
	res := &ExecResult{}

	if err := d.Decode(&res.GasConsumed); err != nil {
		return nil, decodeErr("gas consumed", err)
	}
	if err := d.Decode(&res.GasRequired); err != nil {
		return nil, decodeErr("gas required", err)
	}

	tag, err := d.ReadOneByte()
	if err != nil {
		return nil, decodeErr("storage deposit", err)
	}
	if tag > 1 {
		return nil, fmt.Errorf("%w: storage deposit variant %d", ErrDecode, tag)
	}
	var amount types.U128
	if err := d.Decode(&amount); err != nil {
		return nil, decodeErr("storage deposit", err)
	}
	res.StorageDeposit = StorageDeposit{Charge: tag == 1, Amount: amount.Int}

	msg, err := d.bytes()
	if err != nil {
		return nil, decodeErr("debug message", err)
	}
	res.DebugMessage = string(msg)

	tag, err = d.ReadOneByte()
	if err != nil {
		return nil, decodeErr("result", err)
	}
	switch tag {
	case 0:
		var flags uint32
		if err := d.Decode(&flags); err != nil {
			return nil, decodeErr("return flags", err)
		}
		data, err := d.bytes()
		if err != nil {
			return nil, decodeErr("return data", err)
		}
		res.Return = &ExecReturnValue{Flags: ReturnFlags(flags), Data: data}
	case 1:
		de, err := decodeDispatchError(d)
		if err != nil {
			return nil, err
		}
		res.DispatchError = de
	default:
		return nil, fmt.Errorf("%w: result variant %d", ErrDecode, tag)
	}
	return res, nil
}

func decodeDispatchError(d *scaleReader) (*DispatchError, error) {
	idx, err := d.ReadOneByte()
	if err != nil {
		return nil, decodeErr("dispatch error", err)
	}
	if int(idx) >= len(dispatchKinds) {
		return nil, fmt.Errorf("%w: dispatch error variant %d", ErrDecode, idx)
	}

	de := &DispatchError{Kind: dispatchKinds[idx]}
	switch de.Kind {
	case "Module":
		m := &ModuleError{}
		if m.Index, err = d.ReadOneByte(); err != nil {
			return nil, decodeErr("module index", err)
		}
		if err := d.Read(m.Error[:]); err != nil {
			return nil, decodeErr("module error", err)
		}
		de.Module = m
	case "Token", "Arithmetic", "Transactional":
		sub, err := d.ReadOneByte()
		if err != nil {
			return nil, decodeErr(de.Kind, err)
		}
		names := dispatchDetails[de.Kind]
		if int(sub) >= len(names) {
			return nil, fmt.Errorf("%w: %s error variant %d", ErrDecode, de.Kind, sub)
		}
		de.Detail = names[sub]
	}
	return de, nil
}

// Encode serializes the result in the layout DecodeExecResult reads, with no events.
func (r *ExecResult) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := scale.NewEncoder(&buf)

	if err := enc.Encode(r.GasConsumed); err != nil {
		return nil, err
	}
	if err := enc.Encode(r.GasRequired); err != nil {
		return nil, err
	}
	var tag byte
	if r.StorageDeposit.Charge {
		tag = 1
	}
	if err := enc.PushByte(tag); err != nil {
		return nil, err
	}
	if err := enc.Encode(u128(r.StorageDeposit.Amount)); err != nil {
		return nil, err
	}
	if err := writeBytes(enc, []byte(r.DebugMessage)); err != nil {
		return nil, err
	}

	switch {
	case r.Return != nil:
		if err := enc.PushByte(0); err != nil {
			return nil, err
		}
		if err := enc.Encode(uint32(r.Return.Flags)); err != nil {
			return nil, err
		}
		if err := writeBytes(enc, r.Return.Data); err != nil {
			return nil, err
		}
	case r.DispatchError != nil:
		if err := enc.PushByte(1); err != nil {
			return nil, err
		}
		if err := encodeDispatchError(enc, r.DispatchError); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("exec result has neither return value nor dispatch error")
	}

	// events: None
	if err := enc.PushByte(0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeDispatchError(enc *scale.Encoder, de *DispatchError) error {
	idx := indexOf(dispatchKinds, de.Kind)
	if idx < 0 {
		return fmt.Errorf("unknown dispatch error %q", de.Kind)
	}
	if err := enc.PushByte(byte(idx)); err != nil {
		return err
	}
	switch de.Kind {
	case "Module":
		if de.Module == nil {
			return errors.New("module dispatch error without module")
		}
		if err := enc.PushByte(de.Module.Index); err != nil {
			return err
		}
		return enc.Write(de.Module.Error[:])
	case "Token", "Arithmetic", "Transactional":
		sub := indexOf(dispatchDetails[de.Kind], de.Detail)
		if sub < 0 {
			return fmt.Errorf("unknown %s error %q", de.Kind, de.Detail)
		}
		return enc.PushByte(byte(sub))
	}
	return nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func decodeErr(field string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDecode, field, err)
}

// scaleReader is a SCALE decoder that knows how many bytes remain, so length prefixes
// can be checked before allocating.
type scaleReader struct {
	*scale.Decoder
	r *bytes.Reader
}

func newScaleReader(raw []byte) *scaleReader {
	r := bytes.NewReader(raw)
	return &scaleReader{Decoder: scale.NewDecoder(r), r: r}
}

func (d *scaleReader) bytes() ([]byte, error) {
	n, err := d.DecodeUintCompact()
	if err != nil {
		return nil, err
	}
	if !n.IsInt64() || n.Int64() > int64(d.r.Len()) {
		return nil, fmt.Errorf("length %s exceeds remaining %d bytes", n, d.r.Len())
	}
	buf := make([]byte, n.Int64())
	if len(buf) == 0 {
		return buf, nil
	}
	if err := d.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeBytes(enc *scale.Encoder, b []byte) error {
	if err := enc.EncodeUintCompact(*big.NewInt(int64(len(b)))); err != nil {
		return err
	}
	return enc.Write(b)
}
