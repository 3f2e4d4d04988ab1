// Package decoder turns raw ContractsApi_call responses into display values.
package decoder

import (
	"fmt"

	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
	"github.com/web3ekko/ekko-bridge/pkg/contract"
)

// ReturnDecoder decodes a message's return data.
type ReturnDecoder interface {
	DecodeReturn(method string, data []byte) (any, error)
}

// Result is the outcome of one dry-run call. Display holds the formatted return value and
// is empty on dispatch failure.
type Result struct {
	Method        string                    `json:"method"`
	Exec          *blockchain.ExecResult    `json:"exec"`
	Value         any                       `json:"-"`
	Display       string                    `json:"display,omitempty"`
	Reverted      bool                      `json:"reverted"`
	DispatchError *blockchain.DispatchError `json:"dispatch_error,omitempty"`
}

// Succeeded reports whether the contract was dispatched and returned a value.
func (r *Result) Succeeded() bool {
	return r.DispatchError == nil
}

// Decoder decodes responses for a single message.
type Decoder struct {
	schema ReturnDecoder
	method string
}

// NewDecoder creates a decoder for method's return type.
func NewDecoder(schema ReturnDecoder, method string) *Decoder {
	return &Decoder{schema: schema, method: method}
}

// Decode decodes raw. A dispatch failure is a valid Result, not an error; errors mean the
// response itself could not be decoded and always wrap blockchain.ErrDecode.
func (d *Decoder) Decode(raw []byte) (*Result, error) {
	exec, err := blockchain.DecodeExecResult(raw)
	if err != nil {
		return nil, err
	}

	res := &Result{Method: d.method, Exec: exec}
	if !exec.Succeeded() {
		res.DispatchError = exec.DispatchError
		return res, nil
	}

	v, err := d.schema.DecodeReturn(d.method, exec.Return.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s return value: %w", blockchain.ErrDecode, d.method, err)
	}
	res.Value = v
	res.Display = contract.Format(v)
	res.Reverted = exec.Return.Reverted()
	return res, nil
}
