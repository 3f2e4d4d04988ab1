package contract

import (
	"bytes"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

// EncodeCall builds the input data for method from textual arguments, converting each one
// to the type the message declares for it.
func (s *Schema) EncodeCall(method string, args []string) ([]byte, error) {
	m, err := s.Message(method)
	if err != nil {
		return nil, err
	}
	if len(args) != len(m.Args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrSchema, method, len(m.Args), len(args))
	}

	values := make([]any, len(args))
	for i, a := range m.Args {
		v, err := s.registry.ParseArg(a.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("%s arg %q: %w", method, a.Label, err)
		}
		values[i] = v
	}
	return s.encodeCall(m, values)
}

// EncodeCallValues builds the input data for method from already typed values.
func (s *Schema) EncodeCallValues(method string, values ...any) ([]byte, error) {
	m, err := s.Message(method)
	if err != nil {
		return nil, err
	}
	if len(values) != len(m.Args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrSchema, method, len(m.Args), len(values))
	}
	return s.encodeCall(m, values)
}

func (s *Schema) encodeCall(m *Message, values []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := scale.NewEncoder(&buf)
	if err := enc.Write(m.Selector[:]); err != nil {
		return nil, err
	}
	for i, a := range m.Args {
		if err := s.registry.encode(enc, a.Type, values[i], 0); err != nil {
			return nil, fmt.Errorf("%s arg %q: %w", m.Label, a.Label, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeReturn decodes the data returned by method. Messages without a return type
// decode to the unit Tuple.
func (s *Schema) DecodeReturn(method string, data []byte) (any, error) {
	m, err := s.Message(method)
	if err != nil {
		return nil, err
	}
	if m.ReturnType == nil {
		if len(data) != 0 {
			return nil, fmt.Errorf("%w: %s returns unit, got %d bytes", ErrCodec, method, len(data))
		}
		return Tuple{}, nil
	}
	return s.registry.Decode(*m.ReturnType, data)
}

// EncodeReturn encodes v as the return value of method.
func (s *Schema) EncodeReturn(method string, v any) ([]byte, error) {
	m, err := s.Message(method)
	if err != nil {
		return nil, err
	}
	if m.ReturnType == nil {
		return []byte{}, nil
	}
	return s.registry.Encode(*m.ReturnType, v)
}
