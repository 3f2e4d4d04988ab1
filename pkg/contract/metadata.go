// Package contract loads ink! contract metadata and encodes and decodes message calls
// against its type registry.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrSchema is returned when metadata is unusable or a call does not fit a message signature.
var ErrSchema = errors.New("schema error")

// Arg is a declared message argument.
type Arg struct {
	Label       string   `json:"label"`
	Type        uint32   `json:"type"`
	DisplayName []string `json:"display_name,omitempty"`
}

// Message is a callable contract message.
type Message struct {
	Label    string
	Selector [4]byte
	Args     []Arg
	// ReturnType is nil for messages returning unit.
	ReturnType *uint32
	Mutates    bool
	Payable    bool
	Docs       []string
}

// SelectorHex returns the selector in 0x form.
func (m *Message) SelectorHex() string {
	return hexutil.Encode(m.Selector[:])
}

// Schema is an immutable, parsed contract metadata document.
type Schema struct {
	name     string
	version  string
	registry *Registry
	messages map[string]*Message
	order    []string
}

// Name returns the contract name recorded in the metadata, if any.
func (s *Schema) Name() string {
	return s.name
}

// Version returns the metadata format version, such as "V3" or "4".
func (s *Schema) Version() string {
	return s.version
}

// Types returns the contract's type registry.
func (s *Schema) Types() *Registry {
	return s.registry
}

// Message returns the message with the given label.
func (s *Schema) Message(label string) (*Message, error) {
	m, ok := s.messages[label]
	if !ok {
		return nil, fmt.Errorf("%w: contract has no message %q", ErrSchema, label)
	}
	return m, nil
}

// Messages lists messages in metadata order.
func (s *Schema) Messages() []*Message {
	out := make([]*Message, 0, len(s.order))
	for _, l := range s.order {
		out = append(out, s.messages[l])
	}
	return out
}

type rawTypeRef struct {
	DisplayName []string `json:"displayName"`
	Type        uint32   `json:"type"`
}

type rawArg struct {
	Label string     `json:"label"`
	Type  rawTypeRef `json:"type"`
}

type rawMessage struct {
	Label      string      `json:"label"`
	Selector   string      `json:"selector"`
	Args       []rawArg    `json:"args"`
	ReturnType *rawTypeRef `json:"returnType"`
	Mutates    bool        `json:"mutates"`
	Payable    bool        `json:"payable"`
	Docs       []string    `json:"docs"`
}

type rawField struct {
	Name     string `json:"name"`
	Type     uint32 `json:"type"`
	TypeName string `json:"typeName"`
}

type rawVariant struct {
	Name   string     `json:"name"`
	Index  uint8      `json:"index"`
	Fields []rawField `json:"fields"`
}

type rawType struct {
	ID   uint32 `json:"id"`
	Type struct {
		Path []string `json:"path"`
		Def  struct {
			Primitive *string `json:"primitive"`
			Composite *struct {
				Fields []rawField `json:"fields"`
			} `json:"composite"`
			Variant *struct {
				Variants []rawVariant `json:"variants"`
			} `json:"variant"`
			Sequence *struct {
				Type uint32 `json:"type"`
			} `json:"sequence"`
			Array *struct {
				Len  uint32 `json:"len"`
				Type uint32 `json:"type"`
			} `json:"array"`
			Tuple   *[]uint32 `json:"tuple"`
			Compact *struct {
				Type uint32 `json:"type"`
			} `json:"compact"`
			BitSequence json.RawMessage `json:"bitsequence"`
		} `json:"def"`
	} `json:"type"`
}

type rawBody struct {
	Spec struct {
		Messages []rawMessage `json:"messages"`
	} `json:"spec"`
	Types []rawType `json:"types"`
}

type rawMetadata struct {
	rawBody
	Version  json.RawMessage `json:"version"`
	V3       *rawBody        `json:"V3"`
	Contract struct {
		Name string `json:"name"`
	} `json:"contract"`
}

// ParseMetadata parses an ink! metadata document in the V3 layout or the versioned layout
// used from ink! 4 onwards.
func ParseMetadata(data []byte) (*Schema, error) {
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse metadata: %w", ErrSchema, err)
	}

	body := &raw.rawBody
	version := strings.Trim(string(raw.Version), `"`)
	switch {
	case raw.V3 != nil:
		body = raw.V3
		version = "V3"
	case version == "4" || version == "5":
	case version == "":
		return nil, fmt.Errorf("%w: metadata has no version", ErrSchema)
	default:
		return nil, fmt.Errorf("%w: unsupported metadata version %s", ErrSchema, version)
	}

	reg, err := buildRegistry(body.Types)
	if err != nil {
		return nil, err
	}

	s := &Schema{
		name:     raw.Contract.Name,
		version:  version,
		registry: reg,
		messages: make(map[string]*Message, len(body.Spec.Messages)),
	}
	for _, rm := range body.Spec.Messages {
		m, err := buildMessage(rm, reg)
		if err != nil {
			return nil, err
		}
		if _, dup := s.messages[m.Label]; dup {
			return nil, fmt.Errorf("%w: duplicate message %q", ErrSchema, m.Label)
		}
		s.messages[m.Label] = m
		s.order = append(s.order, m.Label)
	}
	return s, nil
}

func buildMessage(rm rawMessage, reg *Registry) (*Message, error) {
	sel, err := hexutil.Decode(rm.Selector)
	if err != nil || len(sel) != 4 {
		return nil, fmt.Errorf("%w: message %q: bad selector %q", ErrSchema, rm.Label, rm.Selector)
	}

	m := &Message{
		Label:   rm.Label,
		Mutates: rm.Mutates,
		Payable: rm.Payable,
		Docs:    rm.Docs,
	}
	copy(m.Selector[:], sel)

	for _, a := range rm.Args {
		if _, err := reg.Lookup(a.Type.Type); err != nil {
			return nil, fmt.Errorf("message %q arg %q: %w", rm.Label, a.Label, err)
		}
		m.Args = append(m.Args, Arg{Label: a.Label, Type: a.Type.Type, DisplayName: a.Type.DisplayName})
	}
	if rm.ReturnType != nil {
		if _, err := reg.Lookup(rm.ReturnType.Type); err != nil {
			return nil, fmt.Errorf("message %q return: %w", rm.Label, err)
		}
		id := rm.ReturnType.Type
		m.ReturnType = &id
	}
	return m, nil
}

func buildRegistry(types []rawType) (*Registry, error) {
	reg := &Registry{types: make(map[uint32]*TypeDef, len(types))}

	for _, rt := range types {
		t := &TypeDef{ID: rt.ID, Path: rt.Type.Path}
		def := rt.Type.Def

		switch {
		case def.Primitive != nil:
			t.Kind = KindPrimitive
			t.Primitive = *def.Primitive
		case def.Composite != nil:
			t.Kind = KindComposite
			t.Fields = fieldDefs(def.Composite.Fields)
		case def.Variant != nil:
			t.Kind = KindVariant
			for _, v := range def.Variant.Variants {
				t.Variants = append(t.Variants, VariantDef{Name: v.Name, Index: v.Index, Fields: fieldDefs(v.Fields)})
			}
		case def.Sequence != nil:
			t.Kind = KindSequence
			t.Elem = def.Sequence.Type
		case def.Array != nil:
			t.Kind = KindArray
			t.Elem = def.Array.Type
			t.Len = def.Array.Len
		case def.Tuple != nil:
			t.Kind = KindTuple
			t.Tuple = *def.Tuple
		case def.Compact != nil:
			t.Kind = KindCompact
			t.Elem = def.Compact.Type
		case def.BitSequence != nil:
			return nil, fmt.Errorf("%w: type #%d: bit sequences are not supported", ErrSchema, rt.ID)
		default:
			return nil, fmt.Errorf("%w: type #%d has no definition", ErrSchema, rt.ID)
		}

		if _, dup := reg.types[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate type #%d", ErrSchema, t.ID)
		}
		reg.types[t.ID] = t
	}

	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func fieldDefs(raw []rawField) []FieldDef {
	out := make([]FieldDef, 0, len(raw))
	for _, f := range raw {
		out = append(out, FieldDef{Name: f.Name, Type: f.Type, TypeName: f.TypeName})
	}
	return out
}
