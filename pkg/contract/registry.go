package contract

import (
	"fmt"
	"strings"
)

// Kind is the shape of a registry type.
type Kind int

const (
	KindPrimitive Kind = iota
	KindComposite
	KindVariant
	KindSequence
	KindArray
	KindTuple
	KindCompact
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindComposite:
		return "composite"
	case KindVariant:
		return "variant"
	case KindSequence:
		return "sequence"
	case KindArray:
		return "array"
	case KindTuple:
		return "tuple"
	case KindCompact:
		return "compact"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// primitiveSizes maps fixed-width integer primitives to their byte length.
var primitiveSizes = map[string]int{
	"u8": 1, "u16": 2, "u32": 4, "u64": 8, "u128": 16, "u256": 32,
	"i8": 1, "i16": 2, "i32": 4, "i64": 8, "i128": 16, "i256": 32,
}

func knownPrimitive(name string) bool {
	if _, ok := primitiveSizes[name]; ok {
		return true
	}
	return name == "bool" || name == "char" || name == "str"
}

// FieldDef is a named or positional field of a composite or variant.
type FieldDef struct {
	Name     string
	Type     uint32
	TypeName string
}

// VariantDef is one arm of an enum.
type VariantDef struct {
	Name   string
	Index  uint8
	Fields []FieldDef
}

// TypeDef describes one entry of the contract's type registry.
type TypeDef struct {
	ID        uint32
	Path      []string
	Kind      Kind
	Primitive string
	Fields    []FieldDef
	Variants  []VariantDef
	Elem      uint32
	Len       uint32
	Tuple     []uint32
}

// Name is a short human-readable name for the type.
func (t *TypeDef) Name() string {
	if len(t.Path) > 0 {
		return t.Path[len(t.Path)-1]
	}
	switch t.Kind {
	case KindPrimitive:
		return t.Primitive
	case KindSequence:
		return fmt.Sprintf("Vec<#%d>", t.Elem)
	case KindArray:
		return fmt.Sprintf("[#%d; %d]", t.Elem, t.Len)
	case KindCompact:
		return fmt.Sprintf("Compact<#%d>", t.Elem)
	case KindTuple:
		ids := make([]string, len(t.Tuple))
		for i, id := range t.Tuple {
			ids[i] = fmt.Sprintf("#%d", id)
		}
		return "(" + strings.Join(ids, ", ") + ")"
	default:
		return fmt.Sprintf("#%d", t.ID)
	}
}

// IsOption reports whether t is core::option::Option.
func (t *TypeDef) IsOption() bool {
	return t.Kind == KindVariant && len(t.Path) > 0 && t.Path[len(t.Path)-1] == "Option"
}

// variant finds an arm by its index byte.
func (t *TypeDef) variant(index uint8) (*VariantDef, bool) {
	for i := range t.Variants {
		if t.Variants[i].Index == index {
			return &t.Variants[i], true
		}
	}
	return nil, false
}

func (t *TypeDef) variantByName(name string) (*VariantDef, bool) {
	for i := range t.Variants {
		if t.Variants[i].Name == name {
			return &t.Variants[i], true
		}
	}
	return nil, false
}

// Registry is the portable type registry of a contract.
type Registry struct {
	types map[uint32]*TypeDef
}

// Lookup returns the type with the given id.
func (r *Registry) Lookup(id uint32) (*TypeDef, error) {
	t, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: type #%d not in registry", ErrSchema, id)
	}
	return t, nil
}

// Len reports the number of registered types.
func (r *Registry) Len() int {
	return len(r.types)
}

// validate checks that every type reference resolves.
func (r *Registry) validate() error {
	for _, t := range r.types {
		var refs []uint32
		switch t.Kind {
		case KindPrimitive:
			if !knownPrimitive(t.Primitive) {
				return fmt.Errorf("%w: type #%d: unsupported primitive %q", ErrSchema, t.ID, t.Primitive)
			}
		case KindComposite:
			for _, f := range t.Fields {
				refs = append(refs, f.Type)
			}
		case KindVariant:
			for _, v := range t.Variants {
				for _, f := range v.Fields {
					refs = append(refs, f.Type)
				}
			}
		case KindSequence, KindArray, KindCompact:
			refs = append(refs, t.Elem)
		case KindTuple:
			refs = append(refs, t.Tuple...)
		}
		for _, id := range refs {
			if _, err := r.Lookup(id); err != nil {
				return fmt.Errorf("type #%d: %w", t.ID, err)
			}
		}
	}
	return nil
}
