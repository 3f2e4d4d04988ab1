package contract

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseArg builds a value of registry type id from its textual form.
//
// Strings may be given bare or quoted. Integers accept decimal and 0x forms, byte
// sequences and arrays take 0x hex, Option accepts "" or "None" for None, and composites
// with a single field are built from that field's text.
func (r *Registry) ParseArg(id uint32, text string) (any, error) {
	return r.parseArg(id, strings.TrimSpace(text), 0)
}

func (r *Registry) parseArg(id uint32, text string, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: type #%d nests too deeply", ErrSchema, id)
	}
	t, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case KindPrimitive:
		return parsePrimitive(t, text)

	case KindCompact:
		n, ok := new(big.Int).SetString(text, 0)
		if !ok || n.Sign() < 0 {
			return nil, badArg(t, text)
		}
		return n, nil

	case KindSequence, KindArray:
		if !r.isByte(t.Elem) {
			break
		}
		b, err := hexutil.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s wants 0x-prefixed hex: %w", ErrSchema, t.Name(), err)
		}
		if t.Kind == KindArray && uint32(len(b)) != t.Len {
			return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrSchema, t.Name(), t.Len, len(b))
		}
		return b, nil

	case KindComposite:
		if len(t.Fields) != 1 {
			break
		}
		v, err := r.parseArg(t.Fields[0].Type, text, depth+1)
		if err != nil {
			return nil, err
		}
		return &Composite{Name: t.Name(), Fields: []Field{{Name: t.Fields[0].Name, Value: v}}}, nil

	case KindVariant:
		if !t.IsOption() {
			break
		}
		if text == "" || text == "None" {
			return &Variant{Name: "None"}, nil
		}
		some, ok := t.variantByName("Some")
		if !ok || len(some.Fields) != 1 {
			break
		}
		inner := text
		if strings.HasPrefix(inner, "Some(") && strings.HasSuffix(inner, ")") {
			inner = inner[len("Some(") : len(inner)-1]
		}
		v, err := r.parseArg(some.Fields[0].Type, inner, depth+1)
		if err != nil {
			return nil, err
		}
		return &Variant{Name: "Some", Index: some.Index, Fields: []Field{{Value: v}}}, nil
	}

	return nil, fmt.Errorf("%w: cannot build %s %s from text", ErrSchema, t.Kind, t.Name())
}

func parsePrimitive(t *TypeDef, text string) (any, error) {
	switch t.Primitive {
	case "str":
		return unquote(text), nil
	case "bool":
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, badArg(t, text)
		}
		return b, nil
	case "char":
		s := unquote(text)
		c, size := utf8.DecodeRuneInString(s)
		if s == "" || size != len(s) || c == utf8.RuneError {
			return nil, badArg(t, text)
		}
		return c, nil
	}

	size, ok := primitiveSizes[t.Primitive]
	if !ok {
		return nil, badArg(t, text)
	}
	n, ok := new(big.Int).SetString(text, 0)
	if !ok {
		return nil, badArg(t, text)
	}
	if _, err := intBytes(n, size, t.Primitive[0] == 'i'); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchema, t.Primitive, err)
	}
	return n, nil
}

// unquote strips one pair of matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func badArg(t *TypeDef, text string) error {
	return fmt.Errorf("%w: %q is not a valid %s", ErrSchema, text, t.Name())
}
