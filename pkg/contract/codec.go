package contract

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

// maxDepth bounds nesting while walking recursive registry types.
const maxDepth = 64

// ErrCodec is returned when bytes do not decode as the expected type.
var ErrCodec = errors.New("codec error")

// Field is a decoded composite or variant field. Name is empty for positional fields.
type Field struct {
	Name  string
	Value any
}

// Composite is a decoded struct value.
type Composite struct {
	Name   string
	Fields []Field
}

// Get returns the value of the named field.
func (c *Composite) Get(name string) (any, bool) {
	return getField(c.Fields, name)
}

// Variant is a decoded enum value.
type Variant struct {
	Name   string
	Index  uint8
	Fields []Field
}

// Get returns the value of the named field.
func (v *Variant) Get(name string) (any, bool) {
	return getField(v.Fields, name)
}

// Tuple is a decoded tuple; the empty Tuple is unit.
type Tuple []any

func getField(fields []Field, name string) (any, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Encode appends the SCALE encoding of v as registry type id.
//
// Integers accept *big.Int and Go integer types, u8 sequences and arrays accept []byte,
// composites accept *Composite or positional []any, and variants accept *Variant.
func (r *Registry) Encode(id uint32, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.encode(scale.NewEncoder(&buf), id, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decodes data as registry type id. All of data must be consumed.
func (r *Registry) Decode(id uint32, data []byte) (any, error) {
	rd := newReader(data)
	v, err := r.decode(rd, id, 0)
	if err != nil {
		return nil, err
	}
	if rd.r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after #%d", ErrCodec, rd.r.Len(), id)
	}
	return v, nil
}

func (r *Registry) encode(enc *scale.Encoder, id uint32, v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: type #%d nests too deeply", ErrSchema, id)
	}
	t, err := r.Lookup(id)
	if err != nil {
		return err
	}

	switch t.Kind {
	case KindPrimitive:
		return encodePrimitive(enc, t, v)

	case KindCompact:
		n, err := toBigInt(v)
		if err != nil || n.Sign() < 0 {
			return mismatch(t, v)
		}
		return enc.EncodeUintCompact(*n)

	case KindSequence, KindArray:
		if b, ok := v.([]byte); ok && r.isByte(t.Elem) {
			if t.Kind == KindArray && uint32(len(b)) != t.Len {
				return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrSchema, t.Name(), t.Len, len(b))
			}
			if t.Kind == KindSequence {
				if err := enc.EncodeUintCompact(*big.NewInt(int64(len(b)))); err != nil {
					return err
				}
			}
			return enc.Write(b)
		}
		items, ok := v.([]any)
		if !ok {
			return mismatch(t, v)
		}
		if t.Kind == KindArray && uint32(len(items)) != t.Len {
			return fmt.Errorf("%w: %s wants %d items, got %d", ErrSchema, t.Name(), t.Len, len(items))
		}
		if t.Kind == KindSequence {
			if err := enc.EncodeUintCompact(*big.NewInt(int64(len(items)))); err != nil {
				return err
			}
		}
		for _, item := range items {
			if err := r.encode(enc, t.Elem, item, depth+1); err != nil {
				return err
			}
		}
		return nil

	case KindTuple:
		var items []any
		switch tv := v.(type) {
		case Tuple:
			items = tv
		case []any:
			items = tv
		case nil:
		default:
			if len(t.Tuple) != 1 {
				return mismatch(t, v)
			}
			items = []any{v}
		}
		if len(items) != len(t.Tuple) {
			return fmt.Errorf("%w: %s wants %d items, got %d", ErrSchema, t.Name(), len(t.Tuple), len(items))
		}
		for i, item := range items {
			if err := r.encode(enc, t.Tuple[i], item, depth+1); err != nil {
				return err
			}
		}
		return nil

	case KindComposite:
		values, err := fieldValues(t, t.Fields, v)
		if err != nil {
			return err
		}
		for i, f := range t.Fields {
			if err := r.encode(enc, f.Type, values[i], depth+1); err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name(), fieldLabel(f, i), err)
			}
		}
		return nil

	case KindVariant:
		vv, ok := v.(*Variant)
		if !ok {
			return mismatch(t, v)
		}
		arm, ok := t.variantByName(vv.Name)
		if !ok {
			return fmt.Errorf("%w: %s has no variant %q", ErrSchema, t.Name(), vv.Name)
		}
		if err := enc.PushByte(arm.Index); err != nil {
			return err
		}
		values, err := fieldValues(t, arm.Fields, vv.Fields)
		if err != nil {
			return err
		}
		for i, f := range arm.Fields {
			if err := r.encode(enc, f.Type, values[i], depth+1); err != nil {
				return fmt.Errorf("%s::%s.%s: %w", t.Name(), arm.Name, fieldLabel(f, i), err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: cannot encode %s", ErrSchema, t.Kind)
}

// fieldValues lines v up with the declared fields.
func fieldValues(t *TypeDef, defs []FieldDef, v any) ([]any, error) {
	var fields []Field
	switch fv := v.(type) {
	case *Composite:
		fields = fv.Fields
	case []Field:
		fields = fv
	case []any:
		if len(fv) != len(defs) {
			return nil, fmt.Errorf("%w: %s wants %d fields, got %d", ErrSchema, t.Name(), len(defs), len(fv))
		}
		return fv, nil
	default:
		if len(defs) == 1 {
			return []any{v}, nil
		}
		return nil, mismatch(t, v)
	}

	if len(fields) != len(defs) {
		return nil, fmt.Errorf("%w: %s wants %d fields, got %d", ErrSchema, t.Name(), len(defs), len(fields))
	}
	out := make([]any, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			out[i] = fields[i].Value
			continue
		}
		val, ok := getField(fields, d.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s is missing field %q", ErrSchema, t.Name(), d.Name)
		}
		out[i] = val
	}
	return out, nil
}

func fieldLabel(f FieldDef, i int) string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprint(i)
}

func (r *Registry) isByte(id uint32) bool {
	t, err := r.Lookup(id)
	return err == nil && t.Kind == KindPrimitive && t.Primitive == "u8"
}

func encodePrimitive(enc *scale.Encoder, t *TypeDef, v any) error {
	switch t.Primitive {
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return mismatch(t, v)
		}
		return enc.Encode(b)
	case "str":
		s, ok := v.(string)
		if !ok {
			return mismatch(t, v)
		}
		return enc.Encode(s)
	case "char":
		c, ok := v.(rune)
		if !ok || !utf8.ValidRune(c) {
			return mismatch(t, v)
		}
		return enc.Encode(uint32(c))
	}

	size, ok := primitiveSizes[t.Primitive]
	if !ok {
		return fmt.Errorf("%w: unsupported primitive %q", ErrSchema, t.Primitive)
	}
	n, err := toBigInt(v)
	if err != nil {
		return mismatch(t, v)
	}
	b, err := intBytes(n, size, t.Primitive[0] == 'i')
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSchema, t.Primitive, err)
	}
	return enc.Write(b)
}

// intBytes renders n as a little-endian integer of size bytes, two's complement if signed.
func intBytes(n *big.Int, size int, signed bool) ([]byte, error) {
	bits := uint(size * 8)
	lim := new(big.Int).Lsh(big.NewInt(1), bits)
	v := new(big.Int).Set(n)

	if signed {
		half := new(big.Int).Rsh(lim, 1)
		if v.Cmp(half) >= 0 || v.Cmp(new(big.Int).Neg(half)) < 0 {
			return nil, fmt.Errorf("%s out of range", n)
		}
		if v.Sign() < 0 {
			v.Add(v, lim)
		}
	} else if v.Sign() < 0 || v.Cmp(lim) >= 0 {
		return nil, fmt.Errorf("%s out of range", n)
	}

	be := v.FillBytes(make([]byte, size))
	for i, j := 0, len(be)-1; i < j; i, j = i+1, j-1 {
		be[i], be[j] = be[j], be[i]
	}
	return be, nil
}

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, errors.New("nil integer")
		}
		return n, nil
	case big.Int:
		return &n, nil
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	}
	return nil, fmt.Errorf("%T is not an integer", v)
}

func mismatch(t *TypeDef, v any) error {
	return fmt.Errorf("%w: %T does not fit %s %s", ErrSchema, v, t.Kind, t.Name())
}

// reader is a SCALE decoder that tracks how many bytes remain.
type reader struct {
	*scale.Decoder
	r *bytes.Reader
}

func newReader(data []byte) *reader {
	r := bytes.NewReader(data)
	return &reader{Decoder: scale.NewDecoder(r), r: r}
}

func (rd *reader) take(n int64) ([]byte, error) {
	if n < 0 || n > int64(rd.r.Len()) {
		return nil, fmt.Errorf("%w: need %d bytes, %d remain", ErrCodec, n, rd.r.Len())
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if err := rd.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	return buf, nil
}

func (rd *reader) length() (int64, error) {
	n, err := rd.DecodeUintCompact()
	if err != nil {
		return 0, fmt.Errorf("%w: length prefix: %w", ErrCodec, err)
	}
	if !n.IsInt64() || n.Int64() > int64(rd.r.Len()) {
		return 0, fmt.Errorf("%w: length %s exceeds remaining %d bytes", ErrCodec, n, rd.r.Len())
	}
	return n.Int64(), nil
}

func (r *Registry) decode(rd *reader, id uint32, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: type #%d nests too deeply", ErrSchema, id)
	}
	t, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case KindPrimitive:
		return decodePrimitive(rd, t)

	case KindCompact:
		n, err := rd.DecodeUintCompact()
		if err != nil {
			return nil, fmt.Errorf("%w: compact: %w", ErrCodec, err)
		}
		return n, nil

	case KindSequence, KindArray:
		var n int64
		if t.Kind == KindArray {
			n = int64(t.Len)
		} else if n, err = rd.length(); err != nil {
			return nil, err
		}
		if r.isByte(t.Elem) {
			return rd.take(n)
		}
		items := make([]any, 0, min(n, int64(rd.r.Len())))
		for i := int64(0); i < n; i++ {
			item, err := r.decode(rd, t.Elem, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil

	case KindTuple:
		out := make(Tuple, 0, len(t.Tuple))
		for _, elem := range t.Tuple {
			item, err := r.decode(rd, elem, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil

	case KindComposite:
		fields, err := r.decodeFields(rd, t.Fields, depth)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name(), err)
		}
		return &Composite{Name: t.Name(), Fields: fields}, nil

	case KindVariant:
		idx, err := rd.ReadOneByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %s discriminant: %w", ErrCodec, t.Name(), err)
		}
		arm, ok := t.variant(idx)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no variant %d", ErrCodec, t.Name(), idx)
		}
		fields, err := r.decodeFields(rd, arm.Fields, depth)
		if err != nil {
			return nil, fmt.Errorf("%s::%s: %w", t.Name(), arm.Name, err)
		}
		return &Variant{Name: arm.Name, Index: arm.Index, Fields: fields}, nil
	}
	return nil, fmt.Errorf("%w: cannot decode %s", ErrSchema, t.Kind)
}

func (r *Registry) decodeFields(rd *reader, defs []FieldDef, depth int) ([]Field, error) {
	fields := make([]Field, 0, len(defs))
	for _, d := range defs {
		v, err := r.decode(rd, d.Type, depth+1)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: d.Name, Value: v})
	}
	return fields, nil
}

func decodePrimitive(rd *reader, t *TypeDef) (any, error) {
	switch t.Primitive {
	case "bool":
		b, err := rd.take(1)
		if err != nil {
			return nil, err
		}
		switch b[0] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("%w: invalid bool byte %#x", ErrCodec, b[0])
	case "str":
		n, err := rd.length()
		if err != nil {
			return nil, err
		}
		b, err := rd.take(n)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("%w: str is not valid UTF-8", ErrCodec)
		}
		return string(b), nil
	case "char":
		b, err := rd.take(4)
		if err != nil {
			return nil, err
		}
		c := rune(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
		if !utf8.ValidRune(c) {
			return nil, fmt.Errorf("%w: invalid char %#x", ErrCodec, uint32(c))
		}
		return c, nil
	}

	size, ok := primitiveSizes[t.Primitive]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported primitive %q", ErrSchema, t.Primitive)
	}
	b, err := rd.take(int64(size))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	n := new(big.Int).SetBytes(b)
	if t.Primitive[0] == 'i' && b[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(size*8)))
	}
	return n, nil
}
