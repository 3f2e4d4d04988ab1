package contract

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Format renders a decoded value the way it would be written in a contract's source
// language, e.g. Ok(3), "text" or ProductStatus { status: 1 }.
func Format(v any) string {
	var sb strings.Builder
	format(&sb, v)
	return sb.String()
}

func format(sb *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("()")
	case string:
		sb.WriteString(strconv.Quote(x))
	case rune:
		sb.WriteString(strconv.QuoteRune(x))
	case bool:
		sb.WriteString(strconv.FormatBool(x))
	case *big.Int:
		sb.WriteString(x.String())
	case []byte:
		sb.WriteString(hexutil.Encode(x))
	case Tuple:
		sb.WriteByte('(')
		formatList(sb, x)
		sb.WriteByte(')')
	case []any:
		sb.WriteByte('[')
		formatList(sb, x)
		sb.WriteByte(']')
	case *Composite:
		formatFields(sb, x.Name, x.Fields)
	case *Variant:
		formatFields(sb, x.Name, x.Fields)
	default:
		fmt.Fprint(sb, x)
	}
}

func formatList(sb *strings.Builder, items []any) {
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		format(sb, item)
	}
}

func formatFields(sb *strings.Builder, name string, fields []Field) {
	sb.WriteString(name)
	if len(fields) == 0 {
		return
	}

	if fields[0].Name == "" {
		sb.WriteByte('(')
		for i, f := range fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, f.Value)
		}
		sb.WriteByte(')')
		return
	}

	if name != "" {
		sb.WriteByte(' ')
	}
	sb.WriteString("{ ")
	for i, f := range fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		format(sb, f.Value)
	}
	sb.WriteString(" }")
}
