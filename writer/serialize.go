package writer

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/wudi/pdfredact/ir/raw"
)

func writeObject(w io.Writer, obj raw.Object) error {
	_, err := w.Write(AppendObject(nil, obj))
	return err
}

// AppendObject appends the PDF syntax for obj to dst. Streams emit their dictionary with
// a corrected /Length followed by the payload.
func AppendObject(dst []byte, obj raw.Object) []byte {
	switch v := obj.(type) {
	case nil:
		return append(dst, "null"...)
	case raw.NameObj:
		return append(append(dst, '/'), EscapeName(v.Val)...)
	case raw.NumberObj:
		if v.IsInteger() {
			return strconv.AppendInt(dst, v.Int(), 10)
		}
		return append(dst, FormatNumber(v.Float())...)
	case raw.BoolObj:
		return strconv.AppendBool(dst, v.V)
	case raw.NullObj:
		return append(dst, "null"...)
	case raw.StringObj:
		if v.Hex {
			return append(dst, fmt.Sprintf("<%X>", v.Bytes)...)
		}
		return append(dst, EscapeLiteralString(v.Bytes)...)
	case raw.RefObj:
		return append(dst, fmt.Sprintf("%d %d R", v.R.Num, v.R.Gen)...)
	case *raw.ArrayObj:
		dst = append(dst, '[')
		for i, item := range v.Items {
			if i > 0 {
				dst = append(dst, ' ')
			}
			dst = AppendObject(dst, item)
		}
		return append(dst, ']')
	case *raw.DictObj:
		dst = append(dst, "<<"...)
		for _, k := range v.SortedKeys() {
			dst = append(append(dst, '/'), EscapeName(k)...)
			dst = append(dst, ' ')
			dst = AppendObject(dst, v.KV[k])
		}
		return append(dst, ">>"...)
	case *raw.StreamObj:
		dict := raw.Dict()
		if v.Dict != nil {
			dict = raw.Clone(v.Dict).(*raw.DictObj)
		}
		dict.Put("Length", raw.NumberInt(int64(len(v.Data))))
		dst = AppendObject(dst, dict)
		dst = append(dst, "\nstream\n"...)
		dst = append(dst, v.Data...)
		return append(dst, "\nendstream"...)
	}
	return append(dst, "null"...)
}

// FormatNumber prints a real with at most five decimals and no trailing zeros.
func FormatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strconv.FormatFloat(f, 'f', 5, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

func EscapeLiteralString(b []byte) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, ch := range b {
		switch ch {
		case '\\', '(', ')':
			sb.WriteByte('\\')
			sb.WriteByte(ch)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&sb, "\\%03o", ch)
			} else {
				sb.WriteByte(ch)
			}
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// EscapeName encodes delimiters and non-regular bytes of a name as #XX.
func EscapeName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch > 0x20 && ch < 0x7F && !strings.ContainsRune("#/()<>[]{}%", rune(ch)) {
			sb.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&sb, "#%02X", ch)
	}
	return sb.String()
}
