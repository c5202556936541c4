package contentstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
	"github.com/wudi/pdfredact/writer"
)

// Operation is one operator with its operands. Inline images (BI) carry their
// parameter dictionary as the only operand and the sample bytes in Data.
type Operation struct {
	Operator string
	Operands []raw.Object
	Data     []byte
}

// Op builds an operation.
func Op(operator string, operands ...raw.Object) Operation {
	return Operation{Operator: operator, Operands: operands}
}

// Nums converts numbers into operands.
func Nums(vals ...float64) []raw.Object {
	out := make([]raw.Object, len(vals))
	for i, v := range vals {
		out[i] = raw.NumberOf(v)
	}
	return out
}

// Number returns operand i as a number, or 0.
func (o Operation) Number(i int) float64 {
	if i < 0 || i >= len(o.Operands) {
		return 0
	}
	v, _ := raw.AsNumber(o.Operands[i])
	return v
}

// Name returns operand i as a name.
func (o Operation) Name(i int) (string, bool) {
	if i < 0 || i >= len(o.Operands) {
		return "", false
	}
	return raw.AsName(o.Operands[i])
}

var ErrUnbalanced = errors.New("unbalanced delimiter in content stream")

// Parse tokenizes a content stream into operations. Operands left without an operator
// at the end of the stream are dropped.
func Parse(data []byte) ([]Operation, error) {
	tr := raw.NewTokenReader(scanner.New(data, scanner.Config{DisableRefs: true}))
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return ops, nil
		}
		if err != nil {
			return ops, fmt.Errorf("content stream: %w", err)
		}
		if tok.Type != scanner.TokenKeyword {
			tr.Unread(tok)
			obj, err := raw.ReadObject(tr)
			if err != nil {
				return ops, fmt.Errorf("content stream operand at %d: %w", tok.Pos, err)
			}
			operands = append(operands, obj)
			continue
		}
		switch tok.Str {
		case "]", ">>", ">", "}":
			return ops, fmt.Errorf("%w: %q at %d", ErrUnbalanced, tok.Str, tok.Pos)
		case "{":
			continue
		case "BI":
			op, err := readInlineImage(tr)
			if err != nil {
				return ops, err
			}
			ops = append(ops, op)
		default:
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
		}
		operands = nil
	}
}

func readInlineImage(tr *raw.TokenReader) (Operation, error) {
	dict := raw.Dict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return Operation{}, fmt.Errorf("inline image: %w", err)
		}
		switch tok.Type {
		case scanner.TokenInlineImage:
			return Operation{Operator: "BI", Operands: []raw.Object{dict}, Data: tok.Bytes}, nil
		case scanner.TokenName:
			val, err := raw.ReadObject(tr)
			if err != nil {
				return Operation{}, fmt.Errorf("inline image /%s: %w", tok.Str, err)
			}
			dict.Put(tok.Str, val)
		default:
			return Operation{}, fmt.Errorf("inline image: unexpected %s token at %d", tok.Type, tok.Pos)
		}
	}
}

// Serialize writes operations back as content stream syntax, one per line.
func Serialize(ops []Operation) []byte {
	var out []byte
	for _, op := range ops {
		out = AppendOperation(out, op)
		out = append(out, '\n')
	}
	return out
}

func AppendOperation(dst []byte, op Operation) []byte {
	if op.Operator == "BI" {
		dst = append(dst, "BI"...)
		if len(op.Operands) == 1 {
			if dict, ok := op.Operands[0].(*raw.DictObj); ok {
				for _, k := range dict.SortedKeys() {
					dst = append(dst, " /"...)
					dst = append(dst, writer.EscapeName(k)...)
					dst = append(dst, ' ')
					dst = writer.AppendObject(dst, dict.KV[k])
				}
			}
		}
		dst = append(dst, " ID "...)
		dst = append(dst, op.Data...)
		return append(dst, "\nEI"...)
	}
	for _, operand := range op.Operands {
		dst = writer.AppendObject(dst, operand)
		dst = append(dst, ' ')
	}
	return append(dst, op.Operator...)
}
