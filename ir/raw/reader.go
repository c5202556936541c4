package raw

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfredact/scanner"
)

// MaxNesting bounds array/dictionary nesting while reading objects.
const MaxNesting = 256

var errNesting = errors.New("object nesting too deep")

// TokenReader wraps a scanner with push-back.
type TokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func NewTokenReader(s scanner.Scanner) *TokenReader { return &TokenReader{s: s} }

func (tr *TokenReader) Next() (scanner.Token, error) {
	if n := len(tr.buf); n > 0 {
		tok := tr.buf[n-1]
		tr.buf = tr.buf[:n-1]
		return tok, nil
	}
	return tr.s.Next()
}

func (tr *TokenReader) Unread(tok scanner.Token) { tr.buf = append(tr.buf, tok) }

// Scanner exposes the underlying scanner. Pending pushed-back tokens are discarded.
func (tr *TokenReader) Scanner() scanner.Scanner {
	tr.buf = tr.buf[:0]
	return tr.s
}

// ReadObject parses one direct object. Stream payloads are not handled here; callers
// check for a following TokenStream themselves.
func ReadObject(tr *TokenReader) (Object, error) {
	return readObject(tr, 0)
}

func readObject(tr *TokenReader, depth int) (Object, error) {
	if depth > MaxNesting {
		return nil, errNesting
	}
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	return objectFromToken(tr, tok, depth)
}

func objectFromToken(tr *TokenReader, tok scanner.Token, depth int) (Object, error) {
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberInt(tok.Int), nil
		}
		return NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: append([]byte(nil), tok.Bytes...), Hex: tok.Hex}, nil
	case scanner.TokenRef:
		return Ref(tok.RefNum, tok.RefGen), nil
	case scanner.TokenArray:
		return readArray(tr, depth+1)
	case scanner.TokenDict:
		return readDict(tr, depth+1)
	}
	return nil, fmt.Errorf("unexpected %s token %q at %d", tok.Type, tok.Str, tok.Pos)
}

func readArray(tr *TokenReader, depth int) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		item, err := objectFromToken(tr, tok, depth)
		if err != nil {
			return nil, err
		}
		arr.Items = append(arr.Items, item)
	}
}

func readDict(tr *TokenReader, depth int) (Object, error) {
	dict := Dict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("dictionary key must be a name, got %s at %d", tok.Type, tok.Pos)
		}
		val, err := readObject(tr, depth)
		if err != nil {
			return nil, err
		}
		// A null value is equivalent to an absent entry.
		if _, isNull := val.(NullObj); isNull {
			continue
		}
		dict.KV[tok.Str] = val
	}
}
