package fonts

import (
	"errors"
	"io"
	"unicode/utf16"

	"github.com/wudi/pdfredact/scanner"
)

// CMap maps character codes to Unicode text, as read from a ToUnicode stream.
type CMap struct {
	entries map[codeKey]string
	// maxBytes is the widest code seen in the codespace or mappings.
	maxBytes int
}

type codeKey struct {
	code  int
	bytes int
}

// Lookup returns the text for a code of the given byte length.
func (c *CMap) Lookup(code, nbytes int) (string, bool) {
	if c == nil {
		return "", false
	}
	s, ok := c.entries[codeKey{code, nbytes}]
	return s, ok
}

func (c *CMap) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// ParseCMap reads bfchar and bfrange sections. Unknown operators are skipped.
func ParseCMap(data []byte) (*CMap, error) {
	cm := &CMap{entries: make(map[codeKey]string)}
	s := scanner.New(data, scanner.Config{DisableRefs: true})
	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if tok.Type != scanner.TokenKeyword {
			continue
		}
		switch tok.Str {
		case "beginbfchar":
			if err := cm.readBFChar(s); err != nil {
				return nil, err
			}
		case "beginbfrange":
			if err := cm.readBFRange(s); err != nil {
				return nil, err
			}
		case "begincodespacerange":
			for {
				t, err := s.Next()
				if err != nil {
					return nil, err
				}
				if t.Type == scanner.TokenKeyword && t.Str == "endcodespacerange" {
					break
				}
				if t.Type == scanner.TokenString && len(t.Bytes) > cm.maxBytes {
					cm.maxBytes = len(t.Bytes)
				}
			}
		}
	}
	if cm.maxBytes == 0 {
		cm.maxBytes = 1
	}
	return cm, nil
}

func (c *CMap) readBFChar(s scanner.Scanner) error {
	for {
		src, err := s.Next()
		if err != nil {
			return err
		}
		if src.Type == scanner.TokenKeyword && src.Str == "endbfchar" {
			return nil
		}
		dst, err := s.Next()
		if err != nil {
			return err
		}
		if src.Type != scanner.TokenString || dst.Type != scanner.TokenString {
			continue
		}
		c.put(bytesToCode(src.Bytes), len(src.Bytes), decodeUTF16(dst.Bytes))
	}
}

func (c *CMap) readBFRange(s scanner.Scanner) error {
	for {
		lo, err := s.Next()
		if err != nil {
			return err
		}
		if lo.Type == scanner.TokenKeyword && lo.Str == "endbfrange" {
			return nil
		}
		hi, err := s.Next()
		if err != nil {
			return err
		}
		dst, err := s.Next()
		if err != nil {
			return err
		}
		if lo.Type != scanner.TokenString || hi.Type != scanner.TokenString {
			continue
		}
		n := len(lo.Bytes)
		start, end := bytesToCode(lo.Bytes), bytesToCode(hi.Bytes)
		if end < start || end-start > 0xFFFF {
			continue
		}
		switch dst.Type {
		case scanner.TokenString:
			base := append([]byte(nil), dst.Bytes...)
			for code := start; code <= end; code++ {
				c.put(code, n, decodeUTF16(base))
				incrementLast(base)
			}
		case scanner.TokenArray:
			for code := start; ; code++ {
				item, err := s.Next()
				if err != nil {
					return err
				}
				if item.Type == scanner.TokenKeyword && item.Str == "]" {
					break
				}
				if item.Type == scanner.TokenString && code <= end {
					c.put(code, n, decodeUTF16(item.Bytes))
				}
			}
		}
	}
}

func (c *CMap) put(code, nbytes int, text string) {
	c.entries[codeKey{code, nbytes}] = text
	if nbytes > c.maxBytes {
		c.maxBytes = nbytes
	}
}

func bytesToCode(b []byte) int {
	code := 0
	for _, v := range b {
		code = code<<8 | int(v)
	}
	return code
}

// incrementLast adds one to the final UTF-16 code unit of a big-endian sequence.
func incrementLast(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

func decodeUTF16(b []byte) string {
	if len(b)%2 == 1 {
		return string(b)
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(units))
}
