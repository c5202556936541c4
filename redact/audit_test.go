package redact

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	const id = "0123456789abcdef0123456789abcdef"
	sealed, err := s.Seal(id, "jane@example.com")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("jane")) {
		t.Fatalf("plaintext visible in sealed box")
	}
	text, err := s.Open(id, sealed)
	if err != nil || text != "jane@example.com" {
		t.Fatalf("open = %q, %v", text, err)
	}

	other, _ := NewSealer([]byte("a different secret value"))
	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 1
	cases := map[string]func() (string, error){
		"wrong id":  func() (string, error) { return s.Open("fedcba9876543210fedcba9876543210", sealed) },
		"wrong key": func() (string, error) { return other.Open(id, sealed) },
		"truncated": func() (string, error) { return s.Open(id, sealed[:10]) },
		"bit flip":  func() (string, error) { return s.Open(id, flipped) },
	}
	for name, open := range cases {
		if _, err := open(); !errors.Is(err, ErrAuditOpen) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestSealerKeyLength(t *testing.T) {
	if _, err := NewSealer([]byte("short")); !errors.Is(err, ErrAuditKey) {
		t.Fatalf("err = %v", err)
	}
}
