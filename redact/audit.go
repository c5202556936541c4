package redact

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// AuditMode controls whether covered text travels with the overlay.
type AuditMode string

const (
	// AuditOmit writes no text into overlay metadata.
	AuditOmit AuditMode = "omit"
	// AuditSealed stores the text encrypted under a key derived from a secret.
	AuditSealed AuditMode = "sealed"
)

var (
	ErrAuditKey    = errors.New("audit secret must be at least 16 bytes")
	ErrAuditOpen   = errors.New("audit text cannot be opened")
	auditKeyInfo   = []byte("pdfredact audit v1")
	auditNonceSize = 24
)

// Sealer encrypts audit text with NaCl secretbox. Each overlay id gets its own
// key, so a sealed box only opens for the overlay it was written for.
type Sealer struct {
	secret []byte
}

func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < 16 {
		return nil, ErrAuditKey
	}
	return &Sealer{secret: append([]byte(nil), secret...)}, nil
}

func (s *Sealer) key(id string) (*[32]byte, error) {
	var key [32]byte
	r := hkdf.New(sha256.New, s.secret, []byte(id), auditKeyInfo)
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, fmt.Errorf("derive audit key: %w", err)
	}
	return &key, nil
}

// Seal returns nonce||box.
func (s *Sealer) Seal(id, text string) ([]byte, error) {
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], []byte(text), &nonce, key), nil
}

func (s *Sealer) Open(id string, sealed []byte) (string, error) {
	if len(sealed) < auditNonceSize+secretbox.Overhead {
		return "", ErrAuditOpen
	}
	key, err := s.key(id)
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:auditNonceSize])
	out, ok := secretbox.Open(nil, sealed[auditNonceSize:], &nonce, key)
	if !ok {
		return "", ErrAuditOpen
	}
	return string(out), nil
}
