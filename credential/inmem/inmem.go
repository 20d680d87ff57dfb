// Package inmem provides an in-memory credential.Store that keeps secret
// data AES-GCM encrypted at rest and decrypts only on Resolve. Suitable for
// tests and single-process deployments; durable backends live behind the
// same interface.
package inmem

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nervemind/nervemind/credential"
)

type (
	// Store implements credential.Store with per-record AES-GCM sealing.
	Store struct {
		mu      sync.RWMutex
		aead    cipher.AEAD
		records map[string]record
	}

	record struct {
		name   string
		typ    credential.Type
		sealed []byte
		nonce  []byte
	}
)

// New constructs a Store sealing secrets with the given 16, 24 or 32 byte
// AES key.
func New(key []byte) (*Store, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential store key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential store cipher: %w", err)
	}
	return &Store{aead: aead, records: make(map[string]record)}, nil
}

// Upsert encrypts and stores the credential's secret data keyed by ID.
func (s *Store) Upsert(_ context.Context, c credential.Credential) error {
	plain, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("encode credential %q: %w", c.ID, err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("seal credential %q: %w", c.ID, err)
	}
	sealed := s.aead.Seal(nil, nonce, plain, []byte(c.ID))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[c.ID] = record{name: c.Name, typ: c.Type, sealed: sealed, nonce: nonce}
	return nil
}

// Resolve decrypts and returns the credential for the given id.
func (s *Store) Resolve(_ context.Context, id string) (credential.Credential, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return credential.Credential{}, fmt.Errorf("%w: %q", credential.ErrNotFound, id)
	}
	plain, err := s.aead.Open(nil, rec.nonce, rec.sealed, []byte(id))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %q", credential.ErrDecrypt, id)
	}
	var data map[string]string
	if err := json.Unmarshal(plain, &data); err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %q", credential.ErrDecrypt, id)
	}
	return credential.Credential{ID: id, Name: rec.name, Type: rec.typ, Data: data}, nil
}

