package security

import (
	"bytes"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrEmptyPassphrase is returned when a Sealer is built without a passphrase.
	ErrEmptyPassphrase = errors.New("security: passphrase must not be empty")
	// ErrSealedData is returned when sealed data is truncated, tampered with, or opened with the wrong passphrase.
	ErrSealedData = errors.New("security: sealed data cannot be opened")
)

var sealMagic = []byte("ES1\x00")

const (
	saltLen      = 16
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Sealer encrypts small secrets at rest with XChaCha20-Poly1305 under a key derived from a
// passphrase with Argon2id. Each Seal uses a fresh salt and nonce.
type Sealer struct {
	passphrase []byte
}

// NewSealer returns a Sealer for the given passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return &Sealer{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plaintext. Output layout: magic | salt | nonce | ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealMagic)+saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, sealMagic), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrSealedData
	}
	rest := sealed[len(sealMagic):]
	if len(rest) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, ErrSealedData
	}
	salt, rest := rest[:saltLen], rest[saltLen:]
	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, err
	}
	nonce, ct := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, sealMagic)
	if err != nil {
		return nil, ErrSealedData
	}
	return plain, nil
}

// IsSealed reports whether data starts with the sealed-data header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealMagic)
}

func (s *Sealer) key(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}
