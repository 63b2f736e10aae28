// Package aead implements the gateway's sole AEAD primitive: AES-256-GCM
// with a 96-bit nonce and 128-bit tag, and key-material normalization via
// HKDF. The stored blob layout is nonce(12) || tag(16) || ciphertext, per
// spec.md §6 — not Go's native Seal() output order, which appends the tag
// after the ciphertext, so Encrypt/Decrypt re-pack it at the boundary.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes (96 bits).
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes (128 bits).
	TagSize = 16
	// MinBlobSize is the smallest possible valid blob: nonce + tag with
	// zero-length ciphertext.
	MinBlobSize = NonceSize + TagSize
)

// NormalizeKey derives a 32-byte AES-256 key from arbitrary-length key
// material via HKDF-SHA256, so key stores that provision material of any
// length (a raw random blob, a password hash, a KMS-wrapped secret) always
// yield a key of the size AES-256-GCM requires. info binds the derived key
// to its purpose (the key version id), following HKDF's standard usage of
// an info parameter to produce distinct sub-keys from the same input
// keying material. This generalizes the original system's ad hoc SHA-256
// fold into a standard KDF.
func NormalizeKey(material []byte, info string) ([]byte, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("aead: key material must not be empty")
	}
	reader := hkdf.New(sha256.New, material, nil, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("aead: derive key: %w", err)
	}
	return key, nil
}

// Envelope holds the parsed components of an encrypted blob.
type Envelope struct {
	Nonce      [NonceSize]byte
	Tag        [TagSize]byte
	Ciphertext []byte
}

// Blob renders e as the wire layout nonce(12) || tag(16) || ciphertext.
func (e Envelope) Blob() []byte {
	out := make([]byte, 0, NonceSize+TagSize+len(e.Ciphertext))
	out = append(out, e.Nonce[:]...)
	out = append(out, e.Tag[:]...)
	out = append(out, e.Ciphertext...)
	return out
}

// ParseBlob splits a stored blob into its envelope components. It only
// validates the minimum length; callers perform checksum and nonce-match
// checks separately per spec.md §4.3's ordered integrity checks.
func ParseBlob(blob []byte) (Envelope, error) {
	if len(blob) < MinBlobSize {
		return Envelope{}, fmt.Errorf("aead: blob too short: %d bytes, need at least %d", len(blob), MinBlobSize)
	}
	var env Envelope
	copy(env.Nonce[:], blob[:NonceSize])
	copy(env.Tag[:], blob[NonceSize:NonceSize+TagSize])
	env.Ciphertext = blob[NonceSize+TagSize:]
	return env, nil
}

// Encrypt seals plaintext under key (which must be exactly KeySize bytes,
// typically produced by NormalizeKey) with a fresh random nonce and no
// associated data, returning the full nonce||tag||ciphertext blob.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("aead: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	env := Envelope{Ciphertext: ciphertext}
	copy(env.Nonce[:], nonce)
	copy(env.Tag[:], tag)
	return env.Blob(), nil
}

// Decrypt opens a nonce||tag||ciphertext blob produced by Encrypt. Any
// authentication failure (wrong key, or any bit of the blob tampered with)
// returns a generic error; callers must not distinguish its cause to the
// outside world, per spec.md §4.3.
func Decrypt(key, blob []byte) ([]byte, error) {
	env, err := ParseBlob(blob)
	if err != nil {
		return nil, err
	}
	return DecryptEnvelope(key, env)
}

// DecryptEnvelope opens an already-parsed Envelope, for callers that parse
// the blob themselves to run intermediate integrity checks (nonce-match,
// checksum) between parsing and decryption.
func DecryptEnvelope(key []byte, env Envelope) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag[:]...)

	plaintext, err := gcm.Open(nil, env.Nonce[:], sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("aead: authentication failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("aead: new gcm: %w", err)
	}
	return gcm, nil
}
