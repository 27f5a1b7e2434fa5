package ham

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/agentnetio/agentnet/types"
)

// KeyProvider supplies the symmetric key protecting stored records. Key
// provisioning and rotation live outside this package; the store only ever
// asks for the current key.
type KeyProvider interface {
	Key() ([]byte, error)
}

// StaticKey is a KeyProvider returning a fixed key. The key must be 16, 24
// or 32 bytes (AES-128/192/256).
type StaticKey []byte

// Key implements KeyProvider.
func (k StaticKey) Key() ([]byte, error) {
	switch len(k) {
	case 16, 24, 32:
		return k, nil
	}
	return nil, types.NewStorageError("invalid key length", nil)
}

// encrypt seals plaintext with AES-GCM, prefixing the random nonce.
func encrypt(provider KeyProvider, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(provider)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, types.NewStorageError("nonce generation failed", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens a blob produced by encrypt. Tampered or wrong-key blobs fail
// authentication and surface as storage errors.
func decrypt(provider KeyProvider, blob []byte) ([]byte, error) {
	aead, err := newAEAD(provider)
	if err != nil {
		return nil, err
	}

	if len(blob) < aead.NonceSize() {
		return nil, types.NewStorageError("encrypted blob too short", nil)
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, types.NewStorageError("decryption failed", err)
	}
	return plaintext, nil
}

func newAEAD(provider KeyProvider) (cipher.AEAD, error) {
	key, err := provider.Key()
	if err != nil {
		return nil, types.NewStorageError("key unavailable", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, types.NewStorageError("cipher init failed", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, types.NewStorageError("aead init failed", err)
	}
	return aead, nil
}
