// Package sessioncrypto implements the hybrid scheme protecting session data:
// a random AES-256 key per session, wrapped under the server's RSA key with
// OAEP, and AES-256-CBC with PKCS#7 padding for the payload.
package sessioncrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

const (
	// SymmetricKeySize is the AES-256 key length in bytes.
	SymmetricKeySize = 32
	// IVSize is the CBC initialization vector length.
	IVSize = aes.BlockSize
	// DefaultRSABits is the server key size.
	DefaultRSABits = 2048
)

var (
	// ErrUnwrap is returned when a wrapped key cannot be recovered.
	ErrUnwrap = errors.New("key unwrap failed")
	// ErrDecrypt is returned for malformed ciphertext, a wrong key or bad padding.
	ErrDecrypt = errors.New("decryption failed")
	// ErrKeyGenUnavailable is returned when the engine has no key pair.
	ErrKeyGenUnavailable = errors.New("server key pair unavailable")
)

// randReader is the entropy source; tests may replace it.
var randReader io.Reader = rand.Reader

// GenerateSymmetricKey returns a fresh 32-byte session key.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}

// WrapKey encrypts key under pub using RSA-OAEP with SHA-256 for both the
// hash and MGF1 and an empty label.
func WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	if pub == nil {
		return nil, ErrKeyGenUnavailable
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), randReader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap key: %w", err)
	}
	return ct, nil
}

// UnwrapKey recovers a key wrapped by WrapKey.
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrKeyGenUnavailable
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	return key, nil
}

// Encrypt returns iv || AES-256-CBC(pkcs7(plaintext)) with a fresh random IV.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("encrypt: key must be %d bytes, got %d", SymmetricKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, IVSize+len(padded))
	iv := out[:IVSize]
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return nil, fmt.Errorf("encrypt: generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)
	return out, nil
}

// Decrypt reverses Encrypt.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrDecrypt, SymmetricKeySize)
	}
	if len(blob) < IVSize+aes.BlockSize || (len(blob)-IVSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(blob))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	plain := make([]byte, len(blob)-IVSize)
	cipher.NewCBCDecrypter(block, blob[:IVSize]).CryptBlocks(plain, blob[IVSize:])

	out, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	want := bytes.Repeat([]byte{byte(n)}, n)
	if subtle.ConstantTimeCompare(data[len(data)-n:], want) != 1 {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	return data[:len(data)-n], nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
