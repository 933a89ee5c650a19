package sessioncrypto

import (
	"crypto/rsa"
	"fmt"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

// KeyPair is the server's RSA key pair. It is held only in memory.
type KeyPair struct {
	private *rsa.PrivateKey
}

// GenerateKeyPair creates a new RSA key pair of the given size.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	priv, err := rsa.GenerateKey(randReader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// NewKeyPair wraps an existing private key, typically a fixed key in tests.
func NewKeyPair(priv *rsa.PrivateKey) *KeyPair {
	return &KeyPair{private: priv}
}

// Public returns the public half.
func (k *KeyPair) Public() *rsa.PublicKey {
	return &k.private.PublicKey
}

// Options controls engine failure behaviour.
type Options struct {
	KeyBits int
	// AllowPassthrough makes failing operations return their input unchanged
	// instead of an error. Each passthrough is logged as a warning.
	AllowPassthrough bool
}

// Engine performs wrap, unwrap and payload encryption with one key pair.
// An engine without a key pair is degraded: wrap and unwrap fail with
// ErrKeyGenUnavailable unless passthrough is allowed.
type Engine struct {
	keys        *KeyPair
	passthrough bool
}

// NewEngine creates an engine around keys. A nil keys yields a degraded engine.
func NewEngine(keys *KeyPair, opts Options) *Engine {
	return &Engine{keys: keys, passthrough: opts.AllowPassthrough}
}

// Start generates the server key pair and returns an engine. Generation
// failure does not abort startup; the engine comes up degraded.
func Start(opts Options) *Engine {
	log := logging.Component("sessioncrypto")
	keys, err := GenerateKeyPair(opts.KeyBits)
	if err != nil {
		log.WithError(err).WithField("passthrough", opts.AllowPassthrough).
			Error("Server key generation failed, session crypto is degraded")
		return NewEngine(nil, opts)
	}
	log.Infof("Server key pair ready (%d bits)", keys.private.N.BitLen())
	return NewEngine(keys, opts)
}

// Degraded reports whether the engine runs without a key pair.
func (e *Engine) Degraded() bool {
	return e.keys == nil
}

// PublicKey returns the server public key, or nil when degraded.
func (e *Engine) PublicKey() *rsa.PublicKey {
	if e.keys == nil {
		return nil
	}
	return e.keys.Public()
}

func (e *Engine) fallback(op string, input []byte, err error) ([]byte, error) {
	if !e.passthrough {
		return nil, err
	}
	logging.Component("sessioncrypto").WithError(err).
		WithField("passthrough", true).
		Warnf("%s failed, returning input unchanged", op)
	return append([]byte(nil), input...), nil
}

// Wrap encrypts a session key under the server public key.
func (e *Engine) Wrap(key []byte) ([]byte, error) {
	if e.keys == nil {
		return e.fallback("wrap", key, ErrKeyGenUnavailable)
	}
	out, err := WrapKey(e.keys.Public(), key)
	if err != nil {
		return e.fallback("wrap", key, err)
	}
	return out, nil
}

// Unwrap recovers a session key wrapped by Wrap.
func (e *Engine) Unwrap(wrapped []byte) ([]byte, error) {
	if e.keys == nil {
		return e.fallback("unwrap", wrapped, ErrKeyGenUnavailable)
	}
	out, err := UnwrapKey(e.keys.private, wrapped)
	if err != nil {
		return e.fallback("unwrap", wrapped, err)
	}
	return out, nil
}

// Encrypt encrypts plaintext under a session key.
func (e *Engine) Encrypt(key, plaintext []byte) ([]byte, error) {
	out, err := Encrypt(key, plaintext)
	if err != nil {
		return e.fallback("encrypt", plaintext, err)
	}
	return out, nil
}

// Decrypt decrypts a blob produced by Encrypt.
func (e *Engine) Decrypt(key, blob []byte) ([]byte, error) {
	out, err := Decrypt(key, blob)
	if err != nil {
		return e.fallback("decrypt", blob, err)
	}
	return out, nil
}

// MintSessionKey generates a session key and returns only its wrapped form.
// The plaintext key is zeroed before returning.
func (e *Engine) MintSessionKey() ([]byte, error) {
	key, err := GenerateSymmetricKey()
	if err != nil {
		return nil, err
	}
	defer Zero(key)
	return e.Wrap(key)
}

// Seal unwraps the session key and encrypts plaintext with it.
func (e *Engine) Seal(wrapped, plaintext []byte) ([]byte, error) {
	key, err := e.Unwrap(wrapped)
	if err != nil {
		return nil, err
	}
	defer Zero(key)
	return e.Encrypt(key, plaintext)
}

// Open unwraps the session key and decrypts blob with it.
func (e *Engine) Open(wrapped, blob []byte) ([]byte, error) {
	key, err := e.Unwrap(wrapped)
	if err != nil {
		return nil, err
	}
	defer Zero(key)
	return e.Decrypt(key, blob)
}
