// Package storage persists biometric templates on disk, one file per
// identity and modality. Templates are encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/facegate/pkg/biometric"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ModalityFace is the only modality currently stored.
const ModalityFace = "face"

// ErrTemplateNotFound is returned when no template is stored for an identity.
var ErrTemplateNotFound = errors.New("template not found")

// ErrCorruptTemplate is returned when a stored file does not decode to a
// template of the expected length.
var ErrCorruptTemplate = errors.New("corrupt template file")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStorage stores templates as little-endian float32 vectors.
type FileStorage struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStorage creates a FileStorage rooted at dir.
func NewFileStorage(dir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create template directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information,
// tying the encrypted templates to this host and user.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facegate-templates-v1")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

// TemplatePath returns the file a template for identity is stored in.
// The readable prefix is lossy, so a short hash keeps names distinct.
func (fs *FileStorage) TemplatePath(identity, modality string) string {
	sum := sha256.Sum256([]byte(identity))
	name := fmt.Sprintf("%s_%s_%s.tpl", modality, sanitize(identity), hex.EncodeToString(sum[:4]))
	return filepath.Join(fs.dir, name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

// SaveTemplate writes tmpl for identity, replacing any previous template,
// and returns the file path.
func (fs *FileStorage) SaveTemplate(identity, modality string, tmpl biometric.Template) (string, error) {
	if len(tmpl) != biometric.Dimension {
		return "", fmt.Errorf("template has %d values, want %d", len(tmpl), biometric.Dimension)
	}

	data := encodeTemplate(tmpl)
	if fs.encryptionEnabled {
		var err error
		data, err = fs.encrypt(data)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt template: %w", err)
		}
	}

	path := fs.TemplatePath(identity, modality)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write template: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to replace template: %w", err)
	}

	logging.Component("storage").Debugf("Saved %s template for %s", modality, identity)
	return path, nil
}

// LoadTemplate reads the template stored for identity.
func (fs *FileStorage) LoadTemplate(identity, modality string) (biometric.Template, error) {
	return fs.LoadTemplateFile(fs.TemplatePath(identity, modality))
}

// LoadTemplateFile reads a template from an explicit path.
func (fs *FileStorage) LoadTemplateFile(path string) (biometric.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt template: %w", err)
		}
	}

	return decodeTemplate(data)
}

// DeleteTemplate removes the template stored for identity.
func (fs *FileStorage) DeleteTemplate(identity, modality string) error {
	if err := os.Remove(fs.TemplatePath(identity, modality)); err != nil {
		if os.IsNotExist(err) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("failed to delete template: %w", err)
	}

	logging.Component("storage").Infof("Deleted %s template for %s", modality, identity)
	return nil
}

// Exists reports whether a template is stored for identity.
func (fs *FileStorage) Exists(identity, modality string) bool {
	_, err := os.Stat(fs.TemplatePath(identity, modality))
	return err == nil
}

func encodeTemplate(tmpl biometric.Template) []byte {
	buf := make([]byte, 4*len(tmpl))
	for i, v := range tmpl {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeTemplate(data []byte) (biometric.Template, error) {
	if len(data) != 4*biometric.Dimension {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptTemplate, len(data))
	}
	tmpl := make(biometric.Template, biometric.Dimension)
	for i := range tmpl {
		tmpl[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return tmpl, nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
