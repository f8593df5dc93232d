package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Envelope is the self-describing ciphertext shape persisted as a secret value.
// All fields are base64 (std encoding).
type Envelope struct {
	IV            string `json:"iv"`
	EncryptedData string `json:"encryptedData"`
	AuthTag       string `json:"authTag"`
}

// ErrDecryptionFailed is returned when the auth tag does not verify or the
// envelope fields cannot be decoded. Callers must treat it as fail-closed:
// no partial plaintext is ever returned alongside it.
var ErrDecryptionFailed = errors.New("decryption failed")

const (
	keySize      = 32 // AES-256
	pbkdf2Rounds = 210_000
)

// Service performs authenticated encryption of secret values with a
// process-wide key. Construct once at startup and pass by handle; the key
// is never mutated after construction.
type Service struct {
	aead cipher.AEAD
}

// New creates a Service from raw key material. The key must be exactly 32 bytes.
func New(key []byte) (*Service, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Service{aead: aead}, nil
}

// NewFromPassphrase derives a 32-byte key from a passphrase and salt via
// PBKDF2-SHA256 and constructs a Service from it.
func NewFromPassphrase(passphrase, salt string) (*Service, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("cipher: empty passphrase")
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Rounds, keySize, sha256.New)
	return New(key)
}

// Encrypt seals plaintext under a fresh random IV and returns the envelope.
func (s *Service) Encrypt(plaintext string) (Envelope, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, err
	}
	sealed := s.aead.Seal(nil, iv, []byte(plaintext), nil)
	// GCM appends the tag to the ciphertext; split so the envelope stays
	// self-describing for other consumers.
	tagSize := s.aead.Overhead()
	data, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return Envelope{
		IV:            base64.StdEncoding.EncodeToString(iv),
		EncryptedData: base64.StdEncoding.EncodeToString(data),
		AuthTag:       base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// EncryptToString seals plaintext and returns the envelope serialized as JSON,
// ready to persist as a secret value.
func (s *Service) EncryptToString(plaintext string) (string, error) {
	env, err := s.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decrypt opens an envelope. Any tampering with IV, ciphertext or tag yields
// ErrDecryptionFailed, never garbage plaintext.
func (s *Service) Decrypt(env Envelope) (string, error) {
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	data, err := base64.StdEncoding.DecodeString(env.EncryptedData)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(iv) != s.aead.NonceSize() || len(tag) != s.aead.Overhead() {
		return "", ErrDecryptionFailed
	}
	plaintext, err := s.aead.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// DecodeValue interprets a stored secret value. Valid envelope JSON is
// decrypted; anything else is treated as a legacy plaintext value and
// returned unchanged (pre-encryption rows are still readable).
func (s *Service) DecodeValue(raw string) (string, error) {
	env, ok := ParseEnvelope(raw)
	if !ok {
		return raw, nil
	}
	return s.Decrypt(env)
}

// ParseEnvelope reports whether raw is a serialized envelope and returns it.
func ParseEnvelope(raw string) (Envelope, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Envelope{}, false
	}
	// EncryptedData may legitimately be empty (empty plaintext); the IV and
	// tag are always present on an encrypted value.
	if env.IV == "" || env.AuthTag == "" {
		return Envelope{}, false
	}
	return env, true
}
