package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// Prefix marks a value sealed by the vault. The version segment is bumped
// whenever the envelope layout changes.
const Prefix = "enc:v1:"

// EncryptedFlag is set on documents that carry at least one sealed field.
const EncryptedFlag = "_encrypted"

const (
	kindString = "s"
	kindJSON   = "j"

	keyIDLength   = 8
	derivedKeyLen = 32
	hkdfInfo      = "careguard-field-encryption-v1"
)

var (
	ErrEncryption = errors.New("encryption failed")
	ErrDecryption = errors.New("decryption failed")
	ErrWeakKey    = errors.New("encryption key does not meet strength requirements")
)

// DefaultSensitiveFields is the allow-list of document attributes that are
// sealed by EncryptFields.
var DefaultSensitiveFields = []string{
	"ssn",
	"socialSecurityNumber",
	"medicalRecordNumber",
	"insuranceNumber",
	"dateOfBirth",
	"phoneNumber",
	"address",
	"emergencyContact",
	"medications",
	"diagnosis",
	"medicalNotes",
	"bankAccount",
}

type key struct {
	aead cipher.AEAD
	id   string
}

// Vault seals and opens values with AES-256-GCM under a single active key.
type Vault struct {
	mu        sync.RWMutex
	active    *key
	sensitive map[string]struct{}
}

// Option configures a Vault.
type Option func(*Vault)

// WithSensitiveFields replaces the default field allow-list.
func WithSensitiveFields(fields ...string) Option {
	return func(v *Vault) {
		v.sensitive = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			v.sensitive[f] = struct{}{}
		}
	}
}

// New creates a vault from a secret that must pass ValidateKeyStrength.
func New(secret string, opts ...Option) (*Vault, error) {
	if err := ValidateKeyStrength(secret); err != nil {
		return nil, err
	}

	k, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	v := &Vault{active: k}
	WithSensitiveFields(DefaultSensitiveFields...)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// NewWithGeneratedKey creates a vault with a random key. Data sealed by it is
// lost on restart, so this is only acceptable outside production.
func NewWithGeneratedKey(logger *slog.Logger, opts ...Option) (*Vault, error) {
	secret, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	logger.Warn("ENCRYPTION KEY NOT CONFIGURED: using a generated key, encrypted data will not survive a restart",
		slog.String("key_id", keyID(secret)),
	)

	return New(secret, opts...)
}

func deriveKey(secret string) (*key, error) {
	derived := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("%w: key derivation: %v", ErrEncryption, err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	sum := sha256.Sum256(derived)
	return &key{aead: aead, id: hex.EncodeToString(sum[:])[:keyIDLength]}, nil
}

// keyID is only used for log correlation of generated keys.
func keyID(secret string) string {
	k, err := deriveKey(secret)
	if err != nil {
		return ""
	}
	return k.id
}

// KeyID returns the identifier embedded in ciphertexts sealed by the active key.
func (v *Vault) KeyID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active.id
}

// Encrypt seals data. Strings are sealed as-is; any other value is JSON
// encoded first.
func (v *Vault) Encrypt(data any) (string, error) {
	var (
		plaintext []byte
		kind      string
	)

	switch val := data.(type) {
	case string:
		plaintext, kind = []byte(val), kindString
	case []byte:
		plaintext, kind = val, kindString
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("%w: serialize: %v", ErrEncryption, err)
		}
		plaintext, kind = b, kindJSON
	}

	v.mu.RLock()
	k := v.active
	v.mu.RUnlock()

	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrEncryption, err)
	}

	header := Prefix + k.id + ":" + kind
	sealed := k.aead.Seal(nonce, nonce, plaintext, []byte(header))

	return header + ":" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. JSON payloads are decoded
// into generic values; if decoding fails the raw string is returned.
func (v *Vault) Decrypt(ciphertext string) (any, error) {
	plaintext, kind, err := v.open(ciphertext)
	if err != nil {
		return nil, err
	}

	if kind == kindString {
		return string(plaintext), nil
	}

	var out any
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return string(plaintext), nil
	}
	return out, nil
}

// DecryptInto opens a ciphertext and decodes it into dst.
func (v *Vault) DecryptInto(ciphertext string, dst any) error {
	plaintext, kind, err := v.open(ciphertext)
	if err != nil {
		return err
	}

	if kind == kindString {
		if s, ok := dst.(*string); ok {
			*s = string(plaintext)
			return nil
		}
	}

	if err := json.Unmarshal(plaintext, dst); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrDecryption, err)
	}
	return nil
}

func (v *Vault) open(ciphertext string) ([]byte, string, error) {
	if !IsEncrypted(ciphertext) {
		return nil, "", fmt.Errorf("%w: value is not a vault ciphertext", ErrDecryption)
	}

	parts := strings.SplitN(strings.TrimPrefix(ciphertext, Prefix), ":", 3)
	if len(parts) != 3 {
		return nil, "", fmt.Errorf("%w: malformed envelope", ErrDecryption)
	}
	id, kind, body := parts[0], parts[1], parts[2]

	if kind != kindString && kind != kindJSON {
		return nil, "", fmt.Errorf("%w: unknown payload kind %q", ErrDecryption, kind)
	}

	v.mu.RLock()
	k := v.active
	v.mu.RUnlock()

	if id != k.id {
		return nil, "", fmt.Errorf("%w: sealed under key %s, active key is %s", ErrDecryption, id, k.id)
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid encoding", ErrDecryption)
	}

	nonceSize := k.aead.NonceSize()
	if len(raw) < nonceSize+k.aead.Overhead() {
		return nil, "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	header := Prefix + id + ":" + kind
	plaintext, err := k.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], []byte(header))
	if err != nil {
		return nil, "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	return plaintext, kind, nil
}

// IsEncrypted reports whether value looks like a vault ciphertext. It only
// checks the envelope prefix; use Decrypt to authenticate it.
func IsEncrypted(value any) bool {
	s, ok := value.(string)
	return ok && strings.HasPrefix(s, Prefix)
}

// sealedByActiveKey reports whether value is a ciphertext that authenticates
// under the active key.
func (v *Vault) sealedByActiveKey(value any) bool {
	s, ok := value.(string)
	if !ok || !IsEncrypted(s) {
		return false
	}
	_, _, err := v.open(s)
	return err == nil
}

// IsSensitive reports whether a field name is on the allow-list.
func (v *Vault) IsSensitive(field string) bool {
	_, ok := v.sensitive[field]
	return ok
}

// EncryptFields returns a copy of doc with the named allow-listed fields
// sealed. Fields holding a ciphertext that opens under the active key are left
// untouched, so calling it twice yields the same document. Any other value,
// including a plain string that merely carries Prefix, is sealed.
func (v *Vault) EncryptFields(doc map[string]any, fields []string) (map[string]any, error) {
	out := copyDoc(doc)
	sealed := false

	for _, field := range fields {
		if !v.IsSensitive(field) {
			continue
		}
		val, ok := out[field]
		if !ok || val == nil {
			continue
		}
		if v.sealedByActiveKey(val) {
			sealed = true
			continue
		}

		ct, err := v.Encrypt(val)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		out[field] = ct
		sealed = true
	}

	if sealed {
		out[EncryptedFlag] = true
	}
	return out, nil
}

// DecryptFields returns a copy of doc with the named allow-listed fields
// opened. Plain values are passed through.
func (v *Vault) DecryptFields(doc map[string]any, fields []string) (map[string]any, error) {
	out := copyDoc(doc)

	for _, field := range fields {
		if !v.IsSensitive(field) {
			continue
		}
		val, ok := out[field].(string)
		if !ok || !IsEncrypted(val) {
			continue
		}

		pt, err := v.Decrypt(val)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		out[field] = pt
	}

	delete(out, EncryptedFlag)
	return out, nil
}

// SensitiveFields returns the allow-list.
func (v *Vault) SensitiveFields() []string {
	fields := make([]string, 0, len(v.sensitive))
	for f := range v.sensitive {
		fields = append(fields, f)
	}
	return fields
}

// RotateKey replaces the active key. Ciphertexts sealed under the previous
// key can no longer be opened.
func (v *Vault) RotateKey(secret string) error {
	if err := ValidateKeyStrength(secret); err != nil {
		return err
	}

	k, err := deriveKey(secret)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.active = k
	v.mu.Unlock()
	return nil
}

// Hash returns the hex SHA-256 digest of data. Strings are hashed as-is,
// other values through their JSON encoding.
func Hash(data any) string {
	var b []byte
	switch val := data.(type) {
	case string:
		b = []byte(val)
	case []byte:
		b = val
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			encoded = []byte(fmt.Sprint(val))
		}
		b = encoded
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Hash is a method alias so the vault can satisfy hashing interfaces.
func (v *Vault) Hash(data any) string {
	return Hash(data)
}

// GenerateSecureToken returns a random hex token of exactly length characters.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}

	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(b)[:length], nil
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
