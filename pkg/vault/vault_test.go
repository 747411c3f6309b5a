package vault

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "Xk9#mPq2$vLr8@nWt5&hJs3!cBd7*fGz"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testKey)
	require.NoError(t, err)
	return v
}

// ============================================================================
// Round trip
// ============================================================================

func TestVault_EncryptDecrypt_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	tests := []struct {
		name  string
		input any
		want  any
	}{
		{name: "plain string", input: "123-45-6789", want: "123-45-6789"},
		{name: "numeric looking string stays a string", input: "42", want: "42"},
		{name: "empty string", input: "", want: ""},
		{name: "number", input: 42, want: float64(42)},
		{name: "bool", input: true, want: true},
		{name: "object", input: map[string]any{"name": "Ada", "age": 81}, want: map[string]any{"name": "Ada", "age": float64(81)}},
		{name: "list", input: []string{"aspirin", "metformin"}, want: []any{"aspirin", "metformin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := v.Encrypt(tt.input)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(ct, Prefix+v.KeyID()+":"))

			got, err := v.Decrypt(ct)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVault_Encrypt_UsesFreshNonce(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt("same")
	require.NoError(t, err)
	b, err := v.Encrypt("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVault_DecryptInto(t *testing.T) {
	v := newTestVault(t)

	type contact struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}

	ct, err := v.Encrypt(contact{Name: "Grace", Phone: "555-0100"})
	require.NoError(t, err)

	var got contact
	require.NoError(t, v.DecryptInto(ct, &got))
	assert.Equal(t, contact{Name: "Grace", Phone: "555-0100"}, got)

	ct, err = v.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	var secret string
	require.NoError(t, v.DecryptInto(ct, &secret))
	assert.Equal(t, "JBSWY3DPEHPK3PXP", secret)
}

// ============================================================================
// Decryption failures
// ============================================================================

func TestVault_Decrypt_TamperedCiphertext(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Encrypt("sensitive")
	require.NoError(t, err)

	pos := len(ct) - 10
	replacement := byte('A')
	if ct[pos] == 'A' {
		replacement = 'B'
	}
	tampered := ct[:pos] + string(replacement) + ct[pos+1:]

	_, err = v.Decrypt(tampered)
	assert.True(t, errors.Is(err, ErrDecryption))
}

func TestVault_Decrypt_TamperedHeader(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Encrypt(map[string]any{"a": 1})
	require.NoError(t, err)

	swapped := strings.Replace(ct, ":j:", ":s:", 1)
	_, err = v.Decrypt(swapped)
	assert.True(t, errors.Is(err, ErrDecryption))
}

func TestVault_Decrypt_WrongKey(t *testing.T) {
	v := newTestVault(t)
	other, err := New("Q7!pRt4@zXc9#vBn2$mLk6&hGf3*dSa0")
	require.NoError(t, err)

	ct, err := v.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(ct)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryption))
	assert.Contains(t, err.Error(), "sealed under key")
}

func TestVault_Decrypt_Malformed(t *testing.T) {
	v := newTestVault(t)

	inputs := []string{
		"",
		"plain text",
		Prefix,
		Prefix + v.KeyID(),
		Prefix + v.KeyID() + ":x:AAAA",
		Prefix + v.KeyID() + ":s:!!!not-base64!!!",
		Prefix + v.KeyID() + ":s:AAAA",
	}

	for _, in := range inputs {
		_, err := v.Decrypt(in)
		assert.True(t, errors.Is(err, ErrDecryption), "input %q", in)
	}
}

func TestVault_RotateKey_InvalidatesOldCiphertext(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Encrypt("before rotation")
	require.NoError(t, err)

	oldID := v.KeyID()
	require.NoError(t, v.RotateKey("Zr5$wQ8!kLm2@pXv7#nTb4&jHc9*gFdY"))
	assert.NotEqual(t, oldID, v.KeyID())

	_, err = v.Decrypt(ct)
	assert.True(t, errors.Is(err, ErrDecryption))

	assert.True(t, errors.Is(v.RotateKey("short"), ErrWeakKey))
}

// ============================================================================
// Field encryption
// ============================================================================

func TestVault_EncryptFields_OnlyAllowList(t *testing.T) {
	v := newTestVault(t)

	doc := map[string]any{
		"name":        "Edith",
		"ssn":         "123-45-6789",
		"dateOfBirth": "1938-04-02",
	}

	out, err := v.EncryptFields(doc, []string{"ssn", "name"})
	require.NoError(t, err)

	assert.Equal(t, "Edith", out["name"])
	assert.True(t, IsEncrypted(out["ssn"]))
	assert.Equal(t, "1938-04-02", out["dateOfBirth"])
	assert.Equal(t, true, out[EncryptedFlag])

	// input is not mutated
	assert.Equal(t, "123-45-6789", doc["ssn"])
	_, flagged := doc[EncryptedFlag]
	assert.False(t, flagged)
}

func TestVault_EncryptFields_Idempotent(t *testing.T) {
	v := newTestVault(t)

	doc := map[string]any{"ssn": "123-45-6789", "phoneNumber": "555-0199"}
	fields := []string{"ssn", "phoneNumber"}

	once, err := v.EncryptFields(doc, fields)
	require.NoError(t, err)
	twice, err := v.EncryptFields(once, fields)
	require.NoError(t, err)

	assert.Equal(t, once, twice)

	plain, err := v.DecryptFields(twice, fields)
	require.NoError(t, err)
	assert.Equal(t, doc, plain)
}

func TestVault_EncryptFields_SealsLookalikePlaintext(t *testing.T) {
	v := newTestVault(t)
	other, err := New("Qw7#rTy2!uIo9@pAs4$dFg6&hJk8*lZx")
	require.NoError(t, err)

	foreign, err := other.Encrypt("555-0199")
	require.NoError(t, err)

	doc := map[string]any{
		"ssn":         Prefix + "00000000:s:plaintext-ssn",
		"phoneNumber": foreign,
	}
	fields := []string{"ssn", "phoneNumber"}

	out, err := v.EncryptFields(doc, fields)
	require.NoError(t, err)
	assert.NotEqual(t, doc["ssn"], out["ssn"])
	assert.NotEqual(t, doc["phoneNumber"], out["phoneNumber"])
	assert.Equal(t, true, out[EncryptedFlag])

	plain, err := v.DecryptFields(out, fields)
	require.NoError(t, err)
	assert.Equal(t, doc, plain)
}

func TestVault_EncryptFields_NoSensitiveValues(t *testing.T) {
	v := newTestVault(t)

	out, err := v.EncryptFields(map[string]any{"name": "Bob", "ssn": nil}, []string{"ssn"})
	require.NoError(t, err)

	_, flagged := out[EncryptedFlag]
	assert.False(t, flagged)
	assert.Nil(t, out["ssn"])
}

func TestVault_DecryptFields_PassesPlainValues(t *testing.T) {
	v := newTestVault(t)

	out, err := v.DecryptFields(map[string]any{"ssn": "not sealed"}, []string{"ssn"})
	require.NoError(t, err)
	assert.Equal(t, "not sealed", out["ssn"])
}

func TestVault_WithSensitiveFields(t *testing.T) {
	v, err := New(testKey, WithSensitiveFields("pin"))
	require.NoError(t, err)

	out, err := v.EncryptFields(map[string]any{"pin": "1234", "ssn": "123"}, []string{"pin", "ssn"})
	require.NoError(t, err)

	assert.True(t, IsEncrypted(out["pin"]))
	assert.Equal(t, "123", out["ssn"])
}

// ============================================================================
// Hashing, tokens, keys
// ============================================================================

func TestHash_Deterministic(t *testing.T) {
	assert.Equal(t, Hash("abc"), Hash("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Hash("abc"))
	assert.NotEqual(t, Hash("abc"), Hash("abd"))
	assert.Equal(t, Hash(map[string]any{"a": 1}), Hash(map[string]any{"a": 1}))
	assert.Len(t, Hash(12345), 64)
}

func TestGenerateSecureToken(t *testing.T) {
	for _, n := range []int{1, 7, 32, 48} {
		tok, err := GenerateSecureToken(n)
		require.NoError(t, err)
		assert.Len(t, tok, n)
	}

	a, _ := GenerateSecureToken(32)
	b, _ := GenerateSecureToken(32)
	assert.NotEqual(t, a, b)

	_, err := GenerateSecureToken(0)
	assert.Error(t, err)
}

func TestValidateKeyStrength(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "strong key", key: testKey},
		{name: "too short", key: "Ab1!Ab1!", wantErr: true},
		{name: "single class", key: strings.Repeat("abcdefgh", 5), wantErr: true},
		{name: "two classes", key: strings.Repeat("abcdEFGH", 5), wantErr: true},
		{name: "repeated character", key: strings.Repeat("aA1!", 10), wantErr: true},
		{name: "common word", key: "PasswordPasswordPassword1!xyzXYZ", wantErr: true},
		{name: "three classes", key: "correcthorseBATTERYstaple12345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKeyStrength(tt.key)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrWeakKey))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateKey_PassesValidation(t *testing.T) {
	for i := 0; i < 20; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		assert.NoError(t, ValidateKeyStrength(key))
	}
}

func TestNew_RejectsWeakKey(t *testing.T) {
	v, err := New("weak")
	assert.Nil(t, v)
	assert.True(t, errors.Is(err, ErrWeakKey))
}
